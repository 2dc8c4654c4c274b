package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/recordstore"
	"github.com/vertical-labs/firehose/processor/internal/service"
)

type fakeSource struct {
	handler  messaging.MessageHandler
	stream   string
	consumer string
	stops    int
	err      error
}

func (f *fakeSource) ConsumeMessages(_ context.Context, stream, consumer string, handler messaging.MessageHandler) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stream, f.consumer, f.handler = stream, consumer, handler
	return func() { f.stops++ }, nil
}

func (f *fakeSource) deliver(body string) error {
	return f.handler(context.Background(), &messaging.Message{
		Subject: messaging.SubjectRecordsIngested,
		Data:    []byte(body),
		Attempt: 1,
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const record = `{"data":{"id":"7","message":"hi","created_at":"2024-01-01T00:00:00Z"}}`

func TestConsumer_AcksProcessedAndDuplicate(t *testing.T) {
	src := &fakeSource{}
	svc := service.New(recordstore.NewMemoryStore(), nil, quietLogger())
	c := New(src, svc, messaging.StreamRecords, messaging.ConsumerProcessor, quietLogger())

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, messaging.StreamRecords, src.stream)
	assert.Equal(t, messaging.ConsumerProcessor, src.consumer)

	assert.NoError(t, src.deliver(record))
	assert.NoError(t, src.deliver(record))
}

func TestConsumer_MalformedIsPermanent(t *testing.T) {
	src := &fakeSource{}
	svc := service.New(recordstore.NewMemoryStore(), nil, quietLogger())
	c := New(src, svc, messaging.StreamRecords, messaging.ConsumerProcessor, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	err := src.deliver(`{"data":`)
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
}

func TestConsumer_StartStop(t *testing.T) {
	src := &fakeSource{}
	c := New(src, service.New(recordstore.NewMemoryStore(), nil, quietLogger()), "s", "c", quietLogger())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	c.Stop()
	c.Stop()
	assert.Equal(t, 1, src.stops)
}

func TestConsumer_StartError(t *testing.T) {
	src := &fakeSource{err: errors.New("stream not found")}
	c := New(src, service.New(recordstore.NewMemoryStore(), nil, quietLogger()), "s", "c", quietLogger())

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, src.err)
}
