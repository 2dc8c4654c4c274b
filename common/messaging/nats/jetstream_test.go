package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertical-labs/firehose/common/messaging"
)

func TestRecordsStream(t *testing.T) {
	cfg := RecordsStream()

	assert.Equal(t, messaging.StreamRecords, cfg.Name)
	assert.Equal(t, []string{messaging.SubjectRecordsWildcard}, cfg.Subjects)
	assert.Equal(t, jetstream.WorkQueuePolicy, cfg.Retention)
	assert.Equal(t, jetstream.FileStorage, cfg.Storage)
	assert.Positive(t, cfg.Duplicates)
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig(messaging.ConsumerProcessor, messaging.SubjectRecordsIngested)

	assert.Equal(t, messaging.ConsumerProcessor, cfg.Name)
	assert.Equal(t, messaging.SubjectRecordsIngested, cfg.FilterSubject)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Equal(t, 5, cfg.MaxDeliver)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NakDelay)
}

func TestToHeader(t *testing.T) {
	assert.Nil(t, toHeader(nil))

	h := toHeader(messaging.Headers(messaging.WithMsgID("abc")))
	assert.Equal(t, "abc", h.Get(messaging.HeaderMsgID))
}

// inFlightConsumer simulates a handler that is still running when Drain is
// called and records whether its context was live when it finished.
type inFlightConsumer struct {
	ctx       context.Context
	closed    chan struct{}
	ctxErrAt  error
	drainedAt time.Time
}

func (c *inFlightConsumer) Drain() {
	c.drainedAt = time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.ctxErrAt = c.ctx.Err()
		close(c.closed)
	}()
}

func (c *inFlightConsumer) Closed() <-chan struct{} { return c.closed }

func TestStopAfterDrain_HandlerContextOutlivesDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cons := &inFlightConsumer{ctx: ctx, closed: make(chan struct{})}

	stopAfterDrain(cons, cancel)()

	require.False(t, cons.drainedAt.IsZero())
	assert.NoError(t, cons.ctxErrAt)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
