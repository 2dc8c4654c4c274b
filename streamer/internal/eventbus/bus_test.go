package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/models"
)

func item(id string) models.StreamItem {
	return models.StreamItem{Data: models.StreamRecord{ID: id, CreatedAt: "2024-01-01T00:00:00Z"}}
}

func TestPublish_RegistrationOrder(t *testing.T) {
	bus := New(logging.Discard())

	var got []string
	bus.Subscribe("first", func(i models.StreamItem) { got = append(got, "first:"+i.Data.ID) })
	bus.Subscribe("second", func(i models.StreamItem) { got = append(got, "second:"+i.Data.ID) })

	bus.Publish(item("1"))
	bus.Publish(item("2"))

	assert.Equal(t, []string{"first:1", "second:1", "first:2", "second:2"}, got)
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := New(logging.Discard())
	assert.NotPanics(t, func() { bus.Publish(item("1")) })
}

func TestPublish_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := New(logging.Discard())

	var after int
	bus.Subscribe("broken", func(models.StreamItem) { panic("boom") })
	bus.Subscribe("healthy", func(models.StreamItem) { after++ })

	assert.NotPanics(t, func() { bus.Publish(item("1")) })
	assert.Equal(t, 1, after)
}

func TestSubscribe_OnlyLaterPublishes(t *testing.T) {
	bus := New(logging.Discard())
	bus.Publish(item("early"))

	var got []string
	bus.Subscribe("late", func(i models.StreamItem) { got = append(got, i.Data.ID) })
	bus.Publish(item("late"))

	assert.Equal(t, []string{"late"}, got)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	bus := New(logging.Discard())

	var calls int
	h := bus.Subscribe("s", func(models.StreamItem) { calls++ })
	other := bus.Subscribe("other", func(models.StreamItem) {})
	require.Equal(t, 2, bus.Len())

	bus.Unsubscribe(h)
	bus.Unsubscribe(h)
	bus.Unsubscribe(Handle(999))

	bus.Publish(item("1"))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, bus.Len())

	bus.Unsubscribe(other)
	assert.Equal(t, 0, bus.Len())
}

func TestUnsubscribe_FromInsideCallback(t *testing.T) {
	bus := New(logging.Discard())

	var h Handle
	var calls int
	h = bus.Subscribe("once", func(models.StreamItem) {
		calls++
		bus.Unsubscribe(h)
	})
	var tail int
	bus.Subscribe("tail", func(models.StreamItem) { tail++ })

	bus.Publish(item("1"))
	bus.Publish(item("2"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, tail)
}

func TestClose(t *testing.T) {
	bus := New(logging.Discard())

	var calls int
	bus.Subscribe("s", func(models.StreamItem) { calls++ })
	bus.Close()

	bus.Publish(item("1"))
	bus.Subscribe("after-close", func(models.StreamItem) { calls++ })
	bus.Publish(item("2"))

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New(logging.Discard())
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := bus.Subscribe("churn", func(models.StreamItem) { delivered.Add(1) })
			bus.Unsubscribe(h)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(item("x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, bus.Len())
}
