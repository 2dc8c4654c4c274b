// Package eventbus fans stream records out to in-process subscribers.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vertical-labs/firehose/common/models"
)

// Callback receives each published record.
type Callback func(item models.StreamItem)

// Handle identifies a subscription.
type Handle uint64

type subscriber struct {
	handle Handle
	name   string
	fn     Callback
}

// Bus delivers every published record to all current subscribers, in
// registration order, on the publisher's goroutine.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []subscriber
	nextID Handle
	closed bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With(slog.String("component", "eventbus"))}
}

// Subscribe registers fn for all subsequent publishes. name is used in logs.
func (b *Bus) Subscribe(name string, fn Callback) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	h := b.nextID
	if b.closed {
		return h
	}
	b.subs = append(b.subs, subscriber{handle: h, name: name, fn: fn})
	return h
}

// Unsubscribe removes h. Unknown or already removed handles are ignored.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.handle == h {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers item to a snapshot of the current subscribers. A
// subscriber that panics is logged and skipped; the rest still receive item.
func (b *Bus) Publish(item models.StreamItem) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, item)
	}
}

func (b *Bus) deliver(s subscriber, item models.StreamItem) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.String("subscriber", s.name),
				slog.String("record_id", item.Data.ID),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	s.fn(item)
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber. Later publishes reach no one and later
// subscribes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.closed = true
}
