// Package messaging provides abstractions for the durable queue between the
// streamer and the processor, so neither side is coupled to a broker client.
package messaging

import (
	"context"
	"errors"
	"time"
)

// HeaderMsgID is honoured by the broker for publish-side deduplication.
const HeaderMsgID = "Nats-Msg-Id"

// Message represents a message received from the broker.
type Message struct {
	// Subject is the subject the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains message headers.
	Metadata map[string]string

	// Attempt is the 1-based delivery count reported by the broker.
	Attempt uint64

	// Timestamp is when the message was published.
	Timestamp time.Time
}

// MessageHandler processes a received message. A nil return acknowledges
// the message; an error requests redelivery unless it is Permanent.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject and returns once the broker has
	// accepted it.
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
}

// Client is a connected broker client.
type Client interface {
	Publisher

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool

	// RTT measures a round trip to the broker.
	RTT() (time.Duration, error)

	// Drain gracefully closes the connection, allowing in-flight messages to complete.
	Drain() error

	// Close releases any resources held by the client.
	Close() error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*publishOptions)

type publishOptions struct {
	headers map[string]string
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithMsgID sets the broker deduplication id.
func WithMsgID(id string) PublishOption {
	return WithHeader(HeaderMsgID, id)
}

// Headers resolves opts into a header map. Returns nil when no headers are set.
func Headers(opts ...PublishOption) map[string]string {
	o := &publishOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o.headers
}

// PermanentError marks a handler failure that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so consumers terminate the message instead of
// redelivering it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
