package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vertical-labs/firehose/common/messaging"
)

// JetStreamClient publishes and consumes through JetStream so records survive
// restarts of either side of the queue.
type JetStreamClient struct {
	*Client
	js       jetstream.JetStream
	nakDelay time.Duration
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name     string
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64

	// Duplicates is the window in which Nats-Msg-Id values are deduplicated.
	Duplicates time.Duration

	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ConsumerConfig defines a durable JetStream consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before giving up.
	MaxDeliver int

	MaxAckPending int
}

// RecordsStream holds every record read from the upstream until the
// processor acknowledges it.
func RecordsStream() StreamConfig {
	return StreamConfig{
		Name:       messaging.StreamRecords,
		Subjects:   []string{messaging.SubjectRecordsWildcard},
		MaxAge:     24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024,
		MaxMsgs:    1_000_000,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DefaultConsumerConfig returns sensible defaults for a consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nakDelay := cfg.NakDelay
	if nakDelay <= 0 {
		nakDelay = 5 * time.Second
	}

	return &JetStreamClient{Client: client, js: js, nakDelay: nakDelay}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// Publish stores data in the stream bound to subject and waits for the
// server acknowledgement.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  toHeader(messaging.Headers(opts...)),
	}
	ack, err := c.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if ack.Duplicate {
		c.logger.Debug("broker dropped duplicate publish",
			"subject", subject, "stream", ack.Stream, "seq", ack.Sequence)
	}
	return nil
}

// ConsumeMessages runs handler for every message on the durable consumer.
// A nil return acks, a permanent error terminates the message, anything
// else naks it with the configured delay. The returned func stops consuming;
// it returns once in-flight handlers have settled, and the handler context is
// cancelled only after that.
func (c *JetStreamClient) ConsumeMessages(ctx context.Context, streamName, consumerName string, handler messaging.MessageHandler) (func(), error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
		}
		if meta, err := msg.Metadata(); err == nil {
			m.Attempt = meta.NumDelivered
			m.Timestamp = meta.Timestamp
		}
		if headers := msg.Headers(); headers != nil {
			m.Metadata = make(map[string]string, len(headers))
			for k := range headers {
				m.Metadata[k] = headers.Get(k)
			}
		}

		c.settle(msg, handler(consumeCtx, m))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return stopAfterDrain(cons, cancel), nil
}

// drainer is the part of jetstream.ConsumeContext used on shutdown.
type drainer interface {
	Drain()
	Closed() <-chan struct{}
}

func stopAfterDrain(cons drainer, cancel context.CancelFunc) func() {
	return func() {
		cons.Drain()
		<-cons.Closed()
		cancel()
	}
}

func (c *JetStreamClient) settle(msg jetstream.Msg, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case messaging.IsPermanent(err):
		c.logger.Warn("terminating message", "subject", msg.Subject(), "error", err.Error())
		ackErr = msg.Term()
	default:
		ackErr = msg.NakWithDelay(c.nakDelay)
	}
	if ackErr != nil && !errors.Is(ackErr, nats.ErrConnectionClosed) {
		c.logger.Warn("failed to settle message", "subject", msg.Subject(), "error", ackErr.Error())
	}
}
