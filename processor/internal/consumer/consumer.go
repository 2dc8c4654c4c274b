// Package consumer binds the record processor to the durable queue.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/processor/internal/service"
)

// Processor handles one message body.
type Processor interface {
	Process(ctx context.Context, body []byte) (*service.Result, error)
}

// Source delivers messages from a durable consumer.
type Source interface {
	ConsumeMessages(ctx context.Context, stream, consumer string, handler messaging.MessageHandler) (func(), error)
}

// Consumer pulls queued records and hands them to the processor. Ack, NAK
// and termination follow the error the processor returns.
type Consumer struct {
	source   Source
	proc     Processor
	stream   string
	consumer string
	logger   *slog.Logger

	mu   sync.Mutex
	stop func()
}

func New(source Source, proc Processor, stream, consumer string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:   source,
		proc:     proc,
		stream:   stream,
		consumer: consumer,
		logger:   logger,
	}
}

// Start begins consuming. It returns once the subscription is active.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	stop, err := c.source.ConsumeMessages(ctx, c.stream, c.consumer, c.handle)
	if err != nil {
		return fmt.Errorf("failed to consume %s/%s: %w", c.stream, c.consumer, err)
	}
	c.stop = stop
	c.logger.Info("consumer started", slog.String("stream", c.stream), slog.String("consumer", c.consumer))
	return nil
}

// Stop ends consumption. Safe to call more than once.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	c.stop()
	c.stop = nil
	c.logger.Info("consumer stopped")
}

func (c *Consumer) handle(ctx context.Context, msg *messaging.Message) error {
	result, err := c.proc.Process(ctx, msg.Data)
	if err != nil {
		level := slog.LevelWarn
		if messaging.IsPermanent(err) {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "failed to process record",
			logging.Subject(msg.Subject),
			logging.Attempt(int(msg.Attempt)),
			slog.Bool("permanent", messaging.IsPermanent(err)),
			logging.Error(err),
		)
		return err
	}

	c.logger.Debug("record processed",
		logging.RecordID(result.RecordID),
		slog.String("outcome", string(result.Outcome)),
		logging.Attempt(int(msg.Attempt)),
	)
	return nil
}
