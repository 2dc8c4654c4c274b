// Package forwarder relays every record published on the event bus to the
// durable queue.
package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/models"
	"github.com/vertical-labs/firehose/streamer/internal/eventbus"
	"github.com/vertical-labs/firehose/streamer/internal/metrics"
)

// Bus is the subset of the event bus the forwarder needs.
type Bus interface {
	Subscribe(name string, fn eventbus.Callback) eventbus.Handle
	Unsubscribe(h eventbus.Handle)
}

// Config tunes the forwarder.
type Config struct {
	Subject        string        `mapstructure:"subject"`
	QueueSize      int           `mapstructure:"queue_size"`
	Workers        int           `mapstructure:"workers"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// DefaultConfig publishes to the ingested-records subject with one worker.
func DefaultConfig() Config {
	return Config{
		Subject:        messaging.SubjectRecordsIngested,
		QueueSize:      10000,
		Workers:        1,
		PublishTimeout: 5 * time.Second,
	}
}

// Forwarder buffers bus records so a slow broker never blocks the stream
// reader. When the buffer is full new records are dropped and counted.
type Forwarder struct {
	bus    Bus
	pub    messaging.Publisher
	cfg    Config
	logger *slog.Logger

	queue  chan models.StreamItem
	handle eventbus.Handle
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// New creates a forwarder. Zero config values fall back to DefaultConfig.
func New(bus Bus, pub messaging.Publisher, cfg Config, logger *slog.Logger) *Forwarder {
	def := DefaultConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics.ForwardQueueCapacity.Set(float64(cfg.QueueSize))

	return &Forwarder{
		bus:    bus,
		pub:    pub,
		cfg:    cfg,
		logger: logger.With(slog.String(logging.FieldComponent, "forwarder")),
		queue:  make(chan models.StreamItem, cfg.QueueSize),
	}
}

// Start subscribes to the bus and launches the publish workers.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.stopped {
		return
	}
	f.started = true

	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	f.handle = f.bus.Subscribe("queue-forwarder", f.enqueue)
	f.logger.Info("forwarding records", logging.Subject(f.cfg.Subject))
}

func (f *Forwarder) enqueue(item models.StreamItem) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		return
	}

	select {
	case f.queue <- item:
		metrics.ForwardQueueDepth.Inc()
	default:
		metrics.ForwardedTotal.WithLabelValues("dropped").Inc()
		f.logger.Warn("forward queue full, dropping record", logging.RecordID(item.Data.ID))
	}
}

func (f *Forwarder) worker() {
	defer f.wg.Done()
	for item := range f.queue {
		metrics.ForwardQueueDepth.Dec()
		f.forward(item)
	}
}

func (f *Forwarder) forward(item models.StreamItem) {
	data, err := item.Marshal()
	if err != nil {
		metrics.ForwardedTotal.WithLabelValues("error").Inc()
		f.logger.Error("failed to encode record", logging.RecordID(item.Data.ID), logging.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err = f.pub.Publish(ctx, f.cfg.Subject, data, messaging.WithMsgID(item.Data.ID))
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ForwardedTotal.WithLabelValues("error").Inc()
		f.logger.Error("failed to send record to queue",
			logging.RecordID(item.Data.ID), logging.Subject(f.cfg.Subject), logging.Error(err))
		return
	}
	metrics.ForwardedTotal.WithLabelValues("sent").Inc()
	f.logger.Debug("record sent to queue", logging.RecordID(item.Data.ID))
}

// Stop unsubscribes, then waits for queued records to be published or for
// ctx to expire.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	wasStarted := f.started
	f.mu.Unlock()

	if !wasStarted {
		return nil
	}
	f.bus.Unsubscribe(f.handle)
	close(f.queue)

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("forwarder: records still queued at shutdown"), ctx.Err())
	}
}
