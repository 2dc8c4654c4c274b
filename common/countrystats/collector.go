package countrystats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher persists accumulated counts.
type Flusher interface {
	Flush(ctx context.Context, counts map[string]int64) error
}

// Collector accumulates country counts in memory and flushes them
// periodically. Safe for concurrent use.
type Collector struct {
	flusher       Flusher
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts a collector flushing every flushInterval.
func NewCollector(flusher Flusher, flushInterval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		flusher:       flusher,
		flushInterval: flushInterval,
		logger:        logger,
		pending:       make(map[string]int64),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// Record counts one record from country.
func (c *Collector) Record(country string) {
	c.mu.Lock()
	c.pending[country]++
	c.mu.Unlock()
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			// Final flush on shutdown
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]int64)
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.flusher.Flush(ctx, batch); err != nil {
		c.logger.Error("failed to flush country stats",
			"countries", len(batch),
			"error", err,
		)
		// Merge back for the next attempt
		c.mu.Lock()
		for country, n := range batch {
			c.pending[country] += n
		}
		c.mu.Unlock()
		return
	}

	c.logger.Debug("flushed country stats", "countries", len(batch))
}

// FlushNow forces an immediate flush.
func (c *Collector) FlushNow() {
	c.flush()
}

// Stop stops the collector after a final flush.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Pending returns counts not yet flushed.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.pending))
	for country, n := range c.pending {
		out[country] = n
	}
	return out
}
