// Package seeder publishes generated records straight onto the durable
// queue, bypassing the streamer.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/models"
)

// Source yields records to publish.
type Source interface {
	Next() models.StreamItem
}

// Config controls a seeding run.
type Config struct {
	Subject  string
	Count    int
	Interval time.Duration
	// DuplicateRatio is the share of publishes that repeat an earlier record
	// under a new message id, so the processor's dedup path is exercised.
	DuplicateRatio float64
}

// Stats summarises a run.
type Stats struct {
	Published  int
	Duplicates int
	Failed     int
}

// Runner handles the seeding execution.
type Runner struct {
	pub    messaging.Publisher
	src    Source
	cfg    Config
	logger *slog.Logger
	rand   func() float64
}

func NewRunner(pub messaging.Publisher, src Source, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Subject == "" {
		cfg.Subject = messaging.SubjectRecordsIngested
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pub: pub, src: src, cfg: cfg, logger: logger, rand: rand.Float64}
}

// Run publishes cfg.Count records, stopping early if ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		sent  []models.StreamItem
	)

	r.logger.Info("starting seeder",
		slog.String("subject", r.cfg.Subject),
		slog.Int("count", r.cfg.Count),
		slog.Duration("interval", r.cfg.Interval),
		slog.Float64("duplicate_ratio", r.cfg.DuplicateRatio),
	)

	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		item := r.src.Next()
		msgID := item.Data.ID
		duplicate := len(sent) > 0 && r.rand() < r.cfg.DuplicateRatio
		if duplicate {
			item = sent[int(r.rand()*float64(len(sent)))%len(sent)]
			msgID = fmt.Sprintf("%s-dup-%d", item.Data.ID, i)
		}

		data, err := item.Marshal()
		if err != nil {
			return stats, fmt.Errorf("encode record %s: %w", item.Data.ID, err)
		}

		if err := r.pub.Publish(ctx, r.cfg.Subject, data, messaging.WithMsgID(msgID)); err != nil {
			stats.Failed++
			r.logger.Warn("publish failed", slog.String("record_id", item.Data.ID), slog.String("error", err.Error()))
		} else {
			stats.Published++
			if duplicate {
				stats.Duplicates++
			} else {
				sent = append(sent, item)
			}
		}

		if r.cfg.Interval > 0 && i < r.cfg.Count-1 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	r.logger.Info("seeding complete",
		slog.Int("published", stats.Published),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}
