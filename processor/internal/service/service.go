// Package service deduplicates queued records and enriches new ones with
// their origin country.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/models"
	"github.com/vertical-labs/firehose/common/recordstore"
	"github.com/vertical-labs/firehose/processor/internal/metrics"
)

// UnknownCountry is recorded when a record has no coordinates or the
// lookup fails.
const UnknownCountry = "unknown"

// Outcome of persisting one record.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeError     Outcome = "error"
)

// Result describes a processed message.
type Result struct {
	RecordID string
	Outcome  Outcome
	// Country is set only for OutcomeSaved.
	Country string
}

// Inserter is the write side of the record store.
type Inserter interface {
	Insert(ctx context.Context, rec *models.ProcessedRecord) error
}

// CountryResolver maps coordinates to a country name.
type CountryResolver interface {
	ResolveCountry(ctx context.Context, lat, long float64) (string, error)
}

// CountryRecorder tallies the origin country of each saved record.
type CountryRecorder interface {
	Record(country string)
}

type Service struct {
	store     Inserter
	geo       CountryResolver
	countries CountryRecorder
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithCountryRecorder sends every saved record's country to r.
func WithCountryRecorder(r CountryRecorder) Option {
	return func(s *Service) { s.countries = r }
}

// New creates a Service. A nil geo resolver records every country as unknown.
func New(store Inserter, geo CountryResolver, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, geo: geo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process handles one queue message body. A malformed body yields a
// permanent error; a store failure yields a retryable one. Duplicates are
// not an error and skip enrichment.
func (s *Service) Process(ctx context.Context, body []byte) (*Result, error) {
	item, err := models.ParseStreamItem(body)
	if err != nil {
		metrics.RecordsProcessed.WithLabelValues("invalid").Inc()
		return nil, messaging.Permanent(fmt.Errorf("parse record: %w", err))
	}

	result := &Result{RecordID: item.Data.ID}
	rec, err := models.NewProcessedRecord(item, body, s.now())
	if err != nil {
		metrics.RecordsProcessed.WithLabelValues("invalid").Inc()
		return nil, messaging.Permanent(fmt.Errorf("build record %s: %w", result.RecordID, err))
	}

	start := time.Now()
	err = s.store.Insert(ctx, rec)
	metrics.StoreDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, recordstore.ErrAlreadyExists):
		result.Outcome = OutcomeDuplicate
		metrics.RecordsProcessed.WithLabelValues(string(result.Outcome)).Inc()
		s.logger.DebugContext(ctx, "duplicate record skipped", logging.RecordID(result.RecordID))
		return result, nil
	case err != nil:
		result.Outcome = OutcomeError
		metrics.RecordsProcessed.WithLabelValues(string(result.Outcome)).Inc()
		return result, fmt.Errorf("store record %s: %w", result.RecordID, err)
	}

	result.Outcome = OutcomeSaved
	result.Country = s.resolveCountry(ctx, item)
	metrics.RecordsProcessed.WithLabelValues(string(result.Outcome)).Inc()

	// A lookup cut short by shutdown says nothing about the record's origin
	if ctx.Err() != nil {
		s.logger.InfoContext(ctx, "country lookup interrupted, origin not tallied",
			logging.RecordID(result.RecordID))
		return result, nil
	}

	s.logger.InfoContext(ctx, "Capturing record origin country for metrics",
		logging.RecordID(result.RecordID),
		logging.Country(result.Country),
	)
	metrics.OriginCountry.WithLabelValues(result.Country).Inc()
	if s.countries != nil {
		s.countries.Record(result.Country)
	}

	return result, nil
}

func (s *Service) resolveCountry(ctx context.Context, item models.StreamItem) string {
	lat, long, ok := item.Data.LatLong()
	if !ok || s.geo == nil {
		return UnknownCountry
	}

	country, err := s.geo.ResolveCountry(ctx, lat, long)
	if err != nil {
		if ctx.Err() != nil {
			return UnknownCountry
		}
		metrics.EnrichmentErrors.Inc()
		s.logger.WarnContext(ctx, "country lookup failed",
			logging.RecordID(item.Data.ID),
			logging.Error(err),
		)
		return UnknownCountry
	}
	return country
}
