// Package recordstore persists processed records with write-once semantics.
// A conditional insert keyed by record id is the deduplication mechanism.
package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vertical-labs/firehose/common/database"
	"github.com/vertical-labs/firehose/common/models"
)

// ErrAlreadyExists is returned by Insert when the id is already stored.
var ErrAlreadyExists = errors.New("record already exists")

// DefaultTable names the Postgres table and the Redis key prefix.
const DefaultTable = "processed_records"

// DefaultPageSize is the number of rows fetched per scan page.
const DefaultPageSize = 500

// Store is a conditional-write record store.
type Store interface {
	// Insert stores rec unless its id is already present, in which case it
	// returns ErrAlreadyExists and leaves the stored record untouched.
	Insert(ctx context.Context, rec *models.ProcessedRecord) error

	// Scan returns every stored record ordered by id.
	Scan(ctx context.Context) ([]*models.ProcessedRecord, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "postgres", "redis" or "memory".
	Backend  string `mapstructure:"backend"`
	URL      string `mapstructure:"url"`
	Table    string `mapstructure:"table"`
	PageSize int    `mapstructure:"page_size"`
	// Migrate applies embedded schema migrations on open (postgres only).
	Migrate  bool              `mapstructure:"migrate"`
	Timeouts database.Timeouts `mapstructure:"timeouts"`
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	switch cfg.Backend {
	case "postgres":
		if cfg.Migrate {
			if err := Migrate(cfg.URL); err != nil {
				return nil, err
			}
		}
		s, err := NewPostgresStore(ctx, cfg.URL, cfg.Table, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		s.SetTimeouts(cfg.Timeouts)
		return s, nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.URL, cfg.Table, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		s.SetTimeouts(cfg.Timeouts)
		return s, nil
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown record store backend %q", cfg.Backend)
	}
}
