package recordstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vertical-labs/firehose/common/database"
	"github.com/vertical-labs/firehose/common/models"
)

// PostgresStore implements Store on a single Postgres table.
type PostgresStore struct {
	pool     *pgxpool.Pool
	table    string
	pageSize int
	timeouts database.Timeouts
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, connString, table string, pageSize int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool:     pool,
		table:    pgx.Identifier{table}.Sanitize(),
		pageSize: pageSize,
	}, nil
}

// Insert relies on ON CONFLICT DO NOTHING; zero affected rows means the id
// was already present.
func (s *PostgresStore) Insert(ctx context.Context, rec *models.ProcessedRecord) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO ` + s.table + ` (record_id, date_bucket, raw, processed_at)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (record_id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query, rec.ID, rec.DateBucket, []byte(rec.Raw), rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Scan pages through the table by record id.
func (s *PostgresStore) Scan(ctx context.Context) ([]*models.ProcessedRecord, error) {
	ctx, cancel := s.timeouts.BulkContext(ctx)
	defer cancel()

	query := `
		SELECT record_id, date_bucket::text, raw, processed_at
		FROM ` + s.table + `
		WHERE record_id > $1
		ORDER BY record_id
		LIMIT $2
	`

	var (
		out   []*models.ProcessedRecord
		after string
	)
	for {
		page, err := s.scanPage(ctx, query, after)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < s.pageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (s *PostgresStore) scanPage(ctx context.Context, query, after string) ([]*models.ProcessedRecord, error) {
	rows, err := s.pool.Query(ctx, query, after, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	page := make([]*models.ProcessedRecord, 0, s.pageSize)
	for rows.Next() {
		rec := &models.ProcessedRecord{}
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.DateBucket, &raw, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to read record row: %w", err)
		}
		rec.Raw = raw
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SetTimeouts overrides the per-operation deadlines.
func (s *PostgresStore) SetTimeouts(t database.Timeouts) {
	s.timeouts = t.OrDefault()
}
