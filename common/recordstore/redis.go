package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/vertical-labs/firehose/common/database"
	"github.com/vertical-labs/firehose/common/models"
)

// RedisStore keeps one JSON value per record under "<prefix>:<id>" and uses
// SETNX for the conditional insert.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	pageSize int
	timeouts database.Timeouts
}

// NewRedisStore parses a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, redisURL, prefix string, pageSize int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, prefix, pageSize), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, pageSize int) *RedisStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &RedisStore{client: client, prefix: prefix, pageSize: pageSize}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Insert(ctx context.Context, rec *models.ProcessedRecord) error {
	ctx, cancel := s.timeouts.WriteContext(ctx)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Scan walks the keyspace with SCAN and fetches values in MGET batches.
func (s *RedisStore) Scan(ctx context.Context) ([]*models.ProcessedRecord, error) {
	ctx, cancel := s.timeouts.BulkContext(ctx)
	defer cancel()

	var (
		out    []*models.ProcessedRecord
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", int64(s.pageSize)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan records: %w", err)
		}

		if len(keys) > 0 {
			page, err := s.fetch(ctx, keys)
			if err != nil {
				return nil, err
			}
			out = append(out, page...)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) fetch(ctx context.Context, keys []string) ([]*models.ProcessedRecord, error) {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	page := make([]*models.ProcessedRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		rec := &models.ProcessedRecord{}
		if err := json.Unmarshal([]byte(str), rec); err != nil {
			return nil, fmt.Errorf("failed to decode record at %s: %w", keys[i], err)
		}
		page = append(page, rec)
	}
	return page, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.timeouts.QueryContext(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SetTimeouts overrides the per-operation deadlines.
func (s *RedisStore) SetTimeouts(t database.Timeouts) {
	s.timeouts = t.OrDefault()
}
