package recordstore

import (
	"context"
	"sort"
	"sync"

	"github.com/vertical-labs/firehose/common/models"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ProcessedRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ProcessedRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *models.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Scan(_ context.Context) ([]*models.ProcessedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ProcessedRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
