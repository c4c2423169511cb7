package store

import (
	"context"
	"sort"
	"sync"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.IntentRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.IntentRecord)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.IntentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, rec *models.IntentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Intent.ID]; ok {
		return ErrExists
	}
	rec.Version = 1
	s.records[rec.Intent.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expectedVersion int64, rec *models.IntentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.Intent.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}
	rec.Version = expectedVersion + 1
	s.records[rec.Intent.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*models.IntentRecord, error) {
	s.mu.RLock()
	out := make([]*models.IntentRecord, 0, len(s.records))
	for _, rec := range s.records {
		if opts.matches(rec.Status) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].Intent.ID < out[j].Intent.ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
