package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"webrag/internal/adapter/store"
	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.KnowledgeStore = (*MemoryStore)(nil)

// MemoryStore is a process-local knowledge store. Nothing survives Close.
type MemoryStore struct {
	mu       sync.RWMutex
	name     string
	dim      int
	distance domain.Distance
	records  []domain.EmbeddedRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dim int, distance domain.Distance) error {
	if name == "" || dim <= 0 || !distance.Valid() {
		return fmt.Errorf("%w: collection %q dim=%d distance=%q", domain.ErrInvalidInput, name, dim, distance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name != "" {
		if s.name != name {
			return fmt.Errorf("memory store already holds collection %q", s.name)
		}
		if s.dim != dim || s.distance != distance {
			return fmt.Errorf("%w: collection %q has dim=%d distance=%q, requested dim=%d distance=%q",
				domain.ErrStoreSchemaMismatch, name, s.dim, s.distance, dim, distance)
		}
		return nil
	}

	s.name, s.dim, s.distance = name, dim, distance
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, records []domain.EmbeddedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return fmt.Errorf("memory store: no collection")
	}
	for _, r := range records {
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
				domain.ErrStoreSchemaMismatch, s.dim, len(r.Vector))
		}
	}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.records = append(s.records, r)
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, k int) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.name == "" {
		return nil, fmt.Errorf("memory store: no collection")
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d",
			domain.ErrStoreSchemaMismatch, s.dim, len(vector))
	}
	return store.TopK(s.distance, vector, s.records, k), nil
}

func (s *MemoryStore) HasURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Source.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasContentHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Source.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Records returns a copy of everything stored, in insertion order.
func (s *MemoryStore) Records() []domain.EmbeddedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmbeddedRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}
