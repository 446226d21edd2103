package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// RelevanceStore is an in-memory implementation of storage.RelevanceStore.
type RelevanceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ImpliedRelevance // keyed by event_ref
}

// NewRelevanceStore creates a new in-memory relevance history.
func NewRelevanceStore() *RelevanceStore {
	return &RelevanceStore{
		data: make(map[string]*domain.ImpliedRelevance),
	}
}

// Upsert inserts a new entry or lets an indexer entry replace a server one.
func (s *RelevanceStore) Upsert(_ context.Context, r *domain.ImpliedRelevance) (bool, error) {
	if r == nil || r.EventRef == "" || !r.RecordedBy.IsValid() {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, exists := s.data[r.EventRef]; exists {
		if cur.RecordedBy != domain.RecordedByServer || r.RecordedBy != domain.RecordedByIndexer {
			return false, nil
		}
	}
	copy := *r
	s.data[r.EventRef] = &copy
	return true, nil
}

// Get retrieves an entry by event reference.
func (s *RelevanceStore) Get(_ context.Context, eventRef string) (*domain.ImpliedRelevance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[eventRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

// ListByPool returns a pool's history ordered by recorded_at.
func (s *RelevanceStore) ListByPool(_ context.Context, pool string) ([]*domain.ImpliedRelevance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ImpliedRelevance
	for _, r := range s.data {
		if r.PoolAddress == pool {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RecordedAt != result[j].RecordedAt {
			return result[i].RecordedAt < result[j].RecordedAt
		}
		return result[i].EventRef < result[j].EventRef
	})
	return result, nil
}
