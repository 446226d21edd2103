package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

type settlementKey struct {
	pool  string
	epoch uint64
}

// SettlementStore is an in-memory implementation of storage.SettlementStore.
type SettlementStore struct {
	mu   sync.RWMutex
	data map[settlementKey]*domain.Settlement
}

// NewSettlementStore creates a new in-memory settlement store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		data: make(map[settlementKey]*domain.Settlement),
	}
}

// Insert adds a settlement. Returns ErrDuplicateKey if (pool, epoch) exists.
func (s *SettlementStore) Insert(_ context.Context, st *domain.Settlement) error {
	if st == nil || st.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := settlementKey{st.PoolAddress, st.Epoch}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *st
	s.data[key] = &copy
	return nil
}

// Get retrieves one settlement.
func (s *SettlementStore) Get(_ context.Context, pool string, epoch uint64) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[settlementKey{pool, epoch}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *st
	return &copy, nil
}

// ListByPool returns a pool's settlements ordered by epoch.
func (s *SettlementStore) ListByPool(_ context.Context, pool string) ([]*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Settlement
	for k, st := range s.data {
		if k.pool == pool {
			copy := *st
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Epoch < result[j].Epoch })
	return result, nil
}

// LatestEpoch returns the highest recorded epoch of a pool.
func (s *SettlementStore) LatestEpoch(_ context.Context, pool string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest uint64
		found  bool
	)
	for k := range s.data {
		if k.pool == pool && (!found || k.epoch > latest) {
			latest, found = k.epoch, true
		}
	}
	return latest, found, nil
}

// MarkTriggered sets Triggered on the settlement.
func (s *SettlementStore) MarkTriggered(_ context.Context, pool string, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.data[settlementKey{pool, epoch}]
	if !ok {
		return storage.ErrNotFound
	}
	st.Triggered = true
	return nil
}
