package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by address
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// Insert adds a new pool. Returns ErrDuplicateKey if address exists.
func (s *PoolStore) Insert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.Address]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *p
	s.data[p.Address] = &copy
	return nil
}

// Get retrieves a pool by address.
func (s *PoolStore) Get(_ context.Context, address string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// List returns all pools ordered by address.
func (s *PoolStore) List(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0, len(s.data))
	for _, p := range s.data {
		copy := *p
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

// Update overwrites identity, curve and provenance columns.
func (s *PoolStore) Update(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[p.Address]
	if !ok {
		return storage.ErrNotFound
	}
	cur.BeliefID = p.BeliefID
	cur.Deployer = p.Deployer
	cur.F = p.F
	cur.BetaNum = p.BetaNum
	cur.BetaDen = p.BetaDen
	cur.RecordedBy = p.RecordedBy
	cur.Confirmed = p.Confirmed
	cur.UpdatedAt = p.UpdatedAt
	return nil
}

// ApplySnapshot writes the snapshot unless the stored one is from a later slot.
func (s *PoolStore) ApplySnapshot(_ context.Context, address string, snap domain.PoolSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[address]
	if !ok {
		return false, storage.ErrNotFound
	}
	if snap.LastSyncedSlot < cur.LastSyncedSlot {
		return false, nil
	}
	if snap.CurrentEpoch < cur.CurrentEpoch {
		snap.CurrentEpoch = cur.CurrentEpoch
	}
	cur.PoolSnapshot = snap
	return true, nil
}

// AdvanceEpoch raises current_epoch without the slot guard.
func (s *PoolStore) AdvanceEpoch(_ context.Context, address string, epoch uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[address]
	if !ok {
		return false, storage.ErrNotFound
	}
	if epoch <= cur.CurrentEpoch {
		return false, nil
	}
	cur.CurrentEpoch = epoch
	return true, nil
}

// SetVolume overwrites total_volume.
func (s *PoolStore) SetVolume(_ context.Context, address string, v units.DisplayAmount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[address]
	if !ok {
		return storage.ErrNotFound
	}
	cur.TotalVolume = v
	return nil
}
