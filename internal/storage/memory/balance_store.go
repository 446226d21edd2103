package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

type balanceKey struct {
	agent string
	pool  string
	side  domain.Side
}

// BalanceStore is an in-memory implementation of storage.BalanceStore.
type BalanceStore struct {
	mu   sync.RWMutex
	data map[balanceKey]*domain.PoolBalance
}

// NewBalanceStore creates a new in-memory position store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		data: make(map[balanceKey]*domain.PoolBalance),
	}
}

// Get retrieves one position.
func (s *BalanceStore) Get(_ context.Context, agentID, pool string, side domain.Side) (*domain.PoolBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[balanceKey{agentID, pool, side}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *b
	return &copy, nil
}

// Upsert writes a position.
func (s *BalanceStore) Upsert(_ context.Context, b *domain.PoolBalance) error {
	if b == nil || b.AgentID == "" || b.PoolAddress == "" || !b.Side.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *b
	s.data[balanceKey{b.AgentID, b.PoolAddress, b.Side}] = &copy
	return nil
}

// ListByAgent returns every position of an agent.
func (s *BalanceStore) ListByAgent(_ context.Context, agentID string) ([]*domain.PoolBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PoolBalance
	for k, b := range s.data {
		if k.agent == agentID {
			copy := *b
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PoolAddress != result[j].PoolAddress {
			return result[i].PoolAddress < result[j].PoolAddress
		}
		return result[i].Side < result[j].Side
	})
	return result, nil
}

// SumLocks returns the sum of belief_lock over an agent's positions.
func (s *BalanceStore) SumLocks(ctx context.Context, agentID string) (units.AtomicAmount, error) {
	balances, _ := s.ListByAgent(ctx, agentID)
	var sum units.AtomicAmount
	for _, b := range balances {
		sum = sum.Add(b.BeliefLock)
	}
	return sum, nil
}
