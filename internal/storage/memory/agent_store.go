package memory

import (
	"context"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// AgentStore is an in-memory implementation of storage.AgentStore.
type AgentStore struct {
	mu          sync.RWMutex
	data        map[string]*domain.Agent // keyed by id
	byWallet    map[string]string        // wallet -> id
	adjustments map[string]domain.StakeAdjustment
}

// NewAgentStore creates a new in-memory agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		data:        make(map[string]*domain.Agent),
		byWallet:    make(map[string]string),
		adjustments: make(map[string]domain.StakeAdjustment),
	}
}

// Insert adds an agent.
func (s *AgentStore) Insert(_ context.Context, a *domain.Agent) error {
	if a == nil || a.ID == "" || a.Wallet == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byWallet[a.Wallet]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *a
	s.data[a.ID] = &copy
	s.byWallet[a.Wallet] = a.ID
	return nil
}

// Get retrieves an agent by id.
func (s *AgentStore) Get(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

// GetByWallet retrieves an agent by wallet.
func (s *AgentStore) GetByWallet(ctx context.Context, wallet string) (*domain.Agent, error) {
	s.mu.RLock()
	id, ok := s.byWallet[wallet]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Get(ctx, id)
}

// ApplyAdjustment adds adj.Delta to custodian_balance once per source key.
func (s *AgentStore) ApplyAdjustment(_ context.Context, adj *domain.StakeAdjustment) (bool, error) {
	if adj == nil || adj.SourceKey == "" || adj.AgentID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[adj.AgentID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, applied := s.adjustments[adj.SourceKey]; applied {
		return false, nil
	}
	s.adjustments[adj.SourceKey] = *adj
	a.CustodianBalance = a.CustodianBalance.Add(adj.Delta)
	a.UpdatedAt = adj.CreatedAt
	return true, nil
}

// SetTotalStake overwrites total_stake.
func (s *AgentStore) SetTotalStake(_ context.Context, agentID string, v units.AtomicAmount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[agentID]
	if !ok {
		return storage.ErrNotFound
	}
	a.TotalStake = v
	return nil
}
