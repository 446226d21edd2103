package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

type flowKey struct {
	dir domain.FlowDirection
	sig string
}

// FundingStore is an in-memory implementation of storage.FundingStore.
type FundingStore struct {
	mu   sync.RWMutex
	data map[flowKey]*domain.FundingFlow
}

// NewFundingStore creates a new in-memory custodian flow store.
func NewFundingStore() *FundingStore {
	return &FundingStore{
		data: make(map[flowKey]*domain.FundingFlow),
	}
}

func validDirection(d domain.FlowDirection) bool {
	return d == domain.FlowDeposit || d == domain.FlowWithdrawal
}

// Insert adds a flow. Returns ErrDuplicateKey if the signature exists in its table.
func (s *FundingStore) Insert(_ context.Context, f *domain.FundingFlow) error {
	if f == nil || f.TxSignature == "" || !validDirection(f.Direction) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := flowKey{f.Direction, f.TxSignature}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *f
	s.data[key] = &copy
	return nil
}

// GetBySignature retrieves a flow.
func (s *FundingStore) GetBySignature(_ context.Context, dir domain.FlowDirection, sig string) (*domain.FundingFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.data[flowKey{dir, sig}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *f
	return &copy, nil
}

// Update overwrites a flow. agent_credited is never cleared.
func (s *FundingStore) Update(_ context.Context, f *domain.FundingFlow) error {
	if f == nil || f.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := flowKey{f.Direction, f.TxSignature}
	cur, ok := s.data[key]
	if !ok {
		return storage.ErrNotFound
	}
	copy := *f
	copy.ID = cur.ID
	copy.CreatedAt = cur.CreatedAt
	copy.AgentCredited = cur.AgentCredited || f.AgentCredited
	s.data[key] = &copy
	return nil
}

// MarkCredited sets agent_credited.
func (s *FundingStore) MarkCredited(_ context.Context, dir domain.FlowDirection, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.data[flowKey{dir, sig}]
	if !ok {
		return storage.ErrNotFound
	}
	f.AgentCredited = true
	return nil
}

// ListByAgent returns an agent's flows in one direction.
func (s *FundingStore) ListByAgent(_ context.Context, dir domain.FlowDirection, agentID string) ([]*domain.FundingFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FundingFlow
	for k, f := range s.data {
		if k.dir == dir && f.AgentID == agentID {
			copy := *f
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].TxSignature < result[j].TxSignature
	})
	return result, nil
}
