package memory

import (
	"context"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

type beliefKey struct {
	agent  string
	belief string
}

// BeliefStore is an in-memory implementation of storage.BeliefStore.
type BeliefStore struct {
	mu   sync.RWMutex
	data map[beliefKey]*domain.BeliefSubmission
}

// NewBeliefStore creates a new in-memory belief submission store.
func NewBeliefStore() *BeliefStore {
	return &BeliefStore{
		data: make(map[beliefKey]*domain.BeliefSubmission),
	}
}

// InsertIfAbsent adds a submission unless one exists for (agent, belief).
func (s *BeliefStore) InsertIfAbsent(_ context.Context, b *domain.BeliefSubmission) (bool, error) {
	if b == nil || b.AgentID == "" || b.BeliefID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := beliefKey{b.AgentID, b.BeliefID}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	copy := *b
	s.data[key] = &copy
	return true, nil
}

// Get retrieves a submission.
func (s *BeliefStore) Get(_ context.Context, agentID, beliefID string) (*domain.BeliefSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[beliefKey{agentID, beliefID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *b
	return &copy, nil
}
