package memory

import (
	"context"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]domain.Cursor // keyed by program id
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]domain.Cursor),
	}
}

// Get returns the saved cursor for a program.
func (s *CursorStore) Get(_ context.Context, programID string) (*domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[programID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// Set saves the cursor.
func (s *CursorStore) Set(_ context.Context, c *domain.Cursor) error {
	if c == nil || c.ProgramID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[c.ProgramID] = *c
	return nil
}
