package postgres

import (
	"context"
	"fmt"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns ErrNotFound if no cursor has been saved for the program.
func (s *CursorStore) Get(ctx context.Context, programID string) (*domain.Cursor, error) {
	query := `
		SELECT program_id, last_signature, last_slot, updated_at
		FROM indexer_cursors
		WHERE program_id = $1
	`

	var (
		c    domain.Cursor
		slot int64
	)
	err := s.pool.QueryRow(ctx, query, programID).Scan(&c.ProgramID, &c.LastSignature, &slot, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	c.LastSlot = uint64(slot)
	return &c, nil
}

// Set saves the cursor.
func (s *CursorStore) Set(ctx context.Context, c *domain.Cursor) error {
	if c == nil || c.ProgramID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO indexer_cursors (program_id, last_signature, last_slot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (program_id) DO UPDATE SET
			last_signature = EXCLUDED.last_signature,
			last_slot = EXCLUDED.last_slot,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, c.ProgramID, c.LastSignature, int64(c.LastSlot), c.UpdatedAt); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
