package postgres

import (
	"context"
	"fmt"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// BeliefStore implements storage.BeliefStore using PostgreSQL.
type BeliefStore struct {
	pool *Pool
}

// NewBeliefStore creates a new BeliefStore.
func NewBeliefStore(pool *Pool) *BeliefStore {
	return &BeliefStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BeliefStore = (*BeliefStore)(nil)

// InsertIfAbsent adds s unless (agent_id, belief_id) exists.
func (s *BeliefStore) InsertIfAbsent(ctx context.Context, b *domain.BeliefSubmission) (bool, error) {
	if b == nil || b.AgentID == "" || b.BeliefID == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO belief_submissions (
			id, agent_id, belief_id, belief, meta_prediction, epoch, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id, belief_id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.AgentID, b.BeliefID, b.Belief, b.MetaPrediction, int64(b.Epoch), b.Source, b.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert belief submission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns ErrNotFound if the agent has no submission for the belief.
func (s *BeliefStore) Get(ctx context.Context, agentID, beliefID string) (*domain.BeliefSubmission, error) {
	query := `
		SELECT id, agent_id, belief_id, belief::text, meta_prediction::text, epoch, source, created_at
		FROM belief_submissions
		WHERE agent_id = $1 AND belief_id = $2
	`

	var (
		b     domain.BeliefSubmission
		epoch int64
	)
	err := s.pool.QueryRow(ctx, query, agentID, beliefID).Scan(
		&b.ID, &b.AgentID, &b.BeliefID, &b.Belief, &b.MetaPrediction, &epoch, &b.Source, &b.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get belief submission: %w", err)
	}
	b.Epoch = uint64(epoch)
	return &b, nil
}
