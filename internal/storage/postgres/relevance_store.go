package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// RelevanceStore implements storage.RelevanceStore using PostgreSQL.
type RelevanceStore struct {
	pool *Pool
}

// NewRelevanceStore creates a new RelevanceStore.
func NewRelevanceStore(pool *Pool) *RelevanceStore {
	return &RelevanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RelevanceStore = (*RelevanceStore)(nil)

const relevanceColumns = `
	event_ref, pool_address, belief_id, relevance::text, r_long::text, r_short::text,
	event_type, recorded_by, recorded_at`

// Upsert inserts r, or replaces a server row with an indexer row. Every
// other conflict is a no-op.
func (s *RelevanceStore) Upsert(ctx context.Context, r *domain.ImpliedRelevance) (bool, error) {
	if r == nil || r.EventRef == "" || !r.RecordedBy.IsValid() {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO implied_relevance_history (
			event_ref, pool_address, belief_id, relevance, r_long, r_short,
			event_type, recorded_by, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_ref) DO UPDATE SET
			pool_address = EXCLUDED.pool_address,
			belief_id = EXCLUDED.belief_id,
			relevance = EXCLUDED.relevance,
			r_long = EXCLUDED.r_long,
			r_short = EXCLUDED.r_short,
			event_type = EXCLUDED.event_type,
			recorded_by = EXCLUDED.recorded_by,
			recorded_at = EXCLUDED.recorded_at
		WHERE implied_relevance_history.recorded_by = 'server'
			AND EXCLUDED.recorded_by = 'indexer'
	`

	tag, err := s.pool.Exec(ctx, query,
		r.EventRef, r.PoolAddress, r.BeliefID, r.Relevance.String(), r.RLong.String(), r.RShort.String(),
		string(r.EventType), string(r.RecordedBy), r.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert implied relevance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get retrieves an entry by event reference. Returns ErrNotFound if not exists.
func (s *RelevanceStore) Get(ctx context.Context, eventRef string) (*domain.ImpliedRelevance, error) {
	query := `SELECT ` + relevanceColumns + ` FROM implied_relevance_history WHERE event_ref = $1`

	r, err := scanRelevance(s.pool.QueryRow(ctx, query, eventRef))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get implied relevance: %w", err)
	}
	return r, nil
}

// ListByPool returns a pool's history ordered by recorded_at.
func (s *RelevanceStore) ListByPool(ctx context.Context, pool string) ([]*domain.ImpliedRelevance, error) {
	query := `SELECT ` + relevanceColumns + ` FROM implied_relevance_history
		WHERE pool_address = $1 ORDER BY recorded_at ASC, event_ref ASC`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("query implied relevance: %w", err)
	}
	defer rows.Close()

	var result []*domain.ImpliedRelevance
	for rows.Next() {
		r, err := scanRelevance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan implied relevance: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate implied relevance: %w", err)
	}
	return result, nil
}

func scanRelevance(row pgx.Row) (*domain.ImpliedRelevance, error) {
	var (
		r                        domain.ImpliedRelevance
		relevance, rLong, rShort string
		eventType, source        string
	)
	err := row.Scan(
		&r.EventRef, &r.PoolAddress, &r.BeliefID, &relevance, &rLong, &rShort,
		&eventType, &source, &r.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	r.Relevance = n.decimal(relevance)
	r.RLong = n.display(rLong)
	r.RShort = n.display(rShort)
	r.EventType = domain.RelevanceEventType(eventType)
	r.RecordedBy = domain.RecordedBy(source)
	if n.err != nil {
		return nil, n.err
	}
	return &r, nil
}
