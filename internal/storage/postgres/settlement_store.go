package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// SettlementStore implements storage.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

const settlementColumns = `
	pool_address, epoch, belief_id,
	bd_score::text, market_prediction::text, f_long::text, f_short::text,
	r_long_before::text, r_long_after::text, r_short_before::text, r_short_after::text,
	s_scale_long_before, s_scale_long_after, s_scale_short_before, s_scale_short_after,
	tx_signature, slot, block_time, created_at, triggered`

// Insert adds a settlement. Returns ErrDuplicateKey if (pool, epoch) exists.
func (s *SettlementStore) Insert(ctx context.Context, st *domain.Settlement) error {
	query := `
		INSERT INTO settlements (
			pool_address, epoch, belief_id,
			bd_score, market_prediction, f_long, f_short,
			r_long_before, r_long_after, r_short_before, r_short_after,
			s_scale_long_before, s_scale_long_after, s_scale_short_before, s_scale_short_after,
			tx_signature, slot, block_time, created_at, triggered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := s.pool.Exec(ctx, query,
		st.PoolAddress, int64(st.Epoch), st.BeliefID,
		st.BDScore.String(), st.MarketPrediction.String(), st.FLong.String(), st.FShort.String(),
		st.RLongBefore.String(), st.RLongAfter.String(), st.RShortBefore.String(), st.RShortAfter.String(),
		orZero(st.SScaleLongBefore), orZero(st.SScaleLongAfter),
		orZero(st.SScaleShortBefore), orZero(st.SScaleShortAfter),
		st.TxSignature, int64(st.Slot), st.BlockTime, st.CreatedAt, st.Triggered,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// Get retrieves one settlement. Returns ErrNotFound if not exists.
func (s *SettlementStore) Get(ctx context.Context, pool string, epoch uint64) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE pool_address = $1 AND epoch = $2`

	st, err := scanSettlement(s.pool.QueryRow(ctx, query, pool, int64(epoch)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return st, nil
}

// ListByPool returns a pool's settlements ordered by epoch.
func (s *SettlementStore) ListByPool(ctx context.Context, pool string) ([]*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE pool_address = $1 ORDER BY epoch ASC`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var result []*domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return result, nil
}

// LatestEpoch returns the highest recorded epoch; ok is false if none.
func (s *SettlementStore) LatestEpoch(ctx context.Context, pool string) (uint64, bool, error) {
	var epoch *int64
	err := s.pool.QueryRow(ctx, `SELECT MAX(epoch) FROM settlements WHERE pool_address = $1`, pool).Scan(&epoch)
	if err != nil {
		return 0, false, fmt.Errorf("latest settlement epoch: %w", err)
	}
	if epoch == nil {
		return 0, false, nil
	}
	return uint64(*epoch), true, nil
}

// MarkTriggered sets triggered on the settlement.
func (s *SettlementStore) MarkTriggered(ctx context.Context, pool string, epoch uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements SET triggered = TRUE WHERE pool_address = $1 AND epoch = $2`,
		pool, int64(epoch))
	if err != nil {
		return fmt.Errorf("mark settlement triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSettlement(row pgx.Row) (*domain.Settlement, error) {
	var (
		st                        domain.Settlement
		epoch, slot               int64
		bd, q, fLong, fShort      string
		rLongBefore, rLongAfter   string
		rShortBefore, rShortAfter string
	)
	err := row.Scan(
		&st.PoolAddress, &epoch, &st.BeliefID,
		&bd, &q, &fLong, &fShort,
		&rLongBefore, &rLongAfter, &rShortBefore, &rShortAfter,
		&st.SScaleLongBefore, &st.SScaleLongAfter, &st.SScaleShortBefore, &st.SScaleShortAfter,
		&st.TxSignature, &slot, &st.BlockTime, &st.CreatedAt, &st.Triggered,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	st.Epoch = uint64(epoch)
	st.Slot = uint64(slot)
	st.BDScore = n.decimal(bd)
	st.MarketPrediction = n.decimal(q)
	st.FLong = n.decimal(fLong)
	st.FShort = n.decimal(fShort)
	st.RLongBefore = n.display(rLongBefore)
	st.RLongAfter = n.display(rLongAfter)
	st.RShortBefore = n.display(rShortBefore)
	st.RShortAfter = n.display(rShortAfter)
	if n.err != nil {
		return nil, n.err
	}
	return &st, nil
}
