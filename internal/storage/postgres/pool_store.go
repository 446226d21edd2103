package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

const poolColumns = `
	address, belief_id, deployer, f, beta_num, beta_den,
	s_long_supply::text, s_short_supply::text, r_long::text, r_short::text, vault_balance::text,
	sqrt_price_long_x96, sqrt_price_short_x96, price_long::text, price_short::text,
	current_epoch, last_synced_slot, total_volume::text,
	recorded_by, confirmed, created_at, updated_at`

// Insert adds a new pool. Returns ErrDuplicateKey if address exists.
func (s *PoolStore) Insert(ctx context.Context, p *domain.Pool) error {
	query := `
		INSERT INTO pools (
			address, belief_id, deployer, f, beta_num, beta_den,
			s_long_supply, s_short_supply, r_long, r_short, vault_balance,
			sqrt_price_long_x96, sqrt_price_short_x96, price_long, price_short,
			current_epoch, last_synced_slot, total_volume,
			recorded_by, confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	snap := p.PoolSnapshot
	_, err := s.pool.Exec(ctx, query,
		p.Address, p.BeliefID, p.Deployer, int32(p.F), int64(p.BetaNum), int64(p.BetaDen),
		snap.SLongSupply.String(), snap.SShortSupply.String(),
		snap.RLong.String(), snap.RShort.String(), snap.VaultBalance.String(),
		orZero(snap.SqrtPriceLongX96), orZero(snap.SqrtPriceShortX96),
		snap.PriceLong.String(), snap.PriceShort.String(),
		int64(snap.CurrentEpoch), int64(snap.LastSyncedSlot), p.TotalVolume.String(),
		string(p.RecordedBy), p.Confirmed, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// Get retrieves a pool by address. Returns ErrNotFound if not exists.
func (s *PoolStore) Get(ctx context.Context, address string) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1`

	p, err := scanPool(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// List returns all pools ordered by address.
func (s *PoolStore) List(ctx context.Context) ([]*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools ORDER BY address ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var result []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return result, nil
}

// Update overwrites identity, curve and provenance columns.
func (s *PoolStore) Update(ctx context.Context, p *domain.Pool) error {
	query := `
		UPDATE pools SET
			belief_id = $2, deployer = $3, f = $4, beta_num = $5, beta_den = $6,
			recorded_by = $7, confirmed = $8, updated_at = $9
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.Address, p.BeliefID, p.Deployer, int32(p.F), int64(p.BetaNum), int64(p.BetaDen),
		string(p.RecordedBy), p.Confirmed, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplySnapshot writes snap unless the stored row was synced at a later slot.
// The slot guard and the epoch GREATEST run in the UPDATE itself so two
// concurrent writers cannot interleave a read and a write.
func (s *PoolStore) ApplySnapshot(ctx context.Context, address string, snap domain.PoolSnapshot) (applied bool, err error) {
	defer func(start time.Time) {
		observability.RecordDBQuery("postgres", "pool_apply_snapshot", time.Since(start).Seconds(), err)
	}(time.Now())

	query := `
		UPDATE pools SET
			s_long_supply = $2, s_short_supply = $3, r_long = $4, r_short = $5, vault_balance = $6,
			sqrt_price_long_x96 = $7, sqrt_price_short_x96 = $8, price_long = $9, price_short = $10,
			current_epoch = GREATEST(current_epoch, $11), last_synced_slot = $12,
			updated_at = $13
		WHERE address = $1 AND last_synced_slot <= $12
	`

	tag, err := s.pool.Exec(ctx, query,
		address,
		snap.SLongSupply.String(), snap.SShortSupply.String(),
		snap.RLong.String(), snap.RShort.String(), snap.VaultBalance.String(),
		orZero(snap.SqrtPriceLongX96), orZero(snap.SqrtPriceShortX96),
		snap.PriceLong.String(), snap.PriceShort.String(),
		int64(snap.CurrentEpoch), int64(snap.LastSyncedSlot),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("apply pool snapshot: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pools WHERE address = $1)`, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pool: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// AdvanceEpoch raises current_epoch without the last_synced_slot guard, so a
// settlement recorded after a later-slot trade still moves the epoch.
func (s *PoolStore) AdvanceEpoch(ctx context.Context, address string, epoch uint64) (advanced bool, err error) {
	defer func(start time.Time) {
		observability.RecordDBQuery("postgres", "pool_advance_epoch", time.Since(start).Seconds(), err)
	}(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE pools SET current_epoch = $2, updated_at = $3
		WHERE address = $1 AND current_epoch < $2
	`, address, int64(epoch), time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("advance pool epoch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pools WHERE address = $1)`, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pool: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// SetVolume overwrites total_volume.
func (s *PoolStore) SetVolume(ctx context.Context, address string, v units.DisplayAmount) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pools SET total_volume = $2 WHERE address = $1`, address, v.String())
	if err != nil {
		return fmt.Errorf("set pool volume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPool(row pgx.Row) (*domain.Pool, error) {
	var (
		p                                     domain.Pool
		f                                     int32
		betaNum, betaDen, epoch, slot         int64
		sLong, sShort, rLong, rShort, vault   string
		priceLong, priceShort, volume, source string
	)
	err := row.Scan(
		&p.Address, &p.BeliefID, &p.Deployer, &f, &betaNum, &betaDen,
		&sLong, &sShort, &rLong, &rShort, &vault,
		&p.SqrtPriceLongX96, &p.SqrtPriceShortX96, &priceLong, &priceShort,
		&epoch, &slot, &volume,
		&source, &p.Confirmed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	p.F = uint16(f)
	p.BetaNum = uint32(betaNum)
	p.BetaDen = uint32(betaDen)
	p.SLongSupply = n.atomic(sLong)
	p.SShortSupply = n.atomic(sShort)
	p.RLong = n.display(rLong)
	p.RShort = n.display(rShort)
	p.VaultBalance = n.display(vault)
	p.PriceLong = n.display(priceLong)
	p.PriceShort = n.display(priceShort)
	p.CurrentEpoch = uint64(epoch)
	p.LastSyncedSlot = uint64(slot)
	p.TotalVolume = n.display(volume)
	p.RecordedBy = domain.RecordedBy(source)
	if n.err != nil {
		return nil, n.err
	}
	return &p, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
