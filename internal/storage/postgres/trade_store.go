package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	id, tx_signature, pool_address, belief_id, agent_id, wallet, side, trade_type,
	token_amount::text, usdc_amount::text, skim_amount::text,
	s_long_before::text, s_long_after::text, s_short_before::text, s_short_after::text,
	sqrt_price_long_x96_after, sqrt_price_short_x96_after,
	recorded_by, confirmed, indexer_corrected,
	server_token_amount::text, server_usdc_amount::text,
	slot, block_time, created_at`

// Insert adds a trade. Returns ErrDuplicateKey if tx_signature exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	query := `
		INSERT INTO trades (
			id, tx_signature, pool_address, belief_id, agent_id, wallet, side, trade_type,
			token_amount, usdc_amount, skim_amount,
			s_long_before, s_long_after, s_short_before, s_short_after,
			sqrt_price_long_x96_after, sqrt_price_short_x96_after,
			recorded_by, confirmed, indexer_corrected,
			server_token_amount, server_usdc_amount,
			slot, block_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`

	_, err := s.pool.Exec(ctx, query, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetBySignature returns ErrNotFound if no trade has the signature.
func (s *TradeStore) GetBySignature(ctx context.Context, sig string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE tx_signature = $1`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, sig))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// Update overwrites the row with the same tx_signature. id and created_at
// keep their original values.
func (s *TradeStore) Update(ctx context.Context, t *domain.Trade) error {
	query := `
		UPDATE trades SET
			pool_address = $2, belief_id = $3, agent_id = $4, wallet = $5, side = $6, trade_type = $7,
			token_amount = $8, usdc_amount = $9, skim_amount = $10,
			s_long_before = $11, s_long_after = $12, s_short_before = $13, s_short_after = $14,
			sqrt_price_long_x96_after = $15, sqrt_price_short_x96_after = $16,
			recorded_by = $17, confirmed = $18, indexer_corrected = $19,
			server_token_amount = $20, server_usdc_amount = $21,
			slot = $22, block_time = $23
		WHERE tx_signature = $1
	`

	// tradeArgs without the leading id and trailing created_at.
	args := tradeArgs(t)
	tag, err := s.pool.Exec(ctx, query, args[1:len(args)-1]...)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByPosition returns an agent's trades on one pool side.
func (s *TradeStore) ListByPosition(ctx context.Context, agentID, pool string, side domain.Side) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE agent_id = $1 AND pool_address = $2 AND side = $3
		ORDER BY slot ASC, created_at ASC, tx_signature ASC`
	return s.list(ctx, query, agentID, pool, string(side))
}

// ListByPool returns every trade of a pool.
func (s *TradeStore) ListByPool(ctx context.Context, pool string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE pool_address = $1
		ORDER BY slot ASC, created_at ASC, tx_signature ASC`
	return s.list(ctx, query, pool)
}

// SumUSDC returns the sum of usdc_amount over a pool's trades.
func (s *TradeStore) SumUSDC(ctx context.Context, pool string) (units.AtomicAmount, error) {
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(usdc_amount), 0)::text FROM trades WHERE pool_address = $1`, pool,
	).Scan(&sum)
	if err != nil {
		return units.AtomicAmount{}, fmt.Errorf("sum trade volume: %w", err)
	}
	return units.ParseAtomic(sum)
}

func (s *TradeStore) list(ctx context.Context, query string, args ...any) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

func tradeArgs(t *domain.Trade) []any {
	var blockTime *int64
	if t.BlockTime != nil {
		v := *t.BlockTime
		blockTime = &v
	}
	return []any{
		t.ID, t.TxSignature, t.PoolAddress, t.BeliefID, t.AgentID, t.Wallet,
		string(t.Side), string(t.TradeType),
		t.TokenAmount.String(), t.USDCAmount.String(), t.SkimAmount.String(),
		t.SLongBefore.String(), t.SLongAfter.String(), t.SShortBefore.String(), t.SShortAfter.String(),
		orZero(t.SqrtPriceLongX96After), orZero(t.SqrtPriceShortX96After),
		string(t.RecordedBy), t.Confirmed, t.IndexerCorrected,
		nullableAtomic(t.ServerTokenAmount), nullableAtomic(t.ServerUSDCAmount),
		int64(t.Slot), blockTime, t.CreatedAt,
	}
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t                         domain.Trade
		side, tradeType, source   string
		token, usdc, skim         string
		sLongBefore, sLongAfter   string
		sShortBefore, sShortAfter string
		serverToken, serverUSDC   *string
		slot                      int64
	)
	err := row.Scan(
		&t.ID, &t.TxSignature, &t.PoolAddress, &t.BeliefID, &t.AgentID, &t.Wallet, &side, &tradeType,
		&token, &usdc, &skim,
		&sLongBefore, &sLongAfter, &sShortBefore, &sShortAfter,
		&t.SqrtPriceLongX96After, &t.SqrtPriceShortX96After,
		&source, &t.Confirmed, &t.IndexerCorrected,
		&serverToken, &serverUSDC,
		&slot, &t.BlockTime, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	t.Side = domain.Side(side)
	t.TradeType = domain.TradeType(tradeType)
	t.RecordedBy = domain.RecordedBy(source)
	t.TokenAmount = n.atomic(token)
	t.USDCAmount = n.atomic(usdc)
	t.SkimAmount = n.atomic(skim)
	t.SLongBefore = n.atomic(sLongBefore)
	t.SLongAfter = n.atomic(sLongAfter)
	t.SShortBefore = n.atomic(sShortBefore)
	t.SShortAfter = n.atomic(sShortAfter)
	t.ServerTokenAmount = n.nullableAtomic(serverToken)
	t.ServerUSDCAmount = n.nullableAtomic(serverUSDC)
	t.Slot = uint64(slot)
	if n.err != nil {
		return nil, n.err
	}
	return &t, nil
}
