package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// BalanceStore implements storage.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *Pool
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BalanceStore = (*BalanceStore)(nil)

const balanceColumns = `
	agent_id, pool_address, side, token_balance::text, belief_lock::text,
	total_bought::text, total_sold::text, total_usdc_spent::text, total_usdc_received::text,
	last_trade_at`

// Get returns ErrNotFound if the agent holds no position on that side.
func (s *BalanceStore) Get(ctx context.Context, agentID, pool string, side domain.Side) (*domain.PoolBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM agent_pool_balances
		WHERE agent_id = $1 AND pool_address = $2 AND side = $3`

	b, err := scanBalance(s.pool.QueryRow(ctx, query, agentID, pool, string(side)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Upsert writes the position keyed by (agent, pool, side).
func (s *BalanceStore) Upsert(ctx context.Context, b *domain.PoolBalance) error {
	query := `
		INSERT INTO agent_pool_balances (
			agent_id, pool_address, side, token_balance, belief_lock,
			total_bought, total_sold, total_usdc_spent, total_usdc_received, last_trade_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (agent_id, pool_address, side) DO UPDATE SET
			token_balance = EXCLUDED.token_balance,
			belief_lock = EXCLUDED.belief_lock,
			total_bought = EXCLUDED.total_bought,
			total_sold = EXCLUDED.total_sold,
			total_usdc_spent = EXCLUDED.total_usdc_spent,
			total_usdc_received = EXCLUDED.total_usdc_received,
			last_trade_at = EXCLUDED.last_trade_at
	`

	_, err := s.pool.Exec(ctx, query,
		b.AgentID, b.PoolAddress, string(b.Side), b.TokenBalance.String(), b.BeliefLock.String(),
		b.TotalBought.String(), b.TotalSold.String(), b.TotalUSDCSpent.String(), b.TotalUSDCReceived.String(),
		b.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// ListByAgent returns every position of an agent.
func (s *BalanceStore) ListByAgent(ctx context.Context, agentID string) ([]*domain.PoolBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM agent_pool_balances
		WHERE agent_id = $1 ORDER BY pool_address ASC, side ASC`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var result []*domain.PoolBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return result, nil
}

// SumLocks returns the sum of belief_lock over an agent's positions.
func (s *BalanceStore) SumLocks(ctx context.Context, agentID string) (units.AtomicAmount, error) {
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(belief_lock), 0)::text FROM agent_pool_balances WHERE agent_id = $1`, agentID,
	).Scan(&sum)
	if err != nil {
		return units.AtomicAmount{}, fmt.Errorf("sum belief locks: %w", err)
	}
	return units.ParseAtomic(sum)
}

func scanBalance(row pgx.Row) (*domain.PoolBalance, error) {
	var (
		b                       domain.PoolBalance
		side, tokens, lock      string
		bought, sold            string
		usdcSpent, usdcReceived string
	)
	err := row.Scan(
		&b.AgentID, &b.PoolAddress, &side, &tokens, &lock,
		&bought, &sold, &usdcSpent, &usdcReceived,
		&b.LastTradeAt,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	b.Side = domain.Side(side)
	b.TokenBalance = n.atomic(tokens)
	b.BeliefLock = n.atomic(lock)
	b.TotalBought = n.atomic(bought)
	b.TotalSold = n.atomic(sold)
	b.TotalUSDCSpent = n.atomic(usdcSpent)
	b.TotalUSDCReceived = n.atomic(usdcReceived)
	if n.err != nil {
		return nil, n.err
	}
	return &b, nil
}
