package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// AgentStore implements storage.AgentStore over agents and stake_adjustments.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

const agentColumns = `id, wallet, total_stake::text, custodian_balance::text, updated_at`

// Insert adds an agent. Returns ErrDuplicateKey if id or wallet exists.
func (s *AgentStore) Insert(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (id, wallet, total_stake, custodian_balance, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Wallet, a.TotalStake.String(), a.CustodianBalance.String(), a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by id. Returns ErrNotFound if not exists.
func (s *AgentStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.getBy(ctx, "id", id)
}

// GetByWallet retrieves an agent by wallet. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByWallet(ctx context.Context, wallet string) (*domain.Agent, error) {
	return s.getBy(ctx, "wallet", wallet)
}

func (s *AgentStore) getBy(ctx context.Context, column, value string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE ` + column + ` = $1`

	a, err := scanAgent(s.pool.QueryRow(ctx, query, value))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ApplyAdjustment records adj and moves custodian_balance in one transaction.
// A source key seen before leaves the balance untouched.
func (s *AgentStore) ApplyAdjustment(ctx context.Context, adj *domain.StakeAdjustment) (bool, error) {
	if adj == nil || adj.SourceKey == "" || adj.AgentID == "" {
		return false, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO stake_adjustments (source_key, agent_id, delta, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_key) DO NOTHING
	`, adj.SourceKey, adj.AgentID, adj.Delta.String(), adj.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("insert stake adjustment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE agents SET custodian_balance = custodian_balance + $2, updated_at = $3
		WHERE id = $1
	`, adj.AgentID, adj.Delta.String(), adj.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("apply stake adjustment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// SetTotalStake overwrites total_stake.
func (s *AgentStore) SetTotalStake(ctx context.Context, agentID string, v units.AtomicAmount) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET total_stake = $2 WHERE id = $1`, agentID, v.String())
	if err != nil {
		return fmt.Errorf("set total stake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		a                domain.Agent
		stake, custodian string
	)
	if err := row.Scan(&a.ID, &a.Wallet, &stake, &custodian, &a.UpdatedAt); err != nil {
		return nil, err
	}

	var n numerics
	a.TotalStake = n.atomic(stake)
	a.CustodianBalance = n.atomic(custodian)
	if n.err != nil {
		return nil, n.err
	}
	return &a, nil
}
