package storage

import (
	"context"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/units"
)

// PoolStore provides access to pools storage.
type PoolStore interface {
	// Insert adds a new pool. Returns ErrDuplicateKey if address exists.
	Insert(ctx context.Context, p *domain.Pool) error

	// Get retrieves a pool by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.Pool, error)

	// List returns all pools ordered by address.
	List(ctx context.Context) ([]*domain.Pool, error)

	// Update overwrites identity, curve and provenance columns.
	// The snapshot columns are left to ApplySnapshot.
	Update(ctx context.Context, p *domain.Pool) error

	// ApplySnapshot writes s unless the stored row was synced at a later slot.
	// current_epoch never decreases. Reports whether the row was written.
	ApplySnapshot(ctx context.Context, address string, s domain.PoolSnapshot) (bool, error)

	// AdvanceEpoch raises current_epoch to epoch regardless of
	// last_synced_slot. Reports whether the stored epoch changed.
	AdvanceEpoch(ctx context.Context, address string, epoch uint64) (bool, error)

	// SetVolume overwrites total_volume.
	SetVolume(ctx context.Context, address string, v units.DisplayAmount) error
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if tx_signature exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetBySignature returns ErrNotFound if no trade has the signature.
	GetBySignature(ctx context.Context, sig string) (*domain.Trade, error)

	// Update overwrites the row with the same tx_signature.
	Update(ctx context.Context, t *domain.Trade) error

	// ListByPosition returns an agent's trades on one pool side,
	// ordered by slot ASC, created_at ASC.
	ListByPosition(ctx context.Context, agentID, pool string, side domain.Side) ([]*domain.Trade, error)

	// ListByPool returns every trade of a pool ordered by slot ASC.
	ListByPool(ctx context.Context, pool string) ([]*domain.Trade, error)

	// SumUSDC returns the sum of usdc_amount over a pool's trades.
	SumUSDC(ctx context.Context, pool string) (units.AtomicAmount, error)
}

// SettlementStore provides access to settlements storage.
type SettlementStore interface {
	// Insert adds a settlement. Returns ErrDuplicateKey if (pool, epoch) exists.
	Insert(ctx context.Context, s *domain.Settlement) error

	// Get retrieves one settlement. Returns ErrNotFound if not exists.
	Get(ctx context.Context, pool string, epoch uint64) (*domain.Settlement, error)

	// ListByPool returns a pool's settlements ordered by epoch ASC.
	ListByPool(ctx context.Context, pool string) ([]*domain.Settlement, error)

	// LatestEpoch returns the highest recorded epoch; ok is false if none.
	LatestEpoch(ctx context.Context, pool string) (epoch uint64, ok bool, err error)

	// MarkTriggered records that epoch processing was handed off for the
	// settlement. Returns ErrNotFound if the settlement does not exist.
	MarkTriggered(ctx context.Context, pool string, epoch uint64) error
}

// FundingStore provides access to custodian_deposits and custodian_withdrawals.
type FundingStore interface {
	// Insert adds a flow to the table chosen by f.Direction.
	// Returns ErrDuplicateKey if tx_signature exists in that table.
	Insert(ctx context.Context, f *domain.FundingFlow) error

	// GetBySignature returns ErrNotFound if no flow has the signature.
	GetBySignature(ctx context.Context, dir domain.FlowDirection, sig string) (*domain.FundingFlow, error)

	// Update overwrites the row with the same direction and tx_signature.
	Update(ctx context.Context, f *domain.FundingFlow) error

	// MarkCredited sets agent_credited.
	MarkCredited(ctx context.Context, dir domain.FlowDirection, sig string) error

	// ListByAgent returns an agent's flows in one direction ordered by slot ASC.
	ListByAgent(ctx context.Context, dir domain.FlowDirection, agentID string) ([]*domain.FundingFlow, error)
}

// AgentStore provides access to agents and stake_adjustments.
type AgentStore interface {
	// Insert adds an agent. Returns ErrDuplicateKey if id or wallet exists.
	Insert(ctx context.Context, a *domain.Agent) error

	// Get retrieves an agent by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.Agent, error)

	// GetByWallet retrieves an agent by wallet. Returns ErrNotFound if not exists.
	GetByWallet(ctx context.Context, wallet string) (*domain.Agent, error)

	// ApplyAdjustment records adj and adds adj.Delta to custodian_balance in
	// one step. Returns false without changes if adj.SourceKey was applied before.
	ApplyAdjustment(ctx context.Context, adj *domain.StakeAdjustment) (bool, error)

	// SetTotalStake overwrites total_stake.
	SetTotalStake(ctx context.Context, agentID string, v units.AtomicAmount) error
}

// BalanceStore provides access to agent_pool_balances.
type BalanceStore interface {
	// Get returns ErrNotFound if the agent holds no position on that side.
	Get(ctx context.Context, agentID, pool string, side domain.Side) (*domain.PoolBalance, error)

	// Upsert writes the position keyed by (agent, pool, side).
	Upsert(ctx context.Context, b *domain.PoolBalance) error

	// ListByAgent returns every position of an agent.
	ListByAgent(ctx context.Context, agentID string) ([]*domain.PoolBalance, error)

	// SumLocks returns the sum of belief_lock over an agent's positions.
	SumLocks(ctx context.Context, agentID string) (units.AtomicAmount, error)
}

// RelevanceStore provides access to implied_relevance_history.
type RelevanceStore interface {
	// Upsert inserts r if event_ref is new. An existing server row is
	// replaced by an indexer row; every other existing row is left as is.
	// Reports whether anything was written.
	Upsert(ctx context.Context, r *domain.ImpliedRelevance) (bool, error)

	// Get retrieves an entry by event reference. Returns ErrNotFound if not exists.
	Get(ctx context.Context, eventRef string) (*domain.ImpliedRelevance, error)

	// ListByPool returns a pool's history ordered by recorded_at ASC.
	ListByPool(ctx context.Context, pool string) ([]*domain.ImpliedRelevance, error)
}

// RelevanceSeriesStore is an append-only analytics copy of the history.
type RelevanceSeriesStore interface {
	// InsertBulk appends entries; duplicates are collapsed by the backend.
	InsertBulk(ctx context.Context, entries []*domain.ImpliedRelevance) error

	// GetByPool returns entries with recorded_at within [start, end] (ms, inclusive).
	GetByPool(ctx context.Context, pool string, start, end int64) ([]*domain.ImpliedRelevance, error)
}

// BeliefStore provides access to belief_submissions.
type BeliefStore interface {
	// InsertIfAbsent adds s unless (agent_id, belief_id) exists.
	// Reports whether the row was inserted.
	InsertIfAbsent(ctx context.Context, s *domain.BeliefSubmission) (bool, error)

	// Get returns ErrNotFound if the agent has no submission for the belief.
	Get(ctx context.Context, agentID, beliefID string) (*domain.BeliefSubmission, error)
}

// CursorStore persists the backfill position so restarts resume where they
// stopped.
type CursorStore interface {
	// Get returns ErrNotFound if no cursor has been saved for the program.
	Get(ctx context.Context, programID string) (*domain.Cursor, error)

	// Set saves the cursor.
	Set(ctx context.Context, c *domain.Cursor) error
}

// Stores groups the mirror's repositories.
type Stores struct {
	Pools       PoolStore
	Trades      TradeStore
	Settlements SettlementStore
	Funding     FundingStore
	Agents      AgentStore
	Balances    BalanceStore
	Relevance   RelevanceStore
	Beliefs     BeliefStore
	Cursors     CursorStore
}
