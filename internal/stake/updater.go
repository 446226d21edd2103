// Package stake keeps participant stake aggregates in line with the mirror.
package stake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// Options configures an Updater.
type Options struct {
	LockBps int64 // share of paid amount locked per buy, default DefaultLockBps
	Logger  *zap.Logger
	Now     func() time.Time
}

// Updater applies custodian adjustments and recomputes locks.
type Updater struct {
	agents   storage.AgentStore
	balances storage.BalanceStore
	trades   storage.TradeStore
	lockBps  int64
	logger   *zap.Logger
	now      func() time.Time

	// Recompute reads locks and writes total_stake in separate statements;
	// one agent's recomputes run under the same stripe.
	stripes [64]sync.Mutex
}

// NewUpdater creates a stake updater.
func NewUpdater(agents storage.AgentStore, balances storage.BalanceStore, trades storage.TradeStore, opts Options) *Updater {
	if opts.LockBps <= 0 {
		opts.LockBps = DefaultLockBps
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Updater{
		agents:   agents,
		balances: balances,
		trades:   trades,
		lockBps:  opts.LockBps,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Credit adds amount to the agent's custodian balance, at most once per sourceKey.
// Reports whether this call applied it.
func (u *Updater) Credit(ctx context.Context, agentID string, amount units.AtomicAmount, sourceKey string) (bool, error) {
	return u.adjust(ctx, agentID, amount, sourceKey)
}

// Debit subtracts amount from the agent's custodian balance, at most once per sourceKey.
func (u *Updater) Debit(ctx context.Context, agentID string, amount units.AtomicAmount, sourceKey string) (bool, error) {
	return u.adjust(ctx, agentID, amount.Neg(), sourceKey)
}

func (u *Updater) adjust(ctx context.Context, agentID string, delta units.AtomicAmount, sourceKey string) (bool, error) {
	applied, err := u.agents.ApplyAdjustment(ctx, &domain.StakeAdjustment{
		SourceKey: sourceKey,
		AgentID:   agentID,
		Delta:     delta,
		CreatedAt: u.now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("apply stake adjustment %s: %w", sourceKey, err)
	}
	if applied {
		u.logger.Debug("stake adjusted",
			zap.String("agent", agentID),
			zap.String("source", sourceKey),
			zap.Stringer("delta", delta))
	}
	return applied, nil
}

// RecomputeFromLocks sets total_stake to the sum of the agent's belief locks.
func (u *Updater) RecomputeFromLocks(ctx context.Context, agentID string) (units.AtomicAmount, error) {
	mu := u.stripe(agentID)
	mu.Lock()
	defer mu.Unlock()
	return u.recompute(ctx, agentID)
}

func (u *Updater) recompute(ctx context.Context, agentID string) (units.AtomicAmount, error) {
	sum, err := u.balances.SumLocks(ctx, agentID)
	if err != nil {
		return units.AtomicAmount{}, fmt.Errorf("sum locks for %s: %w", agentID, err)
	}
	if err := u.agents.SetTotalStake(ctx, agentID, sum); err != nil {
		return units.AtomicAmount{}, fmt.Errorf("set total stake for %s: %w", agentID, err)
	}
	return sum, nil
}

// RebuildPosition replays the agent's trades on one pool side into its
// position row, then realigns total_stake.
func (u *Updater) RebuildPosition(ctx context.Context, agentID, pool string, side domain.Side) (*domain.PoolBalance, error) {
	mu := u.stripe(agentID)
	mu.Lock()
	defer mu.Unlock()

	trades, err := u.trades.ListByPosition(ctx, agentID, pool, side)
	if err != nil {
		return nil, fmt.Errorf("list trades for position: %w", err)
	}
	b := Replay(agentID, pool, side, trades, u.lockBps)
	if err := u.balances.Upsert(ctx, b); err != nil {
		return nil, fmt.Errorf("upsert position: %w", err)
	}
	if _, err := u.recompute(ctx, agentID); err != nil {
		return nil, err
	}
	return b, nil
}

func (u *Updater) stripe(agentID string) *sync.Mutex {
	return &u.stripes[xxhash.Sum64String(agentID)%uint64(len(u.stripes))]
}

// LockBps returns the configured lock share.
func (u *Updater) LockBps() int64 { return u.lockBps }
