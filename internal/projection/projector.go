// Package projection keeps each pool row equal to the latest ledger snapshot.
package projection

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/chain"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/fixedpoint"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// LedgerReader reads authoritative pool state.
type LedgerReader interface {
	PoolState(ctx context.Context, address string) (*chain.PoolState, error)
}

// Snapshot is the "after" state carried by an event, in ledger units.
type Snapshot struct {
	SLong             units.AtomicAmount
	SShort            units.AtomicAmount
	RLong             units.AtomicAmount
	RShort            units.AtomicAmount
	Vault             units.AtomicAmount
	SqrtPriceLongX96  *big.Int
	SqrtPriceShortX96 *big.Int
	Epoch             uint64 // 0 leaves the stored epoch unchanged
	Slot              uint64
}

// Projector writes pool snapshots.
type Projector struct {
	pools  storage.PoolStore
	trades storage.TradeStore
	ledger LedgerReader
	logger *zap.Logger
}

// NewProjector creates a projector. ledger may be nil, in which case
// Resync is a no-op.
func NewProjector(pools storage.PoolStore, trades storage.TradeStore, ledger LedgerReader, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{pools: pools, trades: trades, ledger: ledger, logger: logger}
}

// Apply persists an event's after-state as the pool snapshot. Stale slots
// are ignored by the store.
func (p *Projector) Apply(ctx context.Context, address string, s Snapshot) (bool, error) {
	applied, err := p.pools.ApplySnapshot(ctx, address, toPoolSnapshot(s))
	if err != nil {
		return false, fmt.Errorf("apply snapshot to %s: %w", address, err)
	}
	if !applied {
		p.logger.Debug("stale snapshot ignored", zap.String("pool", address), zap.Uint64("slot", s.Slot))
	}
	return applied, nil
}

// ApplyReserves advances the epoch, then overlays reserves on the stored
// snapshot. Used by settlements, whose payload carries no supplies or
// prices. The epoch moves even when a later slot was already mirrored; only
// the reserve overlay is slot guarded.
func (p *Projector) ApplyReserves(ctx context.Context, address string, rLong, rShort units.AtomicAmount, epoch, slot uint64) (bool, error) {
	if _, err := p.pools.AdvanceEpoch(ctx, address, epoch); err != nil {
		return false, fmt.Errorf("advance epoch of %s: %w", address, err)
	}
	pool, err := p.pools.Get(ctx, address)
	if err != nil {
		return false, fmt.Errorf("get pool %s: %w", address, err)
	}
	snap := pool.PoolSnapshot
	snap.RLong = units.ToDisplay(rLong)
	snap.RShort = units.ToDisplay(rShort)
	snap.LastSyncedSlot = slot
	applied, err := p.pools.ApplySnapshot(ctx, address, snap)
	if err != nil {
		return false, fmt.Errorf("apply reserves to %s: %w", address, err)
	}
	if !applied {
		p.logger.Debug("stale reserves ignored", zap.String("pool", address), zap.Uint64("slot", slot))
	}
	return applied, nil
}

// Resync replaces the snapshot with a direct ledger read.
func (p *Projector) Resync(ctx context.Context, address string) (*domain.PoolSnapshot, error) {
	if p.ledger == nil {
		return nil, nil
	}
	state, err := p.ledger.PoolState(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("read pool %s from ledger: %w", address, err)
	}
	acc := state.Account
	snap := toPoolSnapshot(Snapshot{
		SLong:             acc.SLong,
		SShort:            acc.SShort,
		RLong:             acc.RLong,
		RShort:            acc.RShort,
		Vault:             state.VaultBalance,
		SqrtPriceLongX96:  acc.SqrtPriceLongX96,
		SqrtPriceShortX96: acc.SqrtPriceShortX96,
		Epoch:             acc.CurrentEpoch,
		Slot:              state.Slot,
	})
	applied, err := p.pools.ApplySnapshot(ctx, address, snap)
	if err != nil {
		return nil, fmt.Errorf("apply resync to %s: %w", address, err)
	}
	p.logger.Info("pool resynced",
		zap.String("pool", address),
		zap.Uint64("slot", state.Slot),
		zap.Uint64("epoch", acc.CurrentEpoch),
		zap.Bool("applied", applied))
	return &snap, nil
}

// RefreshVolume recomputes total_volume from the pool's trades.
func (p *Projector) RefreshVolume(ctx context.Context, address string) error {
	sum, err := p.trades.SumUSDC(ctx, address)
	if err != nil {
		return fmt.Errorf("sum volume for %s: %w", address, err)
	}
	if err := p.pools.SetVolume(ctx, address, units.ToDisplay(sum)); err != nil {
		return fmt.Errorf("set volume for %s: %w", address, err)
	}
	return nil
}

// ResyncAll resyncs every known pool and returns how many failed.
func (p *Projector) ResyncAll(ctx context.Context) (int, error) {
	pools, err := p.pools.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pools: %w", err)
	}
	failed := 0
	for _, pool := range pools {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if _, err := p.Resync(ctx, pool.Address); err != nil {
			failed++
			level := zap.WarnLevel
			if errors.Is(err, chain.ErrPoolNotFound) {
				level = zap.ErrorLevel
			}
			p.logger.Log(level, "pool resync failed", zap.String("pool", pool.Address), zap.Error(err))
		}
	}
	return failed, nil
}

func toPoolSnapshot(s Snapshot) domain.PoolSnapshot {
	return domain.PoolSnapshot{
		SLongSupply:       s.SLong,
		SShortSupply:      s.SShort,
		RLong:             units.ToDisplay(s.RLong),
		RShort:            units.ToDisplay(s.RShort),
		VaultBalance:      units.ToDisplay(s.Vault),
		SqrtPriceLongX96:  bigString(s.SqrtPriceLongX96),
		SqrtPriceShortX96: bigString(s.SqrtPriceShortX96),
		PriceLong:         units.NewDisplay(fixedpoint.SqrtPriceX96ToPrice(s.SqrtPriceLongX96)),
		PriceShort:        units.NewDisplay(fixedpoint.SqrtPriceX96ToPrice(s.SqrtPriceShortX96)),
		CurrentEpoch:      s.Epoch,
		LastSyncedSlot:    s.Slot,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
