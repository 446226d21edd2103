package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/projection"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// ShortLegSuffix derives the key of the short leg of a liquidity deposit.
const ShortLegSuffix = ":short"

func (e *Engine) handleDeployment(ctx context.Context, ev decoder.MarketDeployedEvent) (Outcome, error) {
	now := e.now().UnixMilli()
	want := &domain.Pool{
		Address:    ev.Pool,
		BeliefID:   ev.BeliefID,
		Deployer:   ev.Deployer,
		F:          ev.F,
		BetaNum:    ev.BetaNum,
		BetaDen:    ev.BetaDen,
		RecordedBy: domain.RecordedByIndexer,
		Confirmed:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	out := OutcomeInserted
	err := e.pools.Insert(ctx, want)
	if errors.Is(err, storage.ErrDuplicateKey) {
		out, err = e.validatePool(ctx, want)
	}
	if err != nil {
		return "", fmt.Errorf("insert pool %s: %w", ev.Pool, err)
	}

	if _, err := e.projector.Apply(ctx, ev.Pool, projection.Snapshot{
		SLong:             ev.LongTokens,
		SShort:            ev.ShortTokens,
		RLong:             ev.LongAllocation,
		RShort:            ev.ShortAllocation,
		Vault:             ev.InitialDeposit,
		SqrtPriceLongX96:  ev.SqrtPriceLongX96,
		SqrtPriceShortX96: ev.SqrtPriceShortX96,
		Slot:              ev.Slot,
	}); err != nil {
		return "", err
	}

	recordedAt := e.eventTimeMillis(ev.Meta, ev.Timestamp)
	if _, err := e.relevance.Record(ctx, relevance.Entry{
		EventRef:    relevanceRef(ev.Key(), domain.RelevanceEventDeployment),
		PoolAddress: ev.Pool,
		BeliefID:    ev.BeliefID,
		RLong:       units.ToDisplay(ev.LongAllocation),
		RShort:      units.ToDisplay(ev.ShortAllocation),
		EventType:   domain.RelevanceEventDeployment,
		RecordedAt:  &recordedAt,
	}); err != nil {
		return "", err
	}
	return out, nil
}

// validatePool confirms an optimistic pool row. Curve parameters of a
// confirmed pool never change.
func (e *Engine) validatePool(ctx context.Context, want *domain.Pool) (Outcome, error) {
	existing, err := e.pools.Get(ctx, want.Address)
	if err != nil {
		return "", err
	}
	same := existing.BeliefID == want.BeliefID &&
		existing.Deployer == want.Deployer &&
		existing.F == want.F &&
		existing.BetaNum == want.BetaNum &&
		existing.BetaDen == want.BetaDen

	if existing.Confirmed {
		if !same {
			e.logger.Warn("deployment disagrees with confirmed pool, keeping stored curve",
				zap.String("pool", want.Address))
		}
		return OutcomeDuplicate, nil
	}

	row := *existing
	row.BeliefID = want.BeliefID
	row.Deployer = want.Deployer
	row.F, row.BetaNum, row.BetaDen = want.F, want.BetaNum, want.BetaDen
	row.Confirmed = true
	row.UpdatedAt = want.UpdatedAt

	out := OutcomeConfirmed
	if !same {
		out = OutcomeCorrected
		observability.RecordCorrection("pools")
		e.logger.Info("pool corrected from ledger", zap.String("pool", want.Address))
	}
	if err := e.pools.Update(ctx, &row); err != nil {
		return "", err
	}
	return out, nil
}

// handleLiquidity mirrors a bilateral deposit as two liquidity legs. The
// legs are positions without a prediction: no lock and no belief submission.
func (e *Engine) handleLiquidity(ctx context.Context, ev decoder.LiquidityAdded) (Outcome, error) {
	pool, err := e.pool(ctx, ev.Pool)
	if err != nil {
		return "", err
	}

	leg := func(key string, side domain.Side, tokens, usdc units.AtomicAmount) *domain.Trade {
		return &domain.Trade{
			TxSignature:            key,
			PoolAddress:            ev.Pool,
			BeliefID:               pool.BeliefID,
			Wallet:                 ev.Provider,
			Side:                   side,
			TradeType:              domain.TradeTypeLiquidity,
			TokenAmount:            tokens,
			USDCAmount:             usdc,
			SLongBefore:            ev.SLongBefore,
			SLongAfter:             ev.SLongAfter,
			SShortBefore:           ev.SShortBefore,
			SShortAfter:            ev.SShortAfter,
			SqrtPriceLongX96After:  bigString(ev.SqrtPriceLongX96After),
			SqrtPriceShortX96After: bigString(ev.SqrtPriceShortX96After),
			Slot:                   ev.Slot,
			BlockTime:              ev.BlockTime,
		}
	}
	// The deposit is counted once in volume, on the long leg.
	legs := []*domain.Trade{
		leg(ev.Key(), domain.SideLong, ev.LongTokensOut, ev.USDCAmount),
		leg(ev.Key()+ShortLegSuffix, domain.SideShort, ev.ShortTokensOut, units.AtomicAmount{}),
	}

	out := OutcomeDuplicate
	for _, want := range legs {
		row, prev, legOut, err := e.reconcileTrade(ctx, want)
		if err != nil {
			return "", err
		}
		if err := e.rebuildPositions(ctx, row, prev); err != nil {
			return "", err
		}
		out = merge(out, legOut)
	}

	if _, err := e.projector.Apply(ctx, ev.Pool, projection.Snapshot{
		SLong:             ev.SLongAfter,
		SShort:            ev.SShortAfter,
		RLong:             ev.RLongAfter,
		RShort:            ev.RShortAfter,
		Vault:             ev.VaultBalanceAfter,
		SqrtPriceLongX96:  ev.SqrtPriceLongX96After,
		SqrtPriceShortX96: ev.SqrtPriceShortX96After,
		Slot:              ev.Slot,
	}); err != nil {
		return "", err
	}
	if err := e.projector.RefreshVolume(ctx, ev.Pool); err != nil {
		return "", err
	}

	recordedAt := e.eventTimeMillis(ev.Meta, ev.Timestamp)
	if _, err := e.relevance.Record(ctx, relevance.Entry{
		EventRef:    ev.Key(),
		PoolAddress: ev.Pool,
		BeliefID:    pool.BeliefID,
		RLong:       units.ToDisplay(ev.RLongAfter),
		RShort:      units.ToDisplay(ev.RShortAfter),
		EventType:   domain.RelevanceEventTrade,
		RecordedAt:  &recordedAt,
	}); err != nil {
		return "", err
	}
	return out, nil
}

var outcomeRank = map[Outcome]int{
	OutcomeDuplicate: 0,
	OutcomeConfirmed: 1,
	OutcomeInserted:  2,
	OutcomeCorrected: 3,
}

// merge keeps the most significant of two leg outcomes.
func merge(a, b Outcome) Outcome {
	if outcomeRank[b] > outcomeRank[a] {
		return b
	}
	return a
}
