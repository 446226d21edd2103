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

// Placeholder prediction written with a participant's first buy.
const (
	placeholderBelief = "0.5"
	submissionSource  = "indexer"
)

func (e *Engine) handleTrade(ctx context.Context, ev decoder.TradeEvent) (Outcome, error) {
	pool, existing, err := e.tradePool(ctx, ev.Key(), ev.Pool)
	if err != nil {
		return "", err
	}
	var beliefID string
	if pool != nil {
		beliefID = pool.BeliefID
	} else {
		beliefID = existing.BeliefID
	}

	side := domain.SideShort
	if ev.IsLong {
		side = domain.SideLong
	}
	tradeType := domain.TradeTypeSell
	var skim units.AtomicAmount
	if ev.IsBuy {
		tradeType = domain.TradeTypeBuy
		skim = ev.USDCToStake
	}

	want := &domain.Trade{
		TxSignature:            ev.Key(),
		PoolAddress:            ev.Pool,
		BeliefID:               beliefID,
		Wallet:                 ev.Trader,
		Side:                   side,
		TradeType:              tradeType,
		TokenAmount:            ev.TokensTraded,
		USDCAmount:             ev.USDCAmount,
		SkimAmount:             skim,
		SLongBefore:            ev.SLongBefore,
		SLongAfter:             ev.SLongAfter,
		SShortBefore:           ev.SShortBefore,
		SShortAfter:            ev.SShortAfter,
		SqrtPriceLongX96After:  bigString(ev.SqrtPriceLongX96After),
		SqrtPriceShortX96After: bigString(ev.SqrtPriceShortX96After),
		Slot:                   ev.Slot,
		BlockTime:              ev.BlockTime,
	}

	row, prev, out, err := e.reconcileTrade(ctx, want)
	if err != nil {
		return "", err
	}

	if err := e.rebuildPositions(ctx, row, prev); err != nil {
		return "", err
	}

	if row.SkimAmount.Sign() > 0 {
		if err := e.recordSkim(ctx, row); err != nil {
			return "", err
		}
	}

	if pool == nil {
		e.logger.Info("pool not mirrored yet; trade confirmed without projection",
			zap.String("signature", row.TxSignature),
			zap.String("pool", ev.Pool))
		return out, nil
	}

	if row.TradeType == domain.TradeTypeBuy {
		if err := e.ensureSubmission(ctx, row.AgentID, pool); err != nil {
			return "", err
		}
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

// tradePool resolves the stored row for key and the pool it trades on. A
// missing pool is only out of order when no row exists; an optimistic row is
// still validated and pool is nil.
func (e *Engine) tradePool(ctx context.Context, key, address string) (*domain.Pool, *domain.Trade, error) {
	existing, err := e.trades.GetBySignature(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pool, err := e.pool(ctx, address)
		if err != nil {
			return nil, nil, err
		}
		return pool, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("get trade %s: %w", key, err)
	}
	pool, err := e.pools.Get(ctx, address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, existing, nil
	case err != nil:
		return nil, nil, fmt.Errorf("get pool %s: %w", address, err)
	}
	return pool, existing, nil
}

// reconcileTrade inserts want or validates the row already stored under its
// signature. prev is the stored row before a correction, nil otherwise.
func (e *Engine) reconcileTrade(ctx context.Context, want *domain.Trade) (*domain.Trade, *domain.Trade, Outcome, error) {
	existing, err := e.trades.GetBySignature(ctx, want.TxSignature)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		agent, err := e.agentByWallet(ctx, want.Wallet)
		if err != nil {
			return nil, nil, "", err
		}
		ins := *want
		ins.ID = e.newID()
		ins.AgentID = agent.ID
		ins.RecordedBy = domain.RecordedByIndexer
		ins.Confirmed = true
		ins.CreatedAt = e.now().UnixMilli()

		err = e.trades.Insert(ctx, &ins)
		if err == nil {
			return &ins, nil, OutcomeInserted, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, nil, "", fmt.Errorf("insert trade %s: %w", want.TxSignature, err)
		}
		// Lost the race to the optimistic writer: validate its row instead.
		existing, err = e.trades.GetBySignature(ctx, want.TxSignature)
		if err != nil {
			return nil, nil, "", fmt.Errorf("reload trade %s: %w", want.TxSignature, err)
		}
	case err != nil:
		return nil, nil, "", fmt.Errorf("get trade %s: %w", want.TxSignature, err)
	}
	return e.validateTrade(ctx, existing, want)
}

func (e *Engine) validateTrade(ctx context.Context, existing, want *domain.Trade) (*domain.Trade, *domain.Trade, Outcome, error) {
	matches := existing.Side == want.Side &&
		existing.TradeType == want.TradeType &&
		existing.TokenAmount.WithinEpsilon(want.TokenAmount, e.epsilon) &&
		existing.USDCAmount.WithinEpsilon(want.USDCAmount, e.epsilon)

	if matches && existing.Confirmed && existing.Slot == want.Slot &&
		existing.TokenAmount.Equal(want.TokenAmount) &&
		existing.USDCAmount.Equal(want.USDCAmount) &&
		existing.SkimAmount.Equal(want.SkimAmount) {
		return existing, nil, OutcomeDuplicate, nil
	}

	row := *existing
	if row.AgentID == "" {
		agent, err := e.agentByWallet(ctx, want.Wallet)
		if err != nil {
			return nil, nil, "", err
		}
		row.AgentID = agent.ID
	}
	if row.Wallet == "" {
		row.Wallet = want.Wallet
	}

	out := OutcomeConfirmed
	var prev *domain.Trade
	if !matches {
		if row.ServerTokenAmount == nil && row.ServerUSDCAmount == nil {
			tok, usdc := existing.TokenAmount, existing.USDCAmount
			row.ServerTokenAmount = &tok
			row.ServerUSDCAmount = &usdc
		}
		row.Side = want.Side
		row.TradeType = want.TradeType
		row.IndexerCorrected = true
		prev = existing
		out = OutcomeCorrected
		observability.RecordCorrection("trades")
		e.logger.Info("trade corrected from ledger",
			zap.String("signature", want.TxSignature),
			zap.Stringer("server_tokens", existing.TokenAmount),
			zap.Stringer("ledger_tokens", want.TokenAmount),
			zap.Stringer("server_usdc", existing.USDCAmount),
			zap.Stringer("ledger_usdc", want.USDCAmount))
	}

	// Confirmed rows carry ledger amounts even when they matched within epsilon.
	row.TokenAmount = want.TokenAmount
	row.USDCAmount = want.USDCAmount
	row.SkimAmount = want.SkimAmount
	row.PoolAddress = want.PoolAddress
	row.BeliefID = want.BeliefID
	row.SLongBefore, row.SLongAfter = want.SLongBefore, want.SLongAfter
	row.SShortBefore, row.SShortAfter = want.SShortBefore, want.SShortAfter
	row.SqrtPriceLongX96After = want.SqrtPriceLongX96After
	row.SqrtPriceShortX96After = want.SqrtPriceShortX96After
	row.Slot = want.Slot
	row.BlockTime = want.BlockTime
	row.Confirmed = true

	if err := e.trades.Update(ctx, &row); err != nil {
		return nil, nil, "", fmt.Errorf("update trade %s: %w", want.TxSignature, err)
	}
	return &row, prev, out, nil
}

// rebuildPositions replays the trade's position, and the position it was
// filed under before a correction if that differs.
func (e *Engine) rebuildPositions(ctx context.Context, row, prev *domain.Trade) error {
	if _, err := e.stake.RebuildPosition(ctx, row.AgentID, row.PoolAddress, row.Side); err != nil {
		return fmt.Errorf("rebuild position: %w", err)
	}
	if prev == nil {
		return nil
	}
	if prev.AgentID == "" || (prev.AgentID == row.AgentID && prev.PoolAddress == row.PoolAddress && prev.Side == row.Side) {
		return nil
	}
	if _, err := e.stake.RebuildPosition(ctx, prev.AgentID, prev.PoolAddress, prev.Side); err != nil {
		return fmt.Errorf("rebuild previous position: %w", err)
	}
	return nil
}

func (e *Engine) recordSkim(ctx context.Context, t *domain.Trade) error {
	flow, prev, out, err := e.reconcileFlow(ctx, &domain.FundingFlow{
		Direction:   domain.FlowDeposit,
		TxSignature: t.TxSignature + ":skim",
		AgentID:     t.AgentID,
		Wallet:      t.Wallet,
		Amount:      t.SkimAmount,
		FlowType:    domain.FlowTypeTradeSkim,
		Slot:        t.Slot,
		BlockTime:   t.BlockTime,
	})
	if err != nil {
		return err
	}
	return e.settleFlow(ctx, flow, prev, out)
}

func (e *Engine) ensureSubmission(ctx context.Context, agentID string, pool *domain.Pool) error {
	inserted, err := e.beliefs.InsertIfAbsent(ctx, &domain.BeliefSubmission{
		ID:             e.newID(),
		AgentID:        agentID,
		BeliefID:       pool.BeliefID,
		Belief:         placeholderBelief,
		MetaPrediction: placeholderBelief,
		Epoch:          pool.CurrentEpoch,
		Source:         submissionSource,
		CreatedAt:      e.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("insert belief submission: %w", err)
	}
	if inserted {
		e.logger.Debug("belief submission created",
			zap.String("agent", agentID),
			zap.String("belief", pool.BeliefID))
	}
	return nil
}
