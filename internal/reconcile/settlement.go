package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/fixedpoint"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func (e *Engine) handleSettlement(ctx context.Context, ev decoder.SettlementEvent) (Outcome, error) {
	pool, err := e.pool(ctx, ev.Pool)
	if err != nil {
		return "", err
	}
	log := e.logger.With(
		zap.String("pool", ev.Pool),
		zap.Uint64("epoch", ev.Epoch),
		zap.String("signature", ev.Signature))

	last := pool.CurrentEpoch
	if latest, ok, err := e.settlements.LatestEpoch(ctx, ev.Pool); err != nil {
		return "", fmt.Errorf("latest epoch for %s: %w", ev.Pool, err)
	} else if ok && latest > last {
		last = latest
	}
	if ev.Epoch > last+1 {
		log.Warn("settlement epoch skips ahead", zap.Uint64("last_epoch", last))
	}

	row := &domain.Settlement{
		PoolAddress:       ev.Pool,
		Epoch:             ev.Epoch,
		BeliefID:          ev.BeliefID,
		BDScore:           fixedpoint.FromMillionths(ev.BDScore),
		MarketPrediction:  fixedpoint.FromMillionths(ev.MarketPrediction),
		FLong:             fixedpoint.FromMillionths(ev.FLong),
		FShort:            fixedpoint.FromMillionths(ev.FShort),
		RLongBefore:       units.ToDisplay(ev.RLongBefore),
		RLongAfter:        units.ToDisplay(ev.RLongAfter),
		RShortBefore:      units.ToDisplay(ev.RShortBefore),
		RShortAfter:       units.ToDisplay(ev.RShortAfter),
		SScaleLongBefore:  bigString(ev.SScaleLongBefore),
		SScaleLongAfter:   bigString(ev.SScaleLongAfter),
		SScaleShortBefore: bigString(ev.SScaleShortBefore),
		SScaleShortAfter:  bigString(ev.SScaleShortAfter),
		TxSignature:       ev.Signature,
		Slot:              ev.Slot,
		BlockTime:         ev.BlockTime,
		CreatedAt:         e.now().UnixMilli(),
	}

	out := OutcomeInserted
	triggered := false
	err = e.settlements.Insert(ctx, row)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		out = OutcomeDuplicate
		existing, getErr := e.settlements.Get(ctx, ev.Pool, ev.Epoch)
		if getErr != nil {
			return "", fmt.Errorf("get settlement %s/%d: %w", ev.Pool, ev.Epoch, getErr)
		}
		triggered = existing.Triggered
		log.Debug("settlement already recorded", zap.Bool("triggered", triggered))
	case err != nil:
		return "", fmt.Errorf("insert settlement: %w", err)
	case ev.Epoch <= last:
		log.Warn("settlement epoch is not after the pool's epoch", zap.Uint64("last_epoch", last))
	}

	// The payload is a fast-path hint; the ledger read below is ground truth.
	if _, err := e.projector.ApplyReserves(ctx, ev.Pool, ev.RLongAfter, ev.RShortAfter, ev.Epoch, ev.Slot); err != nil {
		return "", err
	}
	if _, err := e.projector.Resync(ctx, ev.Pool); err != nil {
		// The sweep resyncs later; the trigger must still fire for this epoch.
		log.Warn("post-settlement resync failed", zap.Error(err))
	}

	recordedAt := e.eventTimeMillis(ev.Meta, ev.Timestamp)
	if _, err := e.relevance.Record(ctx, relevance.Entry{
		EventRef:    relevanceRef(ev.Key(), domain.RelevanceEventRebase),
		PoolAddress: ev.Pool,
		BeliefID:    pool.BeliefID,
		RLong:       units.ToDisplay(ev.RLongAfter),
		RShort:      units.ToDisplay(ev.RShortAfter),
		EventType:   domain.RelevanceEventRebase,
		RecordedAt:  &recordedAt,
	}); err != nil {
		return "", err
	}

	// Dispatch goes last so a failed step above leaves the row untriggered
	// and a redelivery of the same settlement still fires.
	if e.trigger != nil && !triggered {
		beliefID := pool.BeliefID
		if beliefID == "" {
			beliefID = ev.BeliefID
		}
		e.trigger.Dispatch(beliefID, ev.Pool, ev.Epoch)
		if err := e.settlements.MarkTriggered(ctx, ev.Pool, ev.Epoch); err != nil {
			log.Warn("mark settlement triggered failed", zap.Error(err))
		}
	}
	return out, nil
}
