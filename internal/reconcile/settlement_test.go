package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/chain"
	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/projection"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/stake"
	"belief-pool-indexer/internal/storage"
)

func settlement(sig string, slot, epoch uint64) decoder.SettlementEvent {
	return decoder.SettlementEvent{
		Meta:              decoder.Meta{Signature: sig, Slot: slot},
		Pool:              poolAddr,
		BeliefID:          beliefID,
		Epoch:             epoch,
		BDScore:           big.NewInt(750_000),
		MarketPrediction:  big.NewInt(600_000),
		FLong:             big.NewInt(1_250_000),
		FShort:            big.NewInt(625_000),
		RLongBefore:       amt(60_000000),
		RShortBefore:      amt(40_000000),
		RLongAfter:        amt(75_000000),
		RShortAfter:       amt(25_000000),
		SScaleLongBefore:  q96,
		SScaleLongAfter:   q96,
		SScaleShortBefore: q96,
		SScaleShortAfter:  q96,
	}
}

// atEpoch deploys the pool and moves it to epoch.
func (h *harness) atEpoch(epoch uint64) {
	h.t.Helper()
	h.deploy()
	snap := h.pool().PoolSnapshot
	snap.CurrentEpoch = epoch
	_, err := h.stores.Pools.ApplySnapshot(h.ctx, poolAddr, snap)
	require.NoError(h.t, err)
}

func (h *harness) ledgerAt(slot, epoch uint64, rLong, rShort int64) {
	h.ledger.mu.Lock()
	defer h.ledger.mu.Unlock()
	h.ledger.state = &chain.PoolState{
		Account: &decoder.PoolAccount{
			SLong:             amt(1000),
			SShort:            amt(1000),
			RLong:             amt(rLong),
			RShort:            amt(rShort),
			SqrtPriceLongX96:  q96,
			SqrtPriceShortX96: q96,
			CurrentEpoch:      epoch,
		},
		VaultBalance: amt(rLong + rShort),
		Slot:         slot,
	}
}

func TestSettlementAdvancesEpochAndTriggersOnce(t *testing.T) {
	h := newHarness(t)
	h.atEpoch(4)
	h.ledgerAt(31, 5, 75_000001, 24_999999)

	assert.Equal(t, OutcomeInserted, h.handle(settlement("settle-5", 30, 5)))

	row, err := h.stores.Settlements.Get(h.ctx, poolAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, "0.75", row.BDScore.String())
	assert.Equal(t, "1.25", row.FLong.String())
	assert.Equal(t, "75", row.RLongAfter.String())
	assert.Equal(t, q96.String(), row.SScaleLongAfter)

	p := h.pool()
	assert.Equal(t, uint64(5), p.CurrentEpoch)
	assert.Equal(t, "75.000001", p.RLong.String(), "ledger read wins over the payload")
	assert.Equal(t, uint64(31), p.LastSyncedSlot)

	rel, err := h.stores.Relevance.Get(h.ctx, "settle-5:rebase")
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceEventRebase, rel.EventType)
	assert.Equal(t, "0.75", rel.Relevance.String())

	require.Equal(t, 1, h.trigger.count())
	assert.Equal(t, dispatch{beliefID, poolAddr, 5}, h.trigger.calls[0])

	// Replay: no new row, no second trigger, resync runs again.
	assert.Equal(t, OutcomeDuplicate, h.handle(settlement("settle-5", 30, 5)))
	settlements, err := h.stores.Settlements.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
	assert.Equal(t, 1, h.trigger.count())
	assert.Equal(t, 2, h.ledger.reads)
	assert.Equal(t, uint64(5), h.pool().CurrentEpoch)
}

func TestLateSettlementDoesNotRegressEpoch(t *testing.T) {
	h := newHarness(t)
	h.atEpoch(4)
	h.ledgerAt(41, 6, 50_000000, 50_000000)

	h.handle(settlement("settle-6", 40, 6))
	assert.Equal(t, uint64(6), h.pool().CurrentEpoch)

	h.ledgerAt(41, 6, 50_000000, 50_000000)
	assert.Equal(t, OutcomeInserted, h.handle(settlement("settle-5", 30, 5)))
	assert.Equal(t, uint64(6), h.pool().CurrentEpoch)

	latest, ok, err := h.stores.Settlements.LatestEpoch(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(6), latest)
}

func TestSettlementStillTriggersWhenResyncFails(t *testing.T) {
	h := newHarness(t)
	h.atEpoch(1)
	h.ledger.err = errors.New("rpc down")

	assert.Equal(t, OutcomeInserted, h.handle(settlement("settle-2", 20, 2)))
	p := h.pool()
	assert.Equal(t, uint64(2), p.CurrentEpoch)
	assert.Equal(t, "75", p.RLong.String(), "payload applied as fast path")
	assert.Equal(t, 1, h.trigger.count())
}

func TestSettlementForUnknownPoolIsSkipped(t *testing.T) {
	h := newHarness(t)
	out, err := h.engine.Handle(h.ctx, settlement("settle-1", 5, 1))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Equal(t, 0, h.trigger.count())
}

// failingRelevance fails the first n upserts.
type failingRelevance struct {
	storage.RelevanceStore
	failures int
}

func (f *failingRelevance) Upsert(ctx context.Context, r *domain.ImpliedRelevance) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("relevance unavailable")
	}
	return f.RelevanceStore.Upsert(ctx, r)
}

func TestSettlementRedeliveryTriggersAfterFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.atEpoch(4)
	h.ledgerAt(31, 5, 75_000000, 25_000000)

	now := func() time.Time { return fixedClock }
	s := *h.stores
	s.Relevance = &failingRelevance{RelevanceStore: h.stores.Relevance, failures: 1}
	engine := NewEngine(Deps{
		Stores:    &s,
		Projector: projection.NewProjector(s.Pools, s.Trades, h.ledger, nil),
		Stake:     stake.NewUpdater(s.Agents, s.Balances, s.Trades, stake.Options{Now: now}),
		Relevance: relevance.NewRecorder(s.Relevance, relevance.WithClock(now)),
		Trigger:   h.trigger,
	}, Options{Now: now})

	_, err := engine.Handle(h.ctx, settlement("settle-5", 30, 5))
	require.Error(t, err)
	assert.Equal(t, 0, h.trigger.count())
	row, err := h.stores.Settlements.Get(h.ctx, poolAddr, 5)
	require.NoError(t, err)
	assert.False(t, row.Triggered)

	out, err := engine.Handle(h.ctx, settlement("settle-5", 30, 5))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	require.Equal(t, 1, h.trigger.count())
	assert.Equal(t, dispatch{beliefID, poolAddr, 5}, h.trigger.calls[0])

	row, err = h.stores.Settlements.Get(h.ctx, poolAddr, 5)
	require.NoError(t, err)
	assert.True(t, row.Triggered)

	_, err = engine.Handle(h.ctx, settlement("settle-5", 30, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, h.trigger.count())
}
