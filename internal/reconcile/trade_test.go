package reconcile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/decoder/decodertest"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func TestBuyLongScenario(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	assert.Equal(t, OutcomeInserted, h.handle(buyLong("sig-1", 10)))

	tr := h.trade("sig-1")
	assert.Equal(t, domain.SideLong, tr.Side)
	assert.Equal(t, domain.TradeTypeBuy, tr.TradeType)
	assert.Equal(t, "100", tr.TokenAmount.String())
	assert.Equal(t, "50000000", tr.USDCAmount.String())
	assert.Equal(t, domain.RecordedByIndexer, tr.RecordedBy)
	assert.True(t, tr.Confirmed)
	assert.False(t, tr.IndexerCorrected)
	assert.Equal(t, h.agentID, tr.AgentID)
	assert.Equal(t, beliefID, tr.BeliefID)

	p := h.pool()
	assert.Equal(t, "1100", p.SLongSupply.String())
	assert.Equal(t, "4", p.PriceLong.String())
	assert.Equal(t, "50", p.TotalVolume.String())
	assert.Equal(t, uint64(10), p.LastSyncedSlot)

	skim, err := h.stores.Funding.GetBySignature(h.ctx, domain.FlowDeposit, "sig-1:skim")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowTypeTradeSkim, skim.FlowType)
	assert.Equal(t, "1", units.ToDisplay(skim.Amount).String())
	assert.True(t, skim.AgentCredited)

	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideLong).String())
	a := h.agent()
	assert.Equal(t, "1000000", a.TotalStake.String())
	assert.Equal(t, "1000000", a.CustodianBalance.String())

	sub, err := h.stores.Beliefs.Get(h.ctx, h.agentID, beliefID)
	require.NoError(t, err)
	assert.Equal(t, "0.5", sub.Belief)

	rel, err := h.stores.Relevance.Get(h.ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceEventTrade, rel.EventType)
	assert.Equal(t, "0.7333333333333333", rel.Relevance.StringFixed(16))
}

func TestTradeReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	h.handle(buyLong("sig-1", 10))
	first := h.pool()

	assert.Equal(t, OutcomeDuplicate, h.handle(buyLong("sig-1", 10)))

	trades, err := h.stores.Trades.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	flows, err := h.stores.Funding.ListByAgent(h.ctx, domain.FlowDeposit, h.agentID)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	assert.Equal(t, first.PoolSnapshot, h.pool().PoolSnapshot)
	assert.Equal(t, first.TotalVolume.String(), h.pool().TotalVolume.String())
	assert.Equal(t, "1000000", h.agent().CustodianBalance.String())
	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideLong).String())
}

func TestSameTransactionFromBothTransports(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	programID := decodertest.Key("program")
	dec := decoder.New(programID)
	logs := decodertest.Logs(programID, buyLong("", 0))

	fromSocket := dec.DecodeLogs(decoder.Tx{Signature: "sig-x", Slot: 12, Logs: logs})
	blockTime := int64(1_700_000_200)
	fromWebhook := dec.DecodeLogs(decoder.Tx{Signature: "sig-x", Slot: 12, BlockTime: &blockTime, Logs: logs})
	require.Len(t, fromSocket, 1)
	require.Len(t, fromWebhook, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, ev := range []decoder.Event{fromSocket[0], fromWebhook[0]} {
			wg.Add(1)
			go func(ev decoder.Event) {
				defer wg.Done()
				_, err := h.engine.Handle(h.ctx, ev)
				assert.NoError(t, err)
			}(ev)
		}
	}
	wg.Wait()

	trades, err := h.stores.Trades.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	flows, err := h.stores.Funding.ListByAgent(h.ctx, domain.FlowDeposit, h.agentID)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
	assert.Equal(t, "1000000", h.agent().CustodianBalance.String(), "skim credited once")
	h.assertStakeConserved()
}

func TestOptimisticTradeIsCorrected(t *testing.T) {
	h := newHarness(t)
	h.deploy()
	require.NoError(t, h.stores.Trades.Insert(h.ctx, &domain.Trade{
		ID:          "server-row",
		TxSignature: "sig-1",
		PoolAddress: poolAddr,
		AgentID:     h.agentID,
		Wallet:      wallet,
		Side:        domain.SideLong,
		TradeType:   domain.TradeTypeBuy,
		TokenAmount: amt(90),
		USDCAmount:  amt(45_000000),
		RecordedBy:  domain.RecordedByServer,
	}))

	assert.Equal(t, OutcomeCorrected, h.handle(buyLong("sig-1", 10)))

	tr := h.trade("sig-1")
	assert.Equal(t, "server-row", tr.ID)
	assert.Equal(t, "100", tr.TokenAmount.String())
	assert.Equal(t, "50000000", tr.USDCAmount.String())
	assert.True(t, tr.IndexerCorrected)
	assert.True(t, tr.Confirmed)
	assert.Equal(t, domain.RecordedByServer, tr.RecordedBy)
	require.NotNil(t, tr.ServerTokenAmount)
	assert.Equal(t, "90", tr.ServerTokenAmount.String())
	assert.Equal(t, "45000000", tr.ServerUSDCAmount.String())

	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideLong).String())
	h.assertStakeConserved()

	// A later redelivery keeps the audit values of the optimistic guess.
	assert.Equal(t, OutcomeDuplicate, h.handle(buyLong("sig-1", 10)))
	assert.Equal(t, "90", h.trade("sig-1").ServerTokenAmount.String())
}

func TestOptimisticTradeWithinEpsilonIsConfirmed(t *testing.T) {
	h := newHarness(t)
	h.deploy()
	require.NoError(t, h.stores.Trades.Insert(h.ctx, &domain.Trade{
		TxSignature: "sig-1",
		PoolAddress: poolAddr,
		AgentID:     h.agentID,
		Side:        domain.SideLong,
		TradeType:   domain.TradeTypeBuy,
		TokenAmount: amt(100),
		USDCAmount:  amt(50_000007),
		RecordedBy:  domain.RecordedByServer,
	}))

	assert.Equal(t, OutcomeConfirmed, h.handle(buyLong("sig-1", 10)))
	tr := h.trade("sig-1")
	assert.False(t, tr.IndexerCorrected)
	assert.True(t, tr.Confirmed)
	assert.Equal(t, "50000000", tr.USDCAmount.String())
	assert.Equal(t, uint64(10), tr.Slot)
	assert.Nil(t, tr.ServerUSDCAmount)
}

func TestSideCorrectionRebuildsBothPositions(t *testing.T) {
	h := newHarness(t)
	h.deploy()
	require.NoError(t, h.stores.Trades.Insert(h.ctx, &domain.Trade{
		TxSignature: "sig-1",
		PoolAddress: poolAddr,
		AgentID:     h.agentID,
		Side:        domain.SideShort,
		TradeType:   domain.TradeTypeBuy,
		TokenAmount: amt(100),
		USDCAmount:  amt(50_000000),
		RecordedBy:  domain.RecordedByServer,
	}))
	// The optimistic writer also filed a short position.
	_, err := h.engine.stake.RebuildPosition(h.ctx, h.agentID, poolAddr, domain.SideShort)
	require.NoError(t, err)
	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideShort).String())

	assert.Equal(t, OutcomeCorrected, h.handle(buyLong("sig-1", 10)))
	assert.True(t, h.lock(poolAddr, domain.SideShort).IsZero())
	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideLong).String())
	h.assertStakeConserved()
}

func TestSellReducesLockProportionally(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	h.handle(buyLong("sig-1", 10))
	h.handle(sellLong("sig-2", 11, 25, 12_000000))

	assert.Equal(t, "750000", h.lock(poolAddr, domain.SideLong).String())
	_, err := h.stores.Funding.GetBySignature(h.ctx, domain.FlowDeposit, "sig-2:skim")
	assert.Error(t, err, "sells carry no skim")
	h.assertStakeConserved()

	h.handle(sellLong("sig-3", 12, 75, 30_000000))
	assert.True(t, h.lock(poolAddr, domain.SideLong).IsZero())
	h.assertStakeConserved()
}

func TestTradeBeforeDeploymentIsSkipped(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.Handle(h.ctx, buyLong("sig-1", 10))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, OutcomeSkipped, out)

	_, err = h.stores.Trades.GetBySignature(h.ctx, "sig-1")
	assert.Error(t, err)

	// Redelivery after the deployment succeeds.
	h.deploy()
	assert.Equal(t, OutcomeInserted, h.handle(buyLong("sig-1", 10)))
}

func TestTradeFromUnknownParticipantIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	ev := buyLong("sig-1", 10)
	ev.Trader = decodertest.Key("stranger")
	out, err := h.engine.Handle(h.ctx, ev)
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, OutcomeSkipped, out)
}

func TestStaleTradeDoesNotRewindPool(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	later := buyLong("sig-2", 20)
	later.SLongAfter = amt(1200)
	h.handle(later)
	h.handle(buyLong("sig-1", 10))

	assert.Equal(t, "1200", h.pool().SLongSupply.String())
	assert.Equal(t, "100", h.pool().TotalVolume.String())
}

func liquidity(sig string, slot uint64) decoder.LiquidityAdded {
	return decoder.LiquidityAdded{
		Meta:                   decoder.Meta{Signature: sig, Slot: slot},
		Pool:                   poolAddr,
		Provider:               wallet,
		USDCAmount:             amt(20_000000),
		LongTokensOut:          amt(120),
		ShortTokensOut:         amt(80),
		SLongBefore:            amt(1000),
		SShortBefore:           amt(1000),
		SLongAfter:             amt(1120),
		SShortAfter:            amt(1080),
		RLongAfter:             amt(72_000000),
		RShortAfter:            amt(48_000000),
		VaultBalanceAfter:      amt(120_000000),
		SqrtPriceLongX96After:  q96,
		SqrtPriceShortX96After: q96,
	}
}

func TestLiquidityCreatesTwoLegsWithoutPrediction(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	ev := liquidity("liq-1", 15)
	assert.Equal(t, OutcomeInserted, h.handle(ev))
	assert.Equal(t, OutcomeDuplicate, h.handle(ev))

	long := h.trade("liq-1")
	short := h.trade("liq-1" + ShortLegSuffix)
	assert.Equal(t, domain.TradeTypeLiquidity, long.TradeType)
	assert.Equal(t, domain.SideLong, long.Side)
	assert.Equal(t, "120", long.TokenAmount.String())
	assert.Equal(t, domain.SideShort, short.Side)
	assert.Equal(t, "80", short.TokenAmount.String())
	assert.True(t, short.USDCAmount.IsZero())

	assert.True(t, h.lock(poolAddr, domain.SideLong).IsZero())
	assert.True(t, h.lock(poolAddr, domain.SideShort).IsZero())
	_, err := h.stores.Beliefs.Get(h.ctx, h.agentID, beliefID)
	assert.Error(t, err, "liquidity is not a prediction")

	p := h.pool()
	assert.Equal(t, "1080", p.SShortSupply.String())
	assert.Equal(t, "20", p.TotalVolume.String())
	h.assertStakeConserved()
}

func TestTradeAndLiquidityInOneTransactionKeepBothRows(t *testing.T) {
	h := newHarness(t)
	h.deploy()

	buy := buyLong("tx", 20)
	liq := liquidity("tx", 20)
	liq.Ordinal = 1
	assert.Equal(t, OutcomeInserted, h.handle(buy))
	assert.Equal(t, OutcomeInserted, h.handle(liq))

	tr := h.trade("tx")
	assert.Equal(t, domain.TradeTypeBuy, tr.TradeType)
	assert.Equal(t, "100", tr.TokenAmount.String())
	assert.False(t, tr.IndexerCorrected)
	assert.Equal(t, domain.TradeTypeLiquidity, h.trade("tx:1").TradeType)
	assert.Equal(t, domain.TradeTypeLiquidity, h.trade("tx:1"+ShortLegSuffix).TradeType)

	trades, err := h.stores.Trades.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	history, err := h.stores.Relevance.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, history, 3, "deployment, buy and liquidity")
	h.assertStakeConserved()
}

func TestDeploymentAndLiquidityInOneTransactionKeepBothHistoryRows(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, OutcomeInserted, h.handle(deployment("tx", 5)))
	assert.Equal(t, OutcomeInserted, h.handle(liquidity("tx", 5)))

	dep, err := h.stores.Relevance.Get(h.ctx, "tx:deployment")
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceEventDeployment, dep.EventType)
	liq, err := h.stores.Relevance.Get(h.ctx, "tx")
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceEventTrade, liq.EventType)

	history, err := h.stores.Relevance.ListByPool(h.ctx, poolAddr)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestOptimisticTradeOnUnmirroredPoolIsValidated(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.stores.Trades.Insert(h.ctx, &domain.Trade{
		ID:          "server-row",
		TxSignature: "sig-1",
		PoolAddress: poolAddr,
		BeliefID:    beliefID,
		AgentID:     h.agentID,
		Wallet:      wallet,
		Side:        domain.SideLong,
		TradeType:   domain.TradeTypeBuy,
		TokenAmount: amt(90),
		USDCAmount:  amt(45_000000),
		RecordedBy:  domain.RecordedByServer,
	}))

	assert.Equal(t, OutcomeCorrected, h.handle(buyLong("sig-1", 10)))
	tr := h.trade("sig-1")
	assert.True(t, tr.Confirmed)
	assert.True(t, tr.IndexerCorrected)
	assert.Equal(t, "100", tr.TokenAmount.String())
	assert.Equal(t, beliefID, tr.BeliefID)
	assert.Equal(t, "1000000", h.lock(poolAddr, domain.SideLong).String())
	h.assertStakeConserved()

	_, err := h.stores.Pools.Get(h.ctx, poolAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Once the pool is mirrored the redelivery projects the trade.
	h.deploy()
	assert.Equal(t, OutcomeDuplicate, h.handle(buyLong("sig-1", 10)))
	assert.Equal(t, "1100", h.pool().SLongSupply.String())
	_, err = h.stores.Relevance.Get(h.ctx, "sig-1")
	assert.NoError(t, err)
}
