package stake

import (
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/units"
)

// DefaultLockBps is the share of a buy's paid amount locked as stake: 2%.
const DefaultLockBps = 200

const bpsDenominator = 10_000

// Replay folds an ordered list of trades on one (agent, pool, side) into a
// position.
//
// Buys add floor(usdc * lockBps / 10000) to the lock. Sells remove
// floor(lock * sold / balanceBefore); selling the whole balance clears it.
// Liquidity legs add tokens but no lock.
func Replay(agentID, pool string, side domain.Side, trades []*domain.Trade, lockBps int64) *domain.PoolBalance {
	b := &domain.PoolBalance{AgentID: agentID, PoolAddress: pool, Side: side}
	bps := units.AtomicFromInt64(lockBps)
	den := units.AtomicFromInt64(bpsDenominator)

	for _, t := range trades {
		switch t.TradeType {
		case domain.TradeTypeBuy:
			b.TokenBalance = b.TokenBalance.Add(t.TokenAmount)
			b.TotalBought = b.TotalBought.Add(t.TokenAmount)
			b.TotalUSDCSpent = b.TotalUSDCSpent.Add(t.USDCAmount)
			b.BeliefLock = b.BeliefLock.Add(t.USDCAmount.MulDiv(bps, den))
		case domain.TradeTypeSell:
			before := b.TokenBalance
			b.TotalSold = b.TotalSold.Add(t.TokenAmount)
			b.TotalUSDCReceived = b.TotalUSDCReceived.Add(t.USDCAmount)
			if before.Sign() <= 0 || t.TokenAmount.Cmp(before) >= 0 {
				b.TokenBalance = units.AtomicAmount{}
				b.BeliefLock = units.AtomicAmount{}
				break
			}
			b.BeliefLock = b.BeliefLock.Sub(b.BeliefLock.MulDiv(t.TokenAmount, before))
			b.TokenBalance = before.Sub(t.TokenAmount)
		case domain.TradeTypeLiquidity:
			b.TokenBalance = b.TokenBalance.Add(t.TokenAmount)
			b.TotalBought = b.TotalBought.Add(t.TokenAmount)
			b.TotalUSDCSpent = b.TotalUSDCSpent.Add(t.USDCAmount)
		}
		if t.CreatedAt > b.LastTradeAt {
			b.LastTradeAt = t.CreatedAt
		}
	}
	return b
}
