package domain

import "belief-pool-indexer/internal/units"

// Agent is the stake aggregate of one participant.
type Agent struct {
	ID               string
	Wallet           string // UNIQUE
	TotalStake       units.AtomicAmount // == sum of BeliefLock over PoolBalances
	CustodianBalance units.AtomicAmount // deposits + skims - withdrawals
	UpdatedAt        int64              // ms
}

// PoolBalance is a participant's position on one side of one pool.
// (AgentID, PoolAddress, Side) is unique.
type PoolBalance struct {
	AgentID           string
	PoolAddress       string
	Side              Side
	TokenBalance      units.AtomicAmount
	BeliefLock        units.AtomicAmount
	TotalBought       units.AtomicAmount
	TotalSold         units.AtomicAmount
	TotalUSDCSpent    units.AtomicAmount
	TotalUSDCReceived units.AtomicAmount
	LastTradeAt       int64 // ms
}

// StakeAdjustment is the once-only marker of an additive stake change.
type StakeAdjustment struct {
	SourceKey string // UNIQUE, e.g. "deposit:<sig>"
	AgentID   string
	Delta     units.AtomicAmount
	CreatedAt int64 // ms
}

// BeliefSubmission is the placeholder written on a participant's first buy
// into a belief. The prediction fields are filled in by the application.
type BeliefSubmission struct {
	ID             string // uuid
	AgentID        string
	BeliefID       string
	Belief         string // decimal in [0,1]
	MetaPrediction string
	Epoch          uint64
	Source         string
	CreatedAt      int64 // ms
}
