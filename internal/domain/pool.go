package domain

import "belief-pool-indexer/internal/units"

// Pool is one deployed two-sided market.
// Corresponds to pools table in PostgreSQL.
type Pool struct {
	Address  string // PRIMARY KEY, pool PDA
	BeliefID string // belief the market prices
	Deployer string // deployer wallet

	// Curve parameters, immutable once Confirmed.
	F       uint16
	BetaNum uint32
	BetaDen uint32

	PoolSnapshot

	TotalVolume units.DisplayAmount // sum of trade USDC, recomputed
	RecordedBy  RecordedBy
	Confirmed   bool
	CreatedAt   int64 // ms
	UpdatedAt   int64 // ms
}

// PoolSnapshot is the mutable AMM state written by the projector.
type PoolSnapshot struct {
	SLongSupply       units.AtomicAmount
	SShortSupply      units.AtomicAmount
	RLong             units.DisplayAmount
	RShort            units.DisplayAmount
	VaultBalance      units.DisplayAmount
	SqrtPriceLongX96  string // raw X96 integer, base 10
	SqrtPriceShortX96 string
	PriceLong         units.DisplayAmount // derived from SqrtPriceLongX96
	PriceShort        units.DisplayAmount
	CurrentEpoch      uint64 // monotonically non-decreasing
	LastSyncedSlot    uint64 // slot of the last write, guards stale event replays
}
