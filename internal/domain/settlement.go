package domain

import (
	"github.com/shopspring/decimal"

	"belief-pool-indexer/internal/units"
)

// Settlement is one epoch transition of a pool.
// Corresponds to settlements table; (PoolAddress, Epoch) is unique.
type Settlement struct {
	PoolAddress      string
	Epoch            uint64
	BeliefID         string
	BDScore          decimal.Decimal // belief divergence score in [0,1]
	MarketPrediction decimal.Decimal // q
	FLong            decimal.Decimal // settlement factor, long side
	FShort           decimal.Decimal

	RLongBefore  units.DisplayAmount
	RLongAfter   units.DisplayAmount
	RShortBefore units.DisplayAmount
	RShortAfter  units.DisplayAmount

	// Q64.64 scale factors, stored as raw integers.
	SScaleLongBefore  string
	SScaleLongAfter   string
	SScaleShortBefore string
	SScaleShortAfter  string

	TxSignature string
	Slot        uint64
	BlockTime   *int64
	CreatedAt   int64 // ms

	// Triggered is set once epoch processing was handed to the trigger.
	Triggered bool
}
