package domain

import "belief-pool-indexer/internal/units"

// Trade is one ledger trade, or one synthetic leg of a liquidity deposit.
// Corresponds to trades table in PostgreSQL.
type Trade struct {
	ID          string // uuid
	TxSignature string // UNIQUE idempotency key; liquidity short leg uses "<sig>:short"
	PoolAddress string
	BeliefID    string
	AgentID     string
	Wallet      string
	Side        Side
	TradeType   TradeType

	TokenAmount units.AtomicAmount
	USDCAmount  units.AtomicAmount // paid on buy, received on sell
	SkimAmount  units.AtomicAmount // usdc_to_stake, zero for sells

	SLongBefore  units.AtomicAmount
	SLongAfter   units.AtomicAmount
	SShortBefore units.AtomicAmount
	SShortAfter  units.AtomicAmount

	SqrtPriceLongX96After  string
	SqrtPriceShortX96After string

	RecordedBy       RecordedBy
	Confirmed        bool
	IndexerCorrected bool

	// Optimistic amounts kept for audit when the ledger overrode them.
	ServerTokenAmount *units.AtomicAmount
	ServerUSDCAmount  *units.AtomicAmount

	Slot      uint64
	BlockTime *int64 // unix seconds, nil when the ledger did not provide it
	CreatedAt int64  // ms
}
