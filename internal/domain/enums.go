package domain

// RecordedBy is the provenance of a mirrored row.
// The same schema serves both writers; only this tag and the
// confirmation flags differ.
type RecordedBy string

const (
	RecordedByServer  RecordedBy = "server"  // optimistic writer, request time
	RecordedByIndexer RecordedBy = "indexer" // this process, ledger confirmed
)

// String returns the string representation of RecordedBy.
func (r RecordedBy) String() string {
	return string(r)
}

// IsValid checks if the provenance is a known value.
func (r RecordedBy) IsValid() bool {
	return r == RecordedByServer || r == RecordedByIndexer
}

// Side is the pool side a position or trade belongs to.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// IsValid checks if the side is LONG or SHORT.
func (s Side) IsValid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// TradeType is the direction of a trade row.
type TradeType string

const (
	TradeTypeBuy       TradeType = "buy"
	TradeTypeSell      TradeType = "sell"
	TradeTypeLiquidity TradeType = "liquidity" // synthetic leg of a bilateral deposit
)

// IsValid checks if the trade type is known.
func (t TradeType) IsValid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell || t == TradeTypeLiquidity
}

// FlowType distinguishes a wallet-initiated deposit from the stake skimmed
// off a trade.
type FlowType string

const (
	FlowTypeDirect    FlowType = "direct"
	FlowTypeTradeSkim FlowType = "trade_skim"
)

// FlowDirection selects the custodian table.
type FlowDirection string

const (
	FlowDeposit    FlowDirection = "deposit"
	FlowWithdrawal FlowDirection = "withdrawal"
)

// RelevanceEventType names what produced an implied relevance row.
type RelevanceEventType string

const (
	RelevanceEventTrade      RelevanceEventType = "trade"
	RelevanceEventDeployment RelevanceEventType = "deployment"
	RelevanceEventRebase     RelevanceEventType = "rebase"
)
