package domain

import "belief-pool-indexer/internal/units"

// FundingFlow is one custodian deposit or withdrawal.
// Direction picks the table (custodian_deposits / custodian_withdrawals);
// TxSignature is unique within each.
type FundingFlow struct {
	ID           string // uuid
	Direction    FlowDirection
	TxSignature  string // "<sig>:skim" for trade skims
	AgentID      string
	Wallet       string
	Counterparty string // recipient of a withdrawal, custodian for deposits
	Amount       units.AtomicAmount
	FlowType     FlowType

	RecordedBy       RecordedBy
	Confirmed        bool
	IndexerCorrected bool
	ServerAmount     *units.AtomicAmount

	// AgentCredited is set once the stake adjustment for this row landed.
	AgentCredited bool

	Slot      uint64
	BlockTime *int64
	CreatedAt int64 // ms
}
