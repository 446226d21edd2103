package domain

import (
	"github.com/shopspring/decimal"

	"belief-pool-indexer/internal/units"
)

// ImpliedRelevance is one entry of the relevance history.
// EventRef is unique; indexer rows are never rewritten.
type ImpliedRelevance struct {
	EventRef    string
	PoolAddress string
	BeliefID    string
	Relevance   decimal.Decimal // in [0,1]
	RLong       units.DisplayAmount
	RShort      units.DisplayAmount
	EventType   RelevanceEventType
	RecordedBy  RecordedBy
	RecordedAt  int64 // ms
}

// Cursor is the backfill checkpoint for one program.
type Cursor struct {
	ProgramID     string
	LastSignature string
	LastSlot      uint64
	UpdatedAt     int64 // ms
}
