// Package memory provides in-memory implementations of the storage
// interfaces, used by tests and by the --use-memory mode of the indexer.
package memory

import "belief-pool-indexer/internal/storage"

var (
	_ storage.PoolStore       = (*PoolStore)(nil)
	_ storage.TradeStore      = (*TradeStore)(nil)
	_ storage.SettlementStore = (*SettlementStore)(nil)
	_ storage.FundingStore    = (*FundingStore)(nil)
	_ storage.AgentStore      = (*AgentStore)(nil)
	_ storage.BalanceStore    = (*BalanceStore)(nil)
	_ storage.RelevanceStore  = (*RelevanceStore)(nil)
	_ storage.BeliefStore     = (*BeliefStore)(nil)
	_ storage.CursorStore     = (*CursorStore)(nil)
)

// NewStores returns a fresh set of empty in-memory stores.
func NewStores() *storage.Stores {
	return &storage.Stores{
		Pools:       NewPoolStore(),
		Trades:      NewTradeStore(),
		Settlements: NewSettlementStore(),
		Funding:     NewFundingStore(),
		Agents:      NewAgentStore(),
		Balances:    NewBalanceStore(),
		Relevance:   NewRelevanceStore(),
		Beliefs:     NewBeliefStore(),
		Cursors:     NewCursorStore(),
	}
}
