package memory

import (
	"context"
	"sort"
	"sync"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by tx_signature
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

// Insert adds a trade. Returns ErrDuplicateKey if tx_signature exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TxSignature]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *t
	s.data[t.TxSignature] = &copy
	return nil
}

// GetBySignature retrieves a trade by signature.
func (s *TradeStore) GetBySignature(_ context.Context, sig string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[sig]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

// Update overwrites the row with the same signature.
func (s *TradeStore) Update(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[t.TxSignature]
	if !ok {
		return storage.ErrNotFound
	}
	copy := *t
	copy.ID = cur.ID
	copy.CreatedAt = cur.CreatedAt
	s.data[t.TxSignature] = &copy
	return nil
}

// ListByPosition returns an agent's trades on one pool side.
func (s *TradeStore) ListByPosition(_ context.Context, agentID, pool string, side domain.Side) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool {
		return t.AgentID == agentID && t.PoolAddress == pool && t.Side == side
	}), nil
}

// ListByPool returns every trade of a pool.
func (s *TradeStore) ListByPool(_ context.Context, pool string) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool { return t.PoolAddress == pool }), nil
}

// SumUSDC returns the sum of usdc_amount over a pool's trades.
func (s *TradeStore) SumUSDC(ctx context.Context, pool string) (units.AtomicAmount, error) {
	trades, _ := s.ListByPool(ctx, pool)
	var sum units.AtomicAmount
	for _, t := range trades {
		sum = sum.Add(t.USDCAmount)
	}
	return sum, nil
}

func (s *TradeStore) filter(keep func(*domain.Trade) bool) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if keep(t) {
			copy := *t
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].TxSignature < result[j].TxSignature
	})
	return result
}
