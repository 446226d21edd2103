package memory

import (
	"context"
	"errors"
	"testing"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func TestAgentStore_ApplyAdjustmentOnce(t *testing.T) {
	store := NewAgentStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Agent{ID: "a1", Wallet: "w1"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	adj := &domain.StakeAdjustment{SourceKey: "deposit:sig1", AgentID: "a1", Delta: units.AtomicFromInt64(5_000000)}
	for i := 0; i < 3; i++ {
		applied, err := store.ApplyAdjustment(ctx, adj)
		if err != nil {
			t.Fatalf("ApplyAdjustment failed: %v", err)
		}
		if applied != (i == 0) {
			t.Errorf("call %d: applied = %v", i, applied)
		}
	}

	got, _ := store.GetByWallet(ctx, "w1")
	if got.CustodianBalance.String() != "5000000" {
		t.Errorf("CustodianBalance = %s, want 5000000", got.CustodianBalance)
	}

	_, err := store.ApplyAdjustment(ctx, &domain.StakeAdjustment{SourceKey: "x", AgentID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAgentStore_DuplicateWallet(t *testing.T) {
	store := NewAgentStore()
	ctx := context.Background()
	_ = store.Insert(ctx, &domain.Agent{ID: "a1", Wallet: "w1"})
	if err := store.Insert(ctx, &domain.Agent{ID: "a2", Wallet: "w1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}
