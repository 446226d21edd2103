package memory

import (
	"context"
	"errors"
	"testing"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func TestPoolStore_InsertDuplicate(t *testing.T) {
	store := NewPoolStore()
	ctx := context.Background()

	p := &domain.Pool{Address: "pool1", BeliefID: "belief1"}
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, p); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPoolStore_ApplySnapshotSlotGuard(t *testing.T) {
	store := NewPoolStore()
	ctx := context.Background()
	_ = store.Insert(ctx, &domain.Pool{Address: "pool1"})

	applied, err := store.ApplySnapshot(ctx, "pool1", domain.PoolSnapshot{
		SLongSupply:    units.AtomicFromInt64(1100),
		LastSyncedSlot: 20,
		CurrentEpoch:   3,
	})
	if err != nil || !applied {
		t.Fatalf("ApplySnapshot = %v, %v", applied, err)
	}

	// Older slot is ignored.
	applied, err = store.ApplySnapshot(ctx, "pool1", domain.PoolSnapshot{
		SLongSupply:    units.AtomicFromInt64(1000),
		LastSyncedSlot: 10,
	})
	if err != nil || applied {
		t.Fatalf("stale ApplySnapshot = %v, %v", applied, err)
	}

	// Same slot is rewritten, but epoch never goes back.
	applied, _ = store.ApplySnapshot(ctx, "pool1", domain.PoolSnapshot{
		SLongSupply:    units.AtomicFromInt64(1200),
		LastSyncedSlot: 20,
		CurrentEpoch:   2,
	})
	if !applied {
		t.Fatal("same-slot snapshot should apply")
	}

	got, _ := store.Get(ctx, "pool1")
	if got.SLongSupply.String() != "1200" {
		t.Errorf("SLongSupply = %s, want 1200", got.SLongSupply)
	}
	if got.CurrentEpoch != 3 {
		t.Errorf("CurrentEpoch = %d, want 3", got.CurrentEpoch)
	}
}

func TestPoolStore_AdvanceEpochIgnoresSlot(t *testing.T) {
	store := NewPoolStore()
	ctx := context.Background()
	_ = store.Insert(ctx, &domain.Pool{Address: "pool1"})
	_, _ = store.ApplySnapshot(ctx, "pool1", domain.PoolSnapshot{LastSyncedSlot: 50, CurrentEpoch: 4})

	advanced, err := store.AdvanceEpoch(ctx, "pool1", 5)
	if err != nil || !advanced {
		t.Fatalf("AdvanceEpoch = %v, %v", advanced, err)
	}
	advanced, err = store.AdvanceEpoch(ctx, "pool1", 3)
	if err != nil || advanced {
		t.Fatalf("lower AdvanceEpoch = %v, %v", advanced, err)
	}

	got, _ := store.Get(ctx, "pool1")
	if got.CurrentEpoch != 5 {
		t.Errorf("CurrentEpoch = %d, want 5", got.CurrentEpoch)
	}
	if got.LastSyncedSlot != 50 {
		t.Errorf("LastSyncedSlot = %d, want 50", got.LastSyncedSlot)
	}
	if _, err := store.AdvanceEpoch(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPoolStore_UpdateKeepsSnapshot(t *testing.T) {
	store := NewPoolStore()
	ctx := context.Background()
	_ = store.Insert(ctx, &domain.Pool{Address: "pool1", RecordedBy: domain.RecordedByServer})
	_, _ = store.ApplySnapshot(ctx, "pool1", domain.PoolSnapshot{CurrentEpoch: 4, LastSyncedSlot: 1})

	err := store.Update(ctx, &domain.Pool{Address: "pool1", F: 3, RecordedBy: domain.RecordedByIndexer, Confirmed: true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := store.Get(ctx, "pool1")
	if got.CurrentEpoch != 4 || got.F != 3 || !got.Confirmed {
		t.Errorf("unexpected pool after update: %+v", got)
	}
}
