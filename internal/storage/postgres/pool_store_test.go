package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func display(t *testing.T, s string) units.DisplayAmount {
	t.Helper()
	d, err := units.ParseDisplay(s)
	require.NoError(t, err)
	return d
}

func testPool(address string) *domain.Pool {
	return &domain.Pool{
		Address:    address,
		BeliefID:   "belief-" + address,
		Deployer:   "DeployerWallet",
		F:          3,
		BetaNum:    1,
		BetaDen:    2,
		RecordedBy: domain.RecordedByServer,
		CreatedAt:  1700000000000,
		UpdatedAt:  1700000000000,
	}
}

func TestPoolStore_InsertAndGet(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewPoolStore(pool)

	p := testPool("PoolA")
	require.NoError(t, store.Insert(ctx, p))

	err := store.Insert(ctx, p)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.Get(ctx, "PoolA")
	require.NoError(t, err)
	assert.Equal(t, p.BeliefID, got.BeliefID)
	assert.Equal(t, uint16(3), got.F)
	assert.Equal(t, uint32(2), got.BetaDen)
	assert.Equal(t, domain.RecordedByServer, got.RecordedBy)
	assert.False(t, got.Confirmed)
	assert.Equal(t, "0", got.SqrtPriceLongX96)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolStore_ApplySnapshotSlotGuard(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewPoolStore(pool)
	require.NoError(t, store.Insert(ctx, testPool("PoolA")))

	snap := domain.PoolSnapshot{
		SLongSupply:       units.AtomicFromInt64(1_000000),
		SShortSupply:      units.AtomicFromInt64(2_000000),
		RLong:             display(t, "30.5"),
		RShort:            display(t, "70"),
		VaultBalance:      display(t, "100.5"),
		SqrtPriceLongX96:  "79228162514264337593543950336",
		SqrtPriceShortX96: "158456325028528675187087900672",
		PriceLong:         display(t, "1"),
		PriceShort:        display(t, "4"),
		CurrentEpoch:      2,
		LastSyncedSlot:    500,
	}
	applied, err := store.ApplySnapshot(ctx, "PoolA", snap)
	require.NoError(t, err)
	assert.True(t, applied)

	// Older slot is ignored.
	stale := snap
	stale.RLong = display(t, "1")
	stale.LastSyncedSlot = 499
	applied, err = store.ApplySnapshot(ctx, "PoolA", stale)
	require.NoError(t, err)
	assert.False(t, applied)

	// Same slot re-applies but never lowers the epoch.
	again := snap
	again.CurrentEpoch = 1
	applied, err = store.ApplySnapshot(ctx, "PoolA", again)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.Get(ctx, "PoolA")
	require.NoError(t, err)
	assert.Equal(t, "30.5", got.RLong.String())
	assert.Equal(t, "4", got.PriceShort.String())
	assert.Equal(t, uint64(2), got.CurrentEpoch)
	assert.Equal(t, uint64(500), got.LastSyncedSlot)
	assert.Equal(t, snap.SqrtPriceShortX96, got.SqrtPriceShortX96)
	assert.True(t, got.SShortSupply.Equal(units.AtomicFromInt64(2_000000)))

	_, err = store.ApplySnapshot(ctx, "missing", snap)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolStore_AdvanceEpochIgnoresSlot(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewPoolStore(pool)
	require.NoError(t, store.Insert(ctx, testPool("PoolA")))
	_, err := store.ApplySnapshot(ctx, "PoolA", domain.PoolSnapshot{CurrentEpoch: 4, LastSyncedSlot: 50})
	require.NoError(t, err)

	advanced, err := store.AdvanceEpoch(ctx, "PoolA", 5)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = store.AdvanceEpoch(ctx, "PoolA", 5)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := store.Get(ctx, "PoolA")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.CurrentEpoch)
	assert.Equal(t, uint64(50), got.LastSyncedSlot)

	_, err = store.AdvanceEpoch(ctx, "missing", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolStore_UpdateKeepsSnapshot(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewPoolStore(pool)
	require.NoError(t, store.Insert(ctx, testPool("PoolA")))
	_, err := store.ApplySnapshot(ctx, "PoolA", domain.PoolSnapshot{RLong: display(t, "9"), LastSyncedSlot: 10})
	require.NoError(t, err)

	p := testPool("PoolA")
	p.F = 5
	p.Confirmed = true
	require.NoError(t, store.Update(ctx, p))
	require.NoError(t, store.SetVolume(ctx, "PoolA", display(t, "62.5")))

	got, err := store.Get(ctx, "PoolA")
	require.NoError(t, err)
	assert.Equal(t, uint16(5), got.F)
	assert.True(t, got.Confirmed)
	assert.Equal(t, "9", got.RLong.String())
	assert.Equal(t, "62.5", got.TotalVolume.String())

	assert.ErrorIs(t, store.Update(ctx, testPool("missing")), storage.ErrNotFound)
}

func TestPoolStore_List(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewPoolStore(pool)
	require.NoError(t, store.Insert(ctx, testPool("PoolB")))
	require.NoError(t, store.Insert(ctx, testPool("PoolA")))

	pools, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "PoolA", pools[0].Address)
	assert.Equal(t, "PoolB", pools[1].Address)
}
