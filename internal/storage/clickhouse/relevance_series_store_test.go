package clickhouse_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/domain"
	chstore "belief-pool-indexer/internal/storage/clickhouse"
	"belief-pool-indexer/internal/units"
)

func relevanceEntry(ref string, at int64, rel string) *domain.ImpliedRelevance {
	rLong, _ := units.ParseDisplay("30")
	rShort, _ := units.ParseDisplay("70")
	return &domain.ImpliedRelevance{
		EventRef:    ref,
		PoolAddress: "pool-1",
		BeliefID:    "belief-1",
		Relevance:   decimal.RequireFromString(rel),
		RLong:       rLong,
		RShort:      rShort,
		EventType:   domain.RelevanceEventTrade,
		RecordedBy:  domain.RecordedByIndexer,
		RecordedAt:  at,
	}
}

func TestRelevanceSeriesStore_InsertAndRange(t *testing.T) {
	conn := setupTestDB(t)

	store := chstore.NewRelevanceSeriesStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.ImpliedRelevance{
		relevanceEntry("sig-1", 1000, "0.3"),
		relevanceEntry("sig-2", 2000, "0.35"),
		relevanceEntry("sig-3", 3000, "1"),
	})
	require.NoError(t, err)

	got, err := store.GetByPool(ctx, "pool-1", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sig-1", got[0].EventRef)
	assert.True(t, got[0].Relevance.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, "30", got[0].RLong.String())
	assert.Equal(t, domain.RelevanceEventTrade, got[1].EventType)

	all, err := store.GetByPool(ctx, "pool-1", 0, 10_000)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].Relevance.Equal(decimal.NewFromInt(1)))
}

func TestRelevanceSeriesStore_ReplayCollapses(t *testing.T) {
	conn := setupTestDB(t)

	store := chstore.NewRelevanceSeriesStore(conn)
	ctx := context.Background()

	e := relevanceEntry("sig-1", 1000, "0.3")
	require.NoError(t, store.InsertBulk(ctx, []*domain.ImpliedRelevance{e}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.ImpliedRelevance{e}))

	got, err := store.GetByPool(ctx, "pool-1", 0, 10_000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRelevanceSeriesStore_EmptyBatch(t *testing.T) {
	store := chstore.NewRelevanceSeriesStore(nil)
	assert.NoError(t, store.InsertBulk(context.Background(), nil))
}
