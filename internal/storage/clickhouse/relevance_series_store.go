package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// relevanceScale matches the Decimal(19, 18) column.
const relevanceScale = 18

// RelevanceSeriesStore implements storage.RelevanceSeriesStore using ClickHouse.
type RelevanceSeriesStore struct {
	conn *Conn
}

// NewRelevanceSeriesStore creates a new RelevanceSeriesStore.
func NewRelevanceSeriesStore(conn *Conn) *RelevanceSeriesStore {
	return &RelevanceSeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RelevanceSeriesStore = (*RelevanceSeriesStore)(nil)

// InsertBulk appends entries. Replays of the same event_ref are collapsed by
// ReplacingMergeTree and by FINAL on read.
func (s *RelevanceSeriesStore) InsertBulk(ctx context.Context, entries []*domain.ImpliedRelevance) (err error) {
	if len(entries) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "relevance_series_insert", time.Since(start).Seconds(), err)
	}(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO implied_relevance_series (
			pool_address, event_ref, belief_id, relevance, r_long, r_short,
			event_type, recorded_by, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		err = batch.Append(
			e.PoolAddress, e.EventRef, e.BeliefID,
			e.Relevance.Round(relevanceScale),
			e.RLong.Decimal(), e.RShort.Decimal(),
			string(e.EventType), string(e.RecordedBy), uint64(e.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPool returns entries with recorded_at in [start, end], ordered by time.
func (s *RelevanceSeriesStore) GetByPool(ctx context.Context, pool string, start, end int64) ([]*domain.ImpliedRelevance, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT pool_address, event_ref, belief_id, relevance, r_long, r_short,
			event_type, recorded_by, recorded_at
		FROM implied_relevance_series FINAL
		WHERE pool_address = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC, event_ref ASC
	`, pool, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query relevance series: %w", err)
	}
	defer rows.Close()

	var result []*domain.ImpliedRelevance
	for rows.Next() {
		var (
			e                     domain.ImpliedRelevance
			rLong, rShort         decimal.Decimal
			eventType, recordedBy string
			recordedAt            uint64
		)
		if err := rows.Scan(
			&e.PoolAddress, &e.EventRef, &e.BeliefID, &e.Relevance, &rLong, &rShort,
			&eventType, &recordedBy, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relevance series: %w", err)
		}
		e.RLong = units.NewDisplay(rLong)
		e.RShort = units.NewDisplay(rShort)
		e.EventType = domain.RelevanceEventType(eventType)
		e.RecordedBy = domain.RecordedBy(recordedBy)
		e.RecordedAt = int64(recordedAt)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relevance series: %w", err)
	}
	return result, nil
}
