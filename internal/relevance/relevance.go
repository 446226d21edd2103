// Package relevance derives the implied relevance signal from pool reserves
// and records it in the provenance-tagged history.
package relevance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// Precision is the number of fractional digits kept for relevance values.
const Precision = 18

var half = decimal.RequireFromString("0.5")

// Compute returns rLong / (rLong + rShort), or 0.5 when both are zero.
// Negative reserves are treated as zero so the result stays in [0, 1].
func Compute(rLong, rShort units.DisplayAmount) decimal.Decimal {
	l := decimal.Max(rLong.Decimal(), decimal.Zero)
	s := decimal.Max(rShort.Decimal(), decimal.Zero)
	total := l.Add(s)
	if total.IsZero() {
		return half
	}
	return l.DivRound(total, Precision)
}

// Recorder writes relevance entries to the history and, when configured,
// to the analytics series.
type Recorder struct {
	store  storage.RelevanceStore
	series storage.RelevanceSeriesStore
	logger *zap.Logger
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSeries mirrors written entries into an analytics store.
func WithSeries(s storage.RelevanceSeriesStore) RecorderOption {
	return func(r *Recorder) { r.series = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder over the history store.
func NewRecorder(store storage.RelevanceStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Entry describes one observation to record.
type Entry struct {
	EventRef    string
	PoolAddress string
	BeliefID    string
	RLong       units.DisplayAmount
	RShort      units.DisplayAmount
	EventType   domain.RelevanceEventType
	RecordedAt  *int64 // ms; defaults to now
}

// Record derives the relevance of e and upserts it with indexer provenance.
func (r *Recorder) Record(ctx context.Context, e Entry) (*domain.ImpliedRelevance, error) {
	recordedAt := r.now().UnixMilli()
	if e.RecordedAt != nil {
		recordedAt = *e.RecordedAt
	}
	row := &domain.ImpliedRelevance{
		EventRef:    e.EventRef,
		PoolAddress: e.PoolAddress,
		BeliefID:    e.BeliefID,
		Relevance:   Compute(e.RLong, e.RShort),
		RLong:       e.RLong,
		RShort:      e.RShort,
		EventType:   e.EventType,
		RecordedBy:  domain.RecordedByIndexer,
		RecordedAt:  recordedAt,
	}
	written, err := r.store.Upsert(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("upsert implied relevance %s: %w", e.EventRef, err)
	}
	if !written || r.series == nil {
		return row, nil
	}
	if err := r.series.InsertBulk(ctx, []*domain.ImpliedRelevance{row}); err != nil {
		// The series is derived; the history row is already durable.
		r.logger.Warn("relevance series write failed",
			zap.String("event_ref", e.EventRef),
			zap.Error(err))
	}
	return row, nil
}
