package cronrunner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/observability"
)

// Resyncer re-reads every pool from the ledger.
type Resyncer interface {
	ResyncAll(ctx context.Context) (int, error)
}

// ResyncJob returns a job that sweeps all pools, repairing snapshots that
// drifted because an event was missed.
func ResyncJob(r Resyncer, logger *zap.Logger) func(context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) {
		start := time.Now()
		failed, err := r.ResyncAll(ctx)
		if err != nil {
			observability.RecordResync("error")
			logger.Error("pool resync sweep aborted", zap.Int("failed", failed), zap.Error(err))
			return
		}
		if failed > 0 {
			observability.RecordResync("partial")
			logger.Warn("pool resync sweep finished with failures",
				zap.Int("failed", failed), zap.Duration("took", time.Since(start)))
			return
		}
		observability.RecordResync("ok")
		logger.Info("pool resync sweep finished", zap.Duration("took", time.Since(start)))
	}
}
