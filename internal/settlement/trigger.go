// Package settlement dispatches epoch processing after a settlement is
// recorded.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/observability"
)

// DefaultTimeout bounds one dispatch.
const DefaultTimeout = 30 * time.Second

// Options configures a Trigger.
type Options struct {
	Guard   Guard // default NewMemoryGuard()
	Timeout time.Duration
	Logger  *zap.Logger
}

// Trigger calls the epoch processor once per (pool, epoch).
// Dispatches run detached from the caller and never report failure back.
type Trigger struct {
	processor EpochProcessor
	guard     Guard
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewTrigger creates a settlement trigger.
func NewTrigger(processor EpochProcessor, opts Options) *Trigger {
	if processor == nil {
		processor = NopProcessor{}
	}
	if opts.Guard == nil {
		opts.Guard = NewMemoryGuard()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Trigger{
		processor: processor,
		guard:     opts.Guard,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// Dispatch schedules epoch processing for beliefID. epoch is the epoch the
// settlement completed.
func (t *Trigger) Dispatch(beliefID, poolAddress string, epoch uint64) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		t.run(ctx, beliefID, poolAddress, epoch)
	}()
}

func (t *Trigger) run(ctx context.Context, beliefID, poolAddress string, epoch uint64) {
	log := t.logger.With(
		zap.String("belief", beliefID),
		zap.String("pool", poolAddress),
		zap.Uint64("epoch", epoch))

	first, err := t.guard.Claim(ctx, fmt.Sprintf("%s:%d", poolAddress, epoch))
	if err != nil {
		log.Warn("settlement guard unavailable, dispatching anyway", zap.Error(err))
	} else if !first {
		observability.RecordSettlementTrigger("duplicate")
		log.Debug("epoch processing already dispatched")
		return
	}

	if err := t.processor.ProcessEpoch(ctx, EpochRequest{BeliefID: beliefID, CurrentEpoch: epoch}); err != nil {
		observability.RecordSettlementTrigger("failed")
		log.Error("epoch processing failed", zap.Error(err))
		return
	}
	observability.RecordSettlementTrigger("ok")
	log.Info("epoch processing dispatched")
}

// Wait blocks until every dispatched call has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
