package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/solana"
)

// ErrSubscriptionClosed is returned by Run when the node drops the stream
// and the client gives up reconnecting.
var ErrSubscriptionClosed = errors.New("log subscription closed")

// Runner streams the program's logs from the node and feeds every decoded
// transaction to the Manager.
type Runner struct {
	ws      solana.WSClient
	decoder *decoder.Decoder
	manager *Manager
	logger  *zap.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	WS      solana.WSClient
	Decoder *decoder.Decoder
	Manager *Manager
	Logger  *zap.Logger
}

// NewRunner creates a live ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		ws:      opts.WS,
		decoder: opts.Decoder,
		manager: opts.Manager,
		logger:  logger,
	}
}

// Run subscribes and blocks until ctx is cancelled or the stream closes.
func (r *Runner) Run(ctx context.Context) error {
	programID := r.decoder.ProgramID()
	notifications, err := r.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{programID}})
	if err != nil {
		return fmt.Errorf("subscribe to program logs: %w", err)
	}
	r.logger.Info("listening for program logs", zap.String("program", programID))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return ErrSubscriptionClosed
			}
			if err := r.dispatch(ctx, n); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, n solana.LogNotification) error {
	if n.Failed() {
		r.logger.Debug("failed transaction ignored", zap.String("signature", n.Signature))
		return nil
	}
	events := r.decoder.DecodeLogs(decoder.Tx{
		Signature: n.Signature,
		Slot:      n.Slot,
		Logs:      n.Logs,
	})

	observability.RecordTransactionDecoded(n.Slot)
	if len(events) == 0 {
		return nil
	}

	if err := r.manager.Submit(ctx, events); err != nil {
		return fmt.Errorf("submit %s: %w", n.Signature, err)
	}
	return nil
}
