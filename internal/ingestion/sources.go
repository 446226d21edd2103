package ingestion

import (
	"context"
	"errors"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/reconcile"
)

// Handler reconciles one decoded event. *reconcile.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev decoder.Event) (reconcile.Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev decoder.Event) (reconcile.Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, ev decoder.Event) (reconcile.Outcome, error) {
	return f(ctx, ev)
}

// isHardFailure reports whether err must stop progress past the event.
// Out-of-order events are retried by a later replay, not by blocking.
func isHardFailure(err error) bool {
	return err != nil && !errors.Is(err, reconcile.ErrOutOfOrder)
}

// Stats counts what a batch of transactions produced.
type Stats struct {
	Transactions int
	Events       int
	Outcomes     map[reconcile.Outcome]int
}

func newStats() Stats {
	return Stats{Outcomes: make(map[reconcile.Outcome]int)}
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Transactions += o.Transactions
	s.Events += o.Events
	if s.Outcomes == nil {
		s.Outcomes = make(map[reconcile.Outcome]int)
	}
	for k, v := range o.Outcomes {
		s.Outcomes[k] += v
	}
}

// HandleTx feeds one transaction's events to h in emission order. It stops at
// the first hard failure so the caller can leave the transaction unacknowledged.
func HandleTx(ctx context.Context, h Handler, events []decoder.Event) (Stats, error) {
	st := newStats()
	st.Transactions = 1
	for _, ev := range events {
		out, err := h.Handle(ctx, ev)
		st.Events++
		st.Outcomes[out]++
		if isHardFailure(err) {
			return st, err
		}
	}
	return st, nil
}
