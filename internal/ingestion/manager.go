package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
)

// ErrManagerStopped is returned by Submit after Stop.
var ErrManagerStopped = errors.New("ingestion manager stopped")

// Manager fans transactions out to a fixed set of workers. A transaction is
// routed by the first pool it touches, or by its signature when it touches
// none, so writes to one pool's positions never run concurrently. Events of
// a transaction run in emission order on one worker.
type Manager struct {
	handler Handler
	logger  *zap.Logger
	queues  []chan []decoder.Event

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
	failed  int
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Workers   int // default 4
	QueueSize int // per worker, default 64
	Logger    *zap.Logger
}

// NewManager creates a manager. Call Start before Submit.
func NewManager(handler Handler, opts ManagerOptions) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	queues := make([]chan []decoder.Event, opts.Workers)
	for i := range queues {
		queues[i] = make(chan []decoder.Event, opts.QueueSize)
	}
	return &Manager{
		handler: handler,
		logger:  opts.Logger,
		queues:  queues,
		stats:   newStats(),
	}
}

// Start launches the workers. ctx is passed to every Handle call.
func (m *Manager) Start(ctx context.Context) {
	for i, q := range m.queues {
		m.wg.Add(1)
		go m.work(ctx, i, q)
	}
}

// Submit queues one transaction's events. It blocks while the target
// worker's queue is full.
func (m *Manager) Submit(ctx context.Context, events []decoder.Event) error {
	if len(events) == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return ErrManagerStopped
	}

	q := m.queues[m.shard(shardKey(events))]
	select {
	case q <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued work and waits for the workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, q := range m.queues {
		close(q)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Stats returns totals since Start and how many transactions hit a hard failure.
func (m *Manager) Stats() (Stats, int) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := newStats()
	out.Add(m.stats)
	return out, m.failed
}

func (m *Manager) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(m.queues)))
}

// shardKey is the pool of the first pool-scoped event, else the signature.
func shardKey(events []decoder.Event) string {
	for _, ev := range events {
		switch e := ev.(type) {
		case decoder.TradeEvent:
			return e.Pool
		case decoder.LiquidityAdded:
			return e.Pool
		case decoder.SettlementEvent:
			return e.Pool
		case decoder.MarketDeployedEvent:
			return e.Pool
		}
	}
	return events[0].EventMeta().Signature
}

func (m *Manager) work(ctx context.Context, id int, q <-chan []decoder.Event) {
	defer m.wg.Done()
	for events := range q {
		st, err := HandleTx(ctx, m.handler, events)

		m.statsMu.Lock()
		m.stats.Add(st)
		if err != nil {
			m.failed++
		}
		m.statsMu.Unlock()

		if err != nil {
			m.logger.Error("transaction left unreconciled",
				zap.Int("worker", id),
				zap.String("signature", events[0].EventMeta().Signature),
				zap.Uint64("slot", events[0].EventMeta().Slot),
				zap.Error(err))
		}
	}
}
