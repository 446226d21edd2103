// Package reconcile makes the relational mirror agree with the ledger one
// event at a time. Every handler is safe to run again for the same event and
// concurrently with the optimistic writer racing on the same keys.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/projection"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/stake"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

var (
	// ErrOutOfOrder means a pool or participant the event refers to is not
	// mirrored yet. The event was skipped and should be redelivered.
	ErrOutOfOrder = errors.New("dependency not yet mirrored")

	// ErrUnknownEvent is returned for event types the engine does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// DefaultAmountEpsilon is the tolerance, in atomic units, below which an
// optimistic amount is considered equal to the ledger amount.
const DefaultAmountEpsilon = 10

// Outcome is what handling one event did to its primary row.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeCorrected Outcome = "corrected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Dispatcher schedules epoch processing; see settlement.Trigger.
type Dispatcher interface {
	Dispatch(beliefID, poolAddress string, epoch uint64)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Stores    *storage.Stores
	Projector *projection.Projector
	Stake     *stake.Updater
	Relevance *relevance.Recorder
	Trigger   Dispatcher // nil disables epoch processing
}

// Options configures an Engine.
type Options struct {
	AmountEpsilon int64 // default DefaultAmountEpsilon
	Logger        *zap.Logger
	Now           func() time.Time
	NewID         func() string
}

// Engine reconciles decoded events into the mirror.
type Engine struct {
	pools       storage.PoolStore
	trades      storage.TradeStore
	settlements storage.SettlementStore
	funding     storage.FundingStore
	agents      storage.AgentStore
	beliefs     storage.BeliefStore

	projector *projection.Projector
	stake     *stake.Updater
	relevance *relevance.Recorder
	trigger   Dispatcher

	epsilon units.AtomicAmount
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.AmountEpsilon <= 0 {
		opts.AmountEpsilon = DefaultAmountEpsilon
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	s := deps.Stores
	return &Engine{
		pools:       s.Pools,
		trades:      s.Trades,
		settlements: s.Settlements,
		funding:     s.Funding,
		agents:      s.Agents,
		beliefs:     s.Beliefs,
		projector:   deps.Projector,
		stake:       deps.Stake,
		relevance:   deps.Relevance,
		trigger:     deps.Trigger,
		epsilon:     units.AtomicFromInt64(opts.AmountEpsilon),
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
	}
}

// Handle reconciles one event. ErrOutOfOrder is returned with
// OutcomeSkipped; callers log it and move on.
func (e *Engine) Handle(ctx context.Context, ev decoder.Event) (Outcome, error) {
	start := time.Now()
	var (
		out Outcome
		err error
	)
	switch v := ev.(type) {
	case decoder.TradeEvent:
		out, err = e.handleTrade(ctx, v)
	case decoder.DepositEvent:
		out, err = e.handleDeposit(ctx, v)
	case decoder.WithdrawEvent:
		out, err = e.handleWithdraw(ctx, v)
	case decoder.LiquidityAdded:
		out, err = e.handleLiquidity(ctx, v)
	case decoder.MarketDeployedEvent:
		out, err = e.handleDeployment(ctx, v)
	case decoder.SettlementEvent:
		out, err = e.handleSettlement(ctx, v)
	default:
		return OutcomeFailed, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	kind := string(ev.Kind())
	meta := ev.EventMeta()
	switch {
	case errors.Is(err, ErrOutOfOrder):
		out = OutcomeSkipped
		observability.RecordSkip(kind, "out_of_order")
		e.logger.Warn("event skipped",
			zap.String("kind", kind),
			zap.String("signature", meta.Signature),
			zap.Uint64("slot", meta.Slot),
			zap.Error(err))
	case err != nil:
		out = OutcomeFailed
		e.logger.Error("event failed",
			zap.String("kind", kind),
			zap.String("signature", meta.Signature),
			zap.Uint64("slot", meta.Slot),
			zap.Error(err))
	default:
		e.logger.Debug("event reconciled",
			zap.String("kind", kind),
			zap.String("signature", meta.Signature),
			zap.String("outcome", string(out)))
	}
	observability.RecordEvent(kind, string(out), time.Since(start).Seconds())
	return out, err
}

func (e *Engine) pool(ctx context.Context, address string) (*domain.Pool, error) {
	p, err := e.pools.Get(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: pool %s", ErrOutOfOrder, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", address, err)
	}
	return p, nil
}

func (e *Engine) agentByWallet(ctx context.Context, wallet string) (*domain.Agent, error) {
	a, err := e.agents.GetByWallet(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: agent for wallet %s", ErrOutOfOrder, wallet)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent for wallet %s: %w", wallet, err)
	}
	return a, nil
}

// eventTimeMillis prefers the block time, then the program timestamp.
func (e *Engine) eventTimeMillis(meta decoder.Meta, programTS int64) int64 {
	if meta.BlockTime != nil {
		return *meta.BlockTime * 1000
	}
	if programTS > 0 {
		return programTS * 1000
	}
	return e.now().UnixMilli()
}

// relevanceRef keys an implied relevance row. Trade and liquidity rows share
// the trade key; other kinds count ordinals separately and get a suffix.
func relevanceRef(key string, t domain.RelevanceEventType) string {
	if t == domain.RelevanceEventTrade {
		return key
	}
	return key + ":" + string(t)
}
