package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/solana"
	"belief-pool-indexer/internal/storage"
)

// cursorEvery is how many transactions are handled between cursor saves.
const cursorEvery = 100

// Backfiller replays the program's signature history from the last saved
// cursor up to the present, oldest first.
type Backfiller struct {
	rpc       solana.RPCClient
	decoder   *decoder.Decoder
	handler   Handler
	cursors   storage.CursorStore
	limiter   *rate.Limiter
	pageLimit int
	maxPages  int
	logger    *zap.Logger
	now       func() time.Time
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	RPC               solana.RPCClient
	Decoder           *decoder.Decoder
	Handler           Handler
	Cursors           storage.CursorStore
	RequestsPerSecond float64 // 0 disables limiting
	Burst             int
	PageLimit         int // signatures per page, default 1000
	MaxPages          int // 0 walks the whole history
	Logger            *zap.Logger
	Now               func() time.Time
}

// BackfillResult summarizes one run.
type BackfillResult struct {
	Stats
	Signatures int
	Skipped    int  // failed or vanished transactions
	Truncated  bool // MaxPages was reached before the cursor
	Cursor     *domain.Cursor
}

// NewBackfiller creates a new historical backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	pageLimit := opts.PageLimit
	if pageLimit <= 0 || pageLimit > 1000 {
		pageLimit = 1000
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backfiller{
		rpc:       opts.RPC,
		decoder:   opts.Decoder,
		handler:   opts.Handler,
		cursors:   opts.Cursors,
		limiter:   limiter,
		pageLimit: pageLimit,
		maxPages:  opts.MaxPages,
		logger:    logger,
		now:       now,
	}
}

// Run walks back to the saved cursor, then handles every transaction it
// found in ledger order. The cursor only moves past fully handled
// transactions, so a hard failure is retried by the next run.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	programID := b.decoder.ProgramID()
	res := &BackfillResult{Stats: newStats()}

	until := ""
	cur, err := b.cursors.Get(ctx, programID)
	switch {
	case err == nil:
		until = cur.LastSignature
		res.Cursor = cur
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	infos, truncated, err := b.collect(ctx, programID, until)
	if err != nil {
		return nil, err
	}
	res.Signatures = len(infos)
	res.Truncated = truncated
	if truncated {
		b.logger.Warn("backfill window truncated, older history left unread",
			zap.Int("max_pages", b.maxPages),
			zap.String("oldest_signature", infos[len(infos)-1].Signature))
	}

	var last *solana.SignatureInfo
	for i, info := range oldestFirst(infos) {
		st, skipped, err := b.transaction(ctx, info)
		res.Stats.Add(st)
		if skipped {
			res.Skipped++
		}
		if err != nil {
			if saveErr := b.saveCursor(ctx, programID, last, res); saveErr != nil {
				b.logger.Error("save cursor failed", zap.Error(saveErr))
			}
			return res, fmt.Errorf("handle %s: %w", info.Signature, err)
		}
		last = &info
		if (i+1)%cursorEvery == 0 {
			if err := b.saveCursor(ctx, programID, last, res); err != nil {
				return res, err
			}
		}
	}

	if err := b.saveCursor(ctx, programID, last, res); err != nil {
		return res, err
	}
	b.logger.Info("backfill finished",
		zap.Int("signatures", res.Signatures),
		zap.Int("transactions", res.Transactions),
		zap.Int("events", res.Events),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// Transaction fetches and handles a single signature.
func (b *Backfiller) Transaction(ctx context.Context, signature string) (Stats, error) {
	st, _, err := b.transaction(ctx, solana.SignatureInfo{Signature: signature})
	return st, err
}

func (b *Backfiller) collect(ctx context.Context, programID, until string) ([]solana.SignatureInfo, bool, error) {
	var (
		all    []solana.SignatureInfo
		before string
	)
	for page := 0; b.maxPages == 0 || page < b.maxPages; page++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, false, err
		}
		start := time.Now()
		infos, err := b.rpc.GetSignaturesForAddress(ctx, programID, &solana.SignaturesOpts{
			Before: before,
			Until:  until,
			Limit:  b.pageLimit,
		})
		observability.RecordRPCLatency("getSignaturesForAddress", time.Since(start).Seconds())
		if err != nil {
			return nil, false, fmt.Errorf("get signatures before %q: %w", before, err)
		}
		all = append(all, infos...)
		if len(infos) < b.pageLimit {
			return all, false, nil
		}
		before = infos[len(infos)-1].Signature
	}
	return all, len(all) > 0, nil
}

func (b *Backfiller) transaction(ctx context.Context, info solana.SignatureInfo) (Stats, bool, error) {
	if info.Err != nil {
		return newStats(), true, nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return newStats(), false, err
	}

	start := time.Now()
	tx, err := b.rpc.GetTransaction(ctx, info.Signature)
	observability.RecordRPCLatency("getTransaction", time.Since(start).Seconds())
	if errors.Is(err, solana.ErrNotFound) {
		b.logger.Warn("transaction not found", zap.String("signature", info.Signature))
		return newStats(), true, nil
	}
	if err != nil {
		return newStats(), false, fmt.Errorf("get transaction: %w", err)
	}

	events := b.decoder.DecodeLogs(decoder.Tx{
		Signature: info.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		Logs:      tx.Logs,
		Failed:    tx.Err != nil,
	})
	if tx.Err != nil {
		return newStats(), true, nil
	}
	observability.RecordTransactionDecoded(tx.Slot)

	st, err := HandleTx(ctx, b.handler, events)
	return st, false, err
}

func (b *Backfiller) saveCursor(ctx context.Context, programID string, last *solana.SignatureInfo, res *BackfillResult) error {
	if last == nil {
		return nil
	}
	c := &domain.Cursor{
		ProgramID:     programID,
		LastSignature: last.Signature,
		LastSlot:      last.Slot,
		UpdatedAt:     b.now().UnixMilli(),
	}
	if err := b.cursors.Set(ctx, c); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	res.Cursor = c
	return nil
}
