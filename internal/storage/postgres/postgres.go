package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

// Pool is the shared connection pool handed to every store.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption tunes the pgxpool configuration parsed from the DSN.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps open connections. Zero keeps the DSN or pgx default.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithMinConns keeps n connections warm.
func WithMinConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MinConns = n
		}
	}
}

// WithMaxConnLifetime recycles connections older than d.
func WithMaxConnLifetime(d time.Duration) PoolOption {
	return func(c *pgxpool.Config) {
		if d > 0 {
			c.MaxConnLifetime = d
		}
	}
}

// NewPool connects and pings before returning, so a bad DSN fails at startup
// rather than on the first reconciled event.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s/%s: %w", cfg.ConnConfig.Host, cfg.ConnConfig.Database, err)
	}
	return &Pool{Pool: pool}, nil
}

// NewStores returns every mirror repository backed by pool.
func NewStores(pool *Pool) *storage.Stores {
	return &storage.Stores{
		Pools:       NewPoolStore(pool),
		Trades:      NewTradeStore(pool),
		Settlements: NewSettlementStore(pool),
		Funding:     NewFundingStore(pool),
		Agents:      NewAgentStore(pool),
		Balances:    NewBalanceStore(pool),
		Relevance:   NewRelevanceStore(pool),
		Beliefs:     NewBeliefStore(pool),
		Cursors:     NewCursorStore(pool),
	}
}

// SQLSTATE codes the stores translate into storage errors.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isDuplicateKeyError(err error) bool {
	return hasSQLState(err, sqlStateUniqueViolation)
}

func isForeignKeyError(err error) bool {
	return hasSQLState(err, sqlStateForeignKeyViolation)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// NUMERIC columns are written as decimal strings and read back through ::text.

func nullableAtomic(a *units.AtomicAmount) *string {
	if a == nil {
		return nil
	}
	s := a.String()
	return &s
}

func parseNullableAtomic(s *string) (*units.AtomicAmount, error) {
	if s == nil {
		return nil, nil
	}
	a, err := units.ParseAtomic(*s)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// numerics collects parse errors so scan functions can convert a row's
// text columns in one pass and check once.
type numerics struct {
	err error
}

func (n *numerics) atomic(s string) units.AtomicAmount {
	a, err := units.ParseAtomic(s)
	if err != nil && n.err == nil {
		n.err = err
	}
	return a
}

func (n *numerics) display(s string) units.DisplayAmount {
	d, err := units.ParseDisplay(s)
	if err != nil && n.err == nil {
		n.err = err
	}
	return d
}

func (n *numerics) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && n.err == nil {
		n.err = err
	}
	return d
}

func (n *numerics) nullableAtomic(s *string) *units.AtomicAmount {
	a, err := parseNullableAtomic(s)
	if err != nil && n.err == nil {
		n.err = err
	}
	return a
}
