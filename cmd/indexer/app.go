package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/chain"
	"belief-pool-indexer/internal/config"
	cronrunner "belief-pool-indexer/internal/cron"
	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/projection"
	"belief-pool-indexer/internal/reconcile"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/settlement"
	"belief-pool-indexer/internal/solana"
	"belief-pool-indexer/internal/stake"
	"belief-pool-indexer/internal/storage"
	chstore "belief-pool-indexer/internal/storage/clickhouse"
	"belief-pool-indexer/internal/storage/memory"
	pgstore "belief-pool-indexer/internal/storage/postgres"
)

// app is the fully wired engine shared by the long-running commands.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	stores    *storage.Stores
	rpc       *solana.HTTPClient
	decoder   *decoder.Decoder
	projector *projection.Projector
	trigger   *settlement.Trigger
	engine    *reconcile.Engine

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	stores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	a.stores = stores

	a.rpc = solana.NewHTTPClient(cfg.Ledger.RPCEndpoint, solana.WithLogger(a.logger.Named("rpc")))
	a.decoder = decoder.New(cfg.Ledger.ProgramID)

	reader := chain.NewReader(a.rpc, chain.Options{
		RequestsPerSecond: cfg.Ledger.RPCRateLimit,
		Burst:             cfg.Ledger.RPCBurst,
		Logger:            a.logger.Named("chain"),
	})
	a.projector = projection.NewProjector(stores.Pools, stores.Trades, reader, a.logger.Named("projection"))

	recorderOpts := []relevance.RecorderOption{relevance.WithLogger(a.logger.Named("relevance"))}
	if cfg.ClickHouse.DSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		recorderOpts = append(recorderOpts, relevance.WithSeries(chstore.NewRelevanceSeriesStore(conn)))
	}

	trigger, err := a.newTrigger(ctx)
	if err != nil {
		return err
	}
	a.trigger = trigger

	deps := reconcile.Deps{
		Stores:    stores,
		Projector: a.projector,
		Stake: stake.NewUpdater(stores.Agents, stores.Balances, stores.Trades, stake.Options{
			LockBps: cfg.Engine.LockFractionBps,
			Logger:  a.logger.Named("stake"),
		}),
		Relevance: relevance.NewRecorder(stores.Relevance, recorderOpts...),
	}
	if trigger != nil {
		deps.Trigger = trigger
	}
	a.engine = reconcile.NewEngine(deps, reconcile.Options{
		AmountEpsilon: cfg.Engine.AmountEpsilon,
		Logger:        a.logger.Named("reconcile"),
	})
	return nil
}

func (a *app) openStores(ctx context.Context) (*storage.Stores, error) {
	if a.cfg.DB.UseMemory {
		a.logger.Warn("using in-memory stores, nothing will be persisted")
		return memory.NewStores(), nil
	}
	pool, err := openPostgres(ctx, a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return pgstore.NewStores(pool), nil
}

func openPostgres(ctx context.Context, cfg config.DBConfig) (*pgstore.Pool, error) {
	return pgstore.NewPool(ctx, cfg.DSN,
		pgstore.WithMaxConns(cfg.MaxConns),
		pgstore.WithMinConns(cfg.MinConns),
		pgstore.WithMaxConnLifetime(cfg.MaxConnLifetime))
}

// newTrigger returns nil when epoch processing is disabled.
func (a *app) newTrigger(ctx context.Context) (*settlement.Trigger, error) {
	cfg := a.cfg.Settlement

	var processor settlement.EpochProcessor
	switch cfg.Mode {
	case config.SettlementDisabled:
		return nil, nil
	case config.SettlementHTTP:
		processor = settlement.NewHTTPProcessor(cfg.Endpoint,
			settlement.WithAPIKey(cfg.APIKey),
			settlement.WithJWTSecret(cfg.JWTSecret),
			settlement.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	case config.SettlementNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("belief-pool-indexer"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, nc.Close)
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("open jetstream: %w", err)
		}
		if cfg.NATSStream != "" {
			if err := settlement.EnsureStream(ctx, js, cfg.NATSStream, cfg.NATSSubject); err != nil {
				return nil, err
			}
		}
		processor = settlement.NewNATSProcessor(js, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", cfg.Mode)
	}

	opts := settlement.Options{Timeout: cfg.Timeout, Logger: a.logger.Named("settlement")}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		opts.Guard = settlement.NewRedisGuard(client, cfg.GuardTTL)
	}
	return settlement.NewTrigger(processor, opts), nil
}

// startResync schedules the resync sweep and returns its stop function.
func (a *app) startResync(ctx context.Context) (func(), error) {
	if !a.cfg.Resync.Enabled {
		return func() {}, nil
	}
	runner := cronrunner.New(a.logger.Named("cron"), ctx)
	if _, err := runner.Add(a.cfg.Resync.Schedule, cronrunner.ResyncJob(a.projector, a.logger.Named("resync"))); err != nil {
		return nil, fmt.Errorf("schedule resync %q: %w", a.cfg.Resync.Schedule, err)
	}
	runner.Start()
	return runner.Stop, nil
}

// close waits for in-flight settlement dispatches, then releases connections
// in reverse order of opening.
func (a *app) close() {
	if a.trigger != nil {
		a.trigger.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serveMetrics exposes /metrics until ctx is done. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
