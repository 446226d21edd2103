package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/ingestion"
	"belief-pool-indexer/internal/solana"
	"belief-pool-indexer/internal/storage/migrations"
	"belief-pool-indexer/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func newListenCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to program logs over websocket and reconcile as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := root.logger

			a, err := newApp(ctx, root.cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			serveMetrics(ctx, root.cfg.Metrics.Addr, log)
			stopResync, err := a.startResync(ctx)
			if err != nil {
				return err
			}
			defer stopResync()

			ws, err := solana.NewWSClient(ctx, root.cfg.Ledger.WSEndpoint, nil)
			if err != nil {
				return fmt.Errorf("connect websocket: %w", err)
			}
			defer ws.Close()

			manager := ingestion.NewManager(a.engine, ingestion.ManagerOptions{
				Workers: root.cfg.Engine.Workers,
				Logger:  log.Named("ingestion"),
			})
			manager.Start(ctx)

			runner := ingestion.NewRunner(ingestion.RunnerOptions{
				WS:      ws,
				Decoder: a.decoder,
				Manager: manager,
				Logger:  log.Named("listener"),
			})
			err = runner.Run(ctx)

			manager.Stop()
			st, failed := manager.Stats()
			log.Info("listener stopped",
				zap.Int("transactions", st.Transactions),
				zap.Int("events", st.Events),
				zap.Int("failed", failed))

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newWebhookCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Accept transaction deliveries over HTTP and reconcile them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := root.logger
			cfg := root.cfg

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			stopResync, err := a.startResync(ctx)
			if err != nil {
				return err
			}
			defer stopResync()

			router := webhook.NewRouter(webhook.Options{
				Decoder: a.decoder,
				Handler: a.engine,
				Path:    cfg.Webhook.Path,
				Secret:  cfg.Webhook.Secret,
				Logger:  log.Named("webhook"),
			})
			srv := &http.Server{Addr: cfg.Webhook.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				log.Info("webhook listening", zap.String("addr", cfg.Webhook.Addr), zap.String("path", cfg.Webhook.Path))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("webhook server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown webhook server: %w", err)
			}
			log.Info("webhook stopped")
			return nil
		},
	}
}

func newBackfillCommand(root *rootOptions) *cobra.Command {
	var (
		signature string
		maxPages  int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay the program's signature history since the saved cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := root.logger
			cfg := root.cfg

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("max-pages") {
				cfg.Backfill.MaxPages = maxPages
			}
			b := ingestion.NewBackfiller(ingestion.BackfillOptions{
				RPC:               a.rpc,
				Decoder:           a.decoder,
				Handler:           a.engine,
				Cursors:           a.stores.Cursors,
				RequestsPerSecond: cfg.Ledger.RPCRateLimit,
				Burst:             cfg.Ledger.RPCBurst,
				PageLimit:         cfg.Backfill.PageLimit,
				MaxPages:          cfg.Backfill.MaxPages,
				Logger:            log.Named("backfill"),
			})

			if signature != "" {
				st, err := b.Transaction(ctx, signature)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d events %v\n", signature, st.Events, st.Outcomes)
				return nil
			}

			res, err := b.Run(ctx)
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "signatures=%d transactions=%d events=%d skipped=%d truncated=%t outcomes=%v\n",
					res.Signatures, res.Transactions, res.Events, res.Skipped, res.Truncated, res.Outcomes)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "reconcile a single transaction instead of walking history")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "signature pages to walk, 0 for the whole history (overrides backfill.max_pages)")
	return cmd
}

func newResyncCommand(root *rootOptions) *cobra.Command {
	var pool string
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Overwrite pool snapshots with a direct ledger read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.close()

			if pool != "" {
				snap, err := a.projector.Resync(ctx, pool)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s resynced at slot %d, epoch %d\n", pool, snap.LastSyncedSlot, snap.CurrentEpoch)
				return nil
			}

			failed, err := a.projector.ResyncAll(ctx)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d pools failed to resync", failed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all pools resynced")
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "resync one pool address only")
	return cmd
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL and ClickHouse migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := root.cfg
			log := root.logger

			if cfg.DB.UseMemory {
				return errors.New("migrate needs db.dsn; db.use_memory is set")
			}
			pool, err := openPostgres(ctx, cfg.DB)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			applied, err := migrations.ApplyPostgres(ctx, pool)
			if err != nil {
				return err
			}
			log.Info("postgres migrations applied", zap.Strings("versions", applied))

			if cfg.ClickHouse.DSN == "" {
				return nil
			}
			conn, err := migrations.ApplyClickHouse(ctx, cfg.ClickHouse.DSN)
			if err != nil {
				return err
			}
			defer conn.Close()
			log.Info("clickhouse migrations applied")
			return nil
		},
	}
}
