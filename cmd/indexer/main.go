package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/config"
	"belief-pool-indexer/internal/logger"
)

// rootOptions holds global flags and what PersistentPreRunE builds from them.
type rootOptions struct {
	ConfigPath string
	EnvOnly    bool

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "indexer",
		Short:         "Mirror the belief market program into the relational store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath, opts.EnvOnly)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			opts.cfg = cfg
			opts.logger = log.With(zap.String("env", cfg.App.Env), zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.EnvOnly, "env-only", false, "ignore the config file and read BPI_* variables only")

	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newWebhookCommand(opts))
	cmd.AddCommand(newBackfillCommand(opts))
	cmd.AddCommand(newResyncCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newPoolsCommand(opts))
	return cmd
}
