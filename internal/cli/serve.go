package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/api"
	"github.com/seantiz/jsworker/internal/config"
	"github.com/seantiz/jsworker/internal/runner"
	"github.com/seantiz/jsworker/internal/store"
)

// ServeOptions holds flags for the serve command. Set flags override the
// environment.
type ServeOptions struct {
	Addr   string
	DBPath string
	Engine string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a worker over HTTP",
		Long: `Start the HTTP API backed by a single cooperative worker.

Configuration comes from the JSWORKER_* environment variables and the
optional YAML file named by JSWORKER_CONFIG. Flags override both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides JSWORKER_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides JSWORKER_DB_PATH)")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine name (overrides JSWORKER_ENGINE)")

	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, opts *ServeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return commandError(fmt.Errorf("load config: %w", err))
	}
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.Engine != "" {
		cfg.Engine = opts.Engine
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	logger.Info("jsworker: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine", cfg.Engine,
	)

	factory, err := rootOpts.registry.Resolve(cfg.Engine)
	if err != nil {
		return commandError(err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return commandError(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	run, err := runner.New(ctx, db, factory, cfg.Engine, cfg.WorkerOptions(logger), logger)
	if err != nil {
		return commandError(fmt.Errorf("start runner: %w", err))
	}
	defer func() {
		if err := run.Close(context.Background()); err != nil {
			logger.Error("stop runner", "error", err)
		}
	}()

	srv := api.NewServer(cfg.ListenAddr, db, rootOpts.registry, run, logger)
	if err := srv.Run(ctx); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	return nil
}
