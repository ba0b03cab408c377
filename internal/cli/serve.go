package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/api"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/sweeper"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the retention sweeper",
		Long: `Serve the Test Lab HTTP API. When sweeper.schedule is configured,
runs older than sweeper.retention are purged on that schedule.

Example:
  testlab serve --addr :8080
  TESTLAB_SWEEPER_SCHEDULE="0 3 * * *" testlab serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.Logger

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to open environment", err)
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if schedule := cfg.Sweeper.Schedule; schedule != "" {
		sw := sweeper.New(env.backend, env.purger, cfg.Sweeper.Retention, cfg.Sweeper.Actor,
			sweeper.WithLogger(logger))
		if err := sw.Start(schedule); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid sweeper schedule", err)
		}
		defer sw.Stop()
	}

	srv := api.New(api.Deps{
		Purger:    env.purger,
		Ledger:    env.backend,
		Submitter: env.submitter(),
		Gatherer:  env.registry,
		Logger:    logger,
	})

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "server error", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
