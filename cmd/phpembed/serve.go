package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/server"
	"github.com/sadewadee/phpembed/internal/worker"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve the PHP application over HTTP",
		Long: `Serve the PHP application over HTTP. Every request runs the entry point in
a fresh engine; /healthz, /readyz and /metrics report on the engine and the
configured WebSocket path accepts protocol frames.

Signals:
  SIGUSR1          Recycle the PHP engine
  SIGINT/SIGTERM   Graceful shutdown`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address (overrides server.address)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, closer := newLogger(cfg, false)
	if closer != nil {
		defer closer.Close()
	}
	logger.Info("phpembed starting", "version", version)

	w := worker.New(cfg, logger)
	w.Start()
	defer w.Stop()

	// Set up file watcher for development
	if cfg.Watch.Enabled {
		dirs := cfg.Watch.Dirs
		if len(dirs) == 0 {
			dirs = []string{w.Root()}
		}
		watcher := worker.NewWatcher(dirs, cfg.Watch.Interval.Duration(), logger, w.Recycle)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := server.New(cfg, w, logger)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// SIGUSR1 recycles the engine
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGUSR1)
	defer signal.Stop(reload)
	go func() {
		for range reload {
			logger.Info("SIGUSR1 received, recycling php engine")
			w.Recycle()
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	logger.Info("phpembed ready", "address", cfg.Server.Address, "php_version", w.Version(), "entry", w.Entry())

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		return nil
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("phpembed stopped")
	return nil
}
