package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cortexflow/cortex/internal/config"
	"github.com/cortexflow/cortex/internal/observability"
	"github.com/cortexflow/cortex/internal/server"
)

// runServe implements the serve command: load config, build the server,
// run it until a shutdown signal arrives, then drain it.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(observability.NewLogger(observability.LogConfig{
			Level:     "debug",
			Format:    "json",
			Output:    os.Stderr,
			AddSource: true,
		}).Slog())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slog.Info("starting cortex server",
		"version", version,
		"commit", commit,
		"config", configPath,
		"port", cfg.Server.Port,
		"llm_provider", cfg.LLM.Provider,
	)

	srv, err := server.New(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, draining server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("cortex server stopped gracefully")
	return nil
}
