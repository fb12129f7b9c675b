// Package main provides the CLI entry point for Cortex, the automation
// engine that turns natural-language "when X then Y" rules into
// event-driven executions against a user's connected SaaS accounts.
//
// # Basic Usage
//
// Start the server:
//
//	cortex serve --config cortex.yaml
//
// Apply pending database migrations:
//
//	cortex migrate up
//	cortex migrate status
//
// Validate configuration:
//
//	cortex doctor
//
// # Environment Variables
//
//   - STORE_URL: Postgres DSN for the relational Store
//   - CACHE_URL: Redis URL for the fast KV tier
//   - LLM_API_KEY: API key for the configured LLM provider
//   - LLM_PROVIDER: "anthropic" or "openai"
//   - SAAS_SECRET: credential for the SaaS-connector SDK
//   - PORT: HTTP listen port
//   - RUNTIME_MODE: "development" or "production"
//   - LOG_LEVEL: slog level
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexflow/cortex/internal/observability"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	})
	slog.SetDefault(logger.Slog())

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex - natural-language automation engine",
		Long: `Cortex compiles "when X then Y" prompts into Units that watch for
events from connected SaaS providers and run an action chain (tool calls,
LLM steps, waits, checks, notifications) when they fire.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
