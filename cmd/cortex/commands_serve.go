package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the Cortex
// server: the dispatcher's worker pools and WebhookFront/Control API's
// HTTP listener.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Cortex server",
		Long: `Start the Cortex server.

The server will:
1. Load configuration from the specified file (or environment variables)
2. Open the Store and fast KV cache connections
3. Start the Dispatcher's three bounded worker pools (Shaper, Matcher, Runtime)
4. Start the HTTP listener for WebhookFront, the Control API, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  cortex serve

  # Start with a config file
  cortex serve --config /etc/cortex/production.yaml

  # Start with debug logging
  cortex serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
