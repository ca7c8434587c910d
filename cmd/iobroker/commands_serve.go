package main

import "github.com/spf13/cobra"

// buildServeCmd creates the "serve" command that starts the broker.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the interaction broker",
		Long: `Start the interaction broker.

The process will:
1. Load configuration from the specified file (or built-in defaults)
2. Start the tool dispatcher, event bus, TTS engine, and health monitor
3. Start the frontend HTTP/SSE API, the backend tool-call listener and the
   send API on their configured loopback addresses
4. Attach a console collaborator for resolving choice/confirm dialogs

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  iobroker serve

  # Start with a custom config file
  iobroker serve --config /etc/io-mcp/iobroker.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
