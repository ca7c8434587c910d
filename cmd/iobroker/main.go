// Package main provides the CLI entry point for the io-mcp interaction
// broker.
//
// io-mcp mediates choice/confirmation/speech dialogs between autonomous
// coding agents and a single human operator: agents call its tools
// (present_choices, speak, run_command, ...), the broker queues and
// serialises the resulting dialogs per session, and an operator resolves
// them from a terminal, while an HTTP/SSE API and optional
// ntfy/Slack/Discord/webhook notifications mirror activity out.
//
// # Basic usage
//
// Start the broker:
//
//	iobroker serve --config iobroker.yaml
//
// Check the running broker's health:
//
//	iobroker diag
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "iobroker",
		Short: "io-mcp - multi-agent interaction broker",
		Long: `io-mcp serialises choice/confirmation/speech dialogs between
concurrent coding agents and a single human operator, exposing a tool
dispatcher, an event bus, an HTTP/SSE API, and optional
outbound notifications.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDiagCmd(),
	)

	return rootCmd
}
