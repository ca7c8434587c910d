package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harryaskham/io-mcp/internal/config"
	"github.com/harryaskham/io-mcp/internal/diag"
)

// runDiag implements the diag command: load config for the pid file and
// frontend address, probe both, and print the result.
func runDiag(cmd *cobra.Command, configPath string, jsonOutput bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	h := diag.ProxyHealth(cfg.HTTP.PidFile, cfg.HTTP.FrontendAddr)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return json.NewEncoder(out).Encode(h)
	}

	fmt.Fprintf(out, "status:   %s\n", h.Status)
	fmt.Fprintf(out, "pid:      %d (alive: %v)\n", h.Pid, h.PidAlive)
	fmt.Fprintf(out, "port:     %s (open: %v)\n", h.Address, h.PortOpen)
	fmt.Fprintf(out, "uptime:   %s\n", h.Uptime)
	if h.Details != "" {
		fmt.Fprintf(out, "details:  %s\n", h.Details)
	}
	return nil
}
