package main

import "github.com/spf13/cobra"

// buildDiagCmd creates the "diag" command for the PID/port health probe.
func buildDiagCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Report PID liveness and port reachability for a running broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiag(cmd, configPath, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	return cmd
}
