// nu-mcp serves a Nushell execution environment over the Model Context Protocol.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"nu-mcp/internal/infra/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "nu-mcp",
	Short:   "Nushell execution server for MCP clients",
	Version: Version,
	Long: `nu-mcp exposes a Nushell interpreter to MCP clients over stdio.

Running without a subcommand starts the server. Configuration is read from
nu-mcp.yaml (or --config); environment variables override file values.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, execCmd, encryptSecretCmd, doctorCmd)
}

// Execute runs the root command and returns an exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(Execute())
}
