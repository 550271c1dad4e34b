// Package main provides the entry point for the epoch crank.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"epoch-crank/internal/config"
)

var (
	flagEnvFile string
	flagDebug   bool
	flagLogJSON bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "crank",
	Short:         "Closes competition rounds and resolves their proposals on the ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load the env file if present; otherwise use the environment as-is
		if _, statErr := os.Stat(flagEnvFile); statErr == nil {
			if err := godotenv.Load(flagEnvFile); err != nil {
				return fmt.Errorf("load %s: %w", flagEnvFile, err)
			}
		}
		cfg = config.Load()
		if flagDebug {
			cfg.Debug = true
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env",
		"file to load environment variables from when it exists")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false,
		"enable debug logging (overrides DEBUG)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false,
		"write logs as JSON lines instead of console output")

	rootCmd.AddCommand(serveCmd, runCmd, closeAllCmd, closeExpiredCmd, openRoundCmd, pendingCmd, watchCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
