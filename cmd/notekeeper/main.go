// Command notekeeper runs the reminder service, its reconciliation
// scheduler, one-off sweeps and the operator console.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notexe/notekeeper/internal/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "notekeeper",
		Short: "Reminder lifecycle and notification service",
		Long: `notekeeper stores reminders, delivers them by SMS, email or browser
notification, and reconciles their status on a fixed cadence.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.GetDefaultConfigPath(), "path to configuration file")

	rootCmd.AddCommand(serveCmd, sweepCmd, consoleCmd)
}

// loadConfig reads and validates configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
