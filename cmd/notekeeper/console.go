package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/notexe/notekeeper/internal/client"
	"github.com/notexe/notekeeper/internal/repl"
)

var (
	consoleServer  string
	consoleOwner   string
	consoleNoColor bool

	consoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Interactive console against a running notekeeper server",
		Args:  cobra.NoArgs,
		RunE:  runConsole,
	}
)

const consoleTimeout = 30 * time.Second

func init() {
	consoleCmd.Flags().StringVar(&consoleServer, "server", "", "server URL (overrides console.server_url)")
	consoleCmd.Flags().StringVar(&consoleOwner, "owner", "", "owner id to act as (overrides console.owner_id)")
	consoleCmd.Flags().BoolVar(&consoleNoColor, "no-color", false, "disable colored output")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if consoleServer != "" {
		cfg.Console.ServerURL = consoleServer
	}
	if consoleOwner != "" {
		cfg.Console.OwnerID = consoleOwner
	}
	if consoleNoColor {
		cfg.Console.ColoredOutput = false
	}

	r, err := repl.NewREPL(client.New(cfg.Console.ServerURL, consoleTimeout), cfg)
	if err != nil {
		return err
	}
	return r.Start(cmd.Context())
}
