// Command mcp-reminder exposes the reminder engine as MCP tools over stdio.
//
// Usage:
//
//	./mcp-reminder                    # Start MCP server (stdio)
//	./mcp-reminder --config path.yaml # Use a specific config file
//	./mcp-reminder --help             # Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/notekeeper/internal/app"
	"github.com/notexe/notekeeper/internal/config"
	"github.com/notexe/notekeeper/internal/mcpserver"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	flag.Usage = printHelp
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr.
	log := cfg.Log.NewLogger(os.Stderr)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	s := mcpserver.NewServer(a.Engine, cfg.Console.OwnerID)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintln(os.Stderr, `MCP Reminder Server - reminder management via MCP protocol

USAGE:
    mcp-reminder                 Start MCP server (communicates via stdio)
    mcp-reminder --config PATH   Load configuration from PATH
                                 Default: ~/.notekeeper/config.yaml
    mcp-reminder --help          Show this help

Configuration is shared with the notekeeper service, so both can point at
the same database. NOTEKEEPER_* environment variables override the file.

TOOLS:
    add_reminder              Add a reminder (title, body, due_at, channel, contacts)
    list_reminders            List reminders (owner, status, search filters)
    get_reminder              Show one reminder
    update_reminder           Edit title, body, due time, channel or contacts
    delete_reminder           Delete a reminder
    set_reminder_status       Mark pending, completed or missed
    notify_reminder           Send the notification now
    trigger_missed_sweep      Mark overdue, unnotified reminders as missed
    trigger_completion_sweep  Complete reminders whose notification went out
    trigger_dispatch_check    Send notifications due within the dispatch window`)
}
