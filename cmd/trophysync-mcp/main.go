// Package main provides the trophysync-mcp server.
//
// trophysync-mcp exposes achievement syncs, job status and user statistics
// via the Model Context Protocol.
//
// Usage:
//
//	trophysync-mcp [flags]
//
// The server communicates via JSON-RPC 2.0 over stdio (stdin/stdout).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/engine"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/mcp"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/pkg/version"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("trophysync-mcp %s\n", version.Version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		printHelp()
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr and a file
	if err := log.InitFile(log.Config{Level: cfg.Log.Level, Format: "json"}, config.GetPaths(cfg).Logs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Close() }()

	database, err := db.New(db.Config{
		URL:         config.DatabaseURL(cfg),
		Debug:       cfg.Database.Debug,
		MaxIdleConn: cfg.Database.MaxIdleConns,
		MaxOpenConn: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = database.Close()
	}()

	tc := telemetry.New(telemetry.Config{Enabled: cfg.Telemetry.Enabled}, database)
	defer tc.Close()

	eng, err := engine.New(cfg, engine.WithDB(database), engine.WithTelemetry(tc))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start engine: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = eng.Close()
	}()

	server := mcp.NewServer(eng, tc)
	if err := server.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	help := `trophysync-mcp - MCP server for the trophysync achievement engine

USAGE:
    trophysync-mcp [FLAGS]

FLAGS:
    -h, --help       Print this help message
    -v, --version    Print version information

DESCRIPTION:
    trophysync-mcp is a Model Context Protocol (MCP) server that runs the
    trophysync job workers in-process and lets MCP clients start syncs and
    follow their progress.

    The server communicates via JSON-RPC 2.0 over stdio (stdin/stdout).
    Logs are written to ~/.trophysync/logs.

ENVIRONMENT:
    STEAM_API_KEY    Steam Web API key (required)
    DATABASE_URL     postgres:// DSN (default: SQLite under ~/.trophysync)
    REDIS_URL        Redis for job status and per-user locks (optional)

CONFIGURATION:
    {
      "mcpServers": {
        "trophysync": {
          "type": "stdio",
          "command": "trophysync-mcp"
        }
      }
    }

TOOLS PROVIDED:
    start_sync     Start a full, quick or specific sync for a user
    job_status     Normalized status of a job
    job_summary    Status with elapsed time and ETA
    cancel_job     Cancel a job, optionally terminating it
    active_jobs    Running jobs of a user
    user_stats     Trophy counts, completion rate and trophy level

RESOURCES PROVIDED:
    trophysync://user/{id}/notifications   Unread notifications as JSON
    trophysync://user/{id}/games           Games with completion as JSON
`
	fmt.Print(help)
}
