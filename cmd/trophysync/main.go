// trophysync - Steam achievement sync engine
//
// Synchronizes Steam libraries and achievements into a local store, assigns
// rarity tiers and awards a Platinum Trophy for every completed game.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asteroid-belt/trophysync/internal/cli"
	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
)

func main() {
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

	log.Init(log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
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

	// Use persistent tracking ID from database
	telemetryClient := telemetry.New(telemetry.Config{Enabled: cfg.Telemetry.Enabled}, database)
	defer telemetryClient.Close()

	if err := cli.Execute(ctx, cfg, database, telemetryClient); err != nil {
		os.Exit(1)
	}
}
