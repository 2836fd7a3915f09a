// Command swarmhived is a thin bootstrap binary: it builds an Engine
// from configuration, registers it under its database path, runs a
// one-shot smoke check against the store, and then blocks until
// interrupted. It is not a network listener or a CLI front-end — agent
// processes embed the internal packages directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmhive/core/internal/config"
	"github.com/swarmhive/core/internal/engine"
	"github.com/swarmhive/core/internal/hive"
	"github.com/swarmhive/core/internal/registry"
)

const version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version")
		dbPath      = flag.String("db", "", "Database path (default: from SWARMHIVE_DB_PATH or ~/.config/swarmhive/core.db)")
		snapshotDir = flag.String("snapshot-dir", "", "Directory to watch for snapshot JSONL changes")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `swarmhived v%s - SwarmHive coordination store

Usage: swarmhived [options]

Starts the durable coordination store, runs a smoke check against it,
and holds it open until interrupted. Agent processes talk to the store
through the internal/engine package directly, not through this binary.

Options:
`, version)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("swarmhived v%s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *snapshotDir != "" {
		cfg.SnapshotDir = *snapshotDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	e, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	engines := registry.New[*engine.Engine]()
	engines.Register(cfg.DBPath, e)

	if err := smokeCheck(e); err != nil {
		fmt.Fprintf(os.Stderr, "smoke check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("swarmhived v%s: store open at %s\n", version, cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	fmt.Println("swarmhived: shutting down")
}

// smokeCheck creates and then deletes a hive cell so a
// broken migration or a misconfigured database fails fast at startup
// instead of on an agent's first real call.
func smokeCheck(e *engine.Engine) error {
	ctx := context.Background()
	id, err := e.Hive.CreateCell(ctx, hive.CreateRequest{
		ProjectKey: "swarmhived-smoke",
		Title:      "startup smoke check",
		Type:       "chore",
	})
	if err != nil {
		return fmt.Errorf("create smoke cell: %w", err)
	}
	return e.Hive.Delete(ctx, "swarmhived-smoke", id)
}
