// Command memva-permission-bridge is the standalone PermissionBridge
// subprocess. It is never started directly by a human; the assistant CLI
// launches one instance per run via --mcp-tool-command, passing
// --session-id. Stdout and stdin are reserved for the MCP stdio protocol,
// so diagnostics go to the well-known bridge log file instead; errors
// raised before that file is open (a missing --session-id, a log file that
// cannot be opened) are written to stderr.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memva/memva-go/bridge"
	"github.com/memva/memva-go/config"
	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/permission"
	"github.com/memva/memva-go/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	sessionID := flag.String("session-id", "", "memva session id this bridge answers permission prompts for")
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "memva-permission-bridge: --session-id is required")
		return 1
	}

	cfg := config.Get()

	logFile, err := os.OpenFile(cfg.BridgeLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memva-permission-bridge: open log file: %v\n", err)
		return 1
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer db.Close()

	// b.Serve() blocks on stdio until the assistant CLI closes stdin; it
	// has no way to observe a signal itself, so a SIGINT/SIGTERM from the
	// assistant CLI's own process-group teardown is handled here instead,
	// closing the store before the process exits (spec.md §4.8 Lifecycle).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info().Str("signal", sig.String()).Msg("permission bridge shutting down")
		db.Close()
		logFile.Close()
		os.Exit(0)
	}()

	permStore := permission.NewStore(time.Duration(cfg.PermissionExpiryHours) * time.Hour)
	b := bridge.New(*sessionID, permStore)

	log.Info().Str("sessionId", *sessionID).Msg("permission bridge starting")

	if err := b.Serve(); err != nil {
		log.Error().Err(err).Msg("permission bridge exited with error")
		return 1
	}

	log.Info().Str("sessionId", *sessionID).Msg("permission bridge stopped")
	return 0
}
