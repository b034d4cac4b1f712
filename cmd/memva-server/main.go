// Command memva-server is the main process: it owns the embedded store,
// the job worker pool, and the maintenance cron schedule. It does not
// expose an HTTP surface (out of scope); callers drive it through the
// engine package's EnqueueRun/StopRun/DecidePermission, e.g. from an
// embedding CLI or test harness in the same binary.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memva/memva-go/config"
	"github.com/memva/memva-go/engine"
	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/maintenance"
)

func main() {
	cfg := config.Get()

	e, err := engine.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}

	log.Info().Str("path", cfg.DatabasePath()).Str("env", cfg.Env).Msg("memva-server starting")

	watcher, err := maintenance.NewWatcher(cfg.DataDir, cfg.DatabasePath())
	if err != nil {
		log.Warn().Err(err).Msg("failed to start data directory watcher")
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(log.StdErrorLogger())))
	if _, err := maintenance.Schedule(c, e.Jobs, cfg.MaintenanceIntervalMinutes); err != nil {
		log.Error().Err(err).Msg("failed to register maintenance schedule")
	}
	c.Start()

	e.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down memva-server")

	cronCtx := c.Stop()
	<-cronCtx.Done()

	e.Stop(30 * time.Second)

	if watcher != nil {
		watcher.Stop()
	}

	log.Info().Msg("memva-server stopped")
}
