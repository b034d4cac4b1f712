package log

import (
	"io"
	"os"
	stdlog "log"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/memva/memva-go/config"
)

var (
	logger     zerolog.Logger
	loggerLock sync.RWMutex
)

func init() {
	cfg := config.Get()

	var output io.Writer
	if cfg.IsDevelopment() {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	} else {
		output = os.Stdout
	}

	logger = zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

// SetLevel sets the global log level at runtime, e.g. once Settings has
// loaded from the store.
func SetLevel(levelStr string) {
	level := parseLogLevel(levelStr)
	loggerLock.Lock()
	logger = logger.Level(level)
	loggerLock.Unlock()
}

// SetOutput redirects all subsequent log lines to w. The permission bridge
// uses this to send its diagnostics to a well-known file instead of stdout,
// since stdout is reserved for protocol frames.
func SetOutput(w io.Writer) {
	loggerLock.Lock()
	logger = logger.Output(w)
	loggerLock.Unlock()
}

func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Debug()
}

func Info() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Info()
}

func Warn() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Warn()
}

func Error() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Error()
}

func Fatal() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Fatal()
}

// Logger returns the underlying zerolog.Logger for integrations that need
// one directly (e.g. wiring a cron.Logger adapter).
func Logger() zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger
}

// StdErrorLogger adapts the zerolog logger to the stdlib *log.Logger shape
// some libraries (net/http.Server.ErrorLog, cron) expect.
func StdErrorLogger() *stdlog.Logger {
	return stdlog.New(logger, "", 0)
}
