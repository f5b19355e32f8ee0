package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler))
}

// Op returns the operational logger used for daemon/pipeline-level
// diagnostics (gate lifecycle, bundle builds, policy decisions). This
// is separate from the per-call Logger in logger.go, which logs individual
// module invocations.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetJSON switches the operational logger to JSON output, for
// environments that ship logs to a collector rather than a terminal.
func SetJSON(w *os.File) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler))
}

// SetLevelFromString sets the operational log level from a config
// string. Unrecognized values leave the level unchanged.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO", "":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
