package log

import (
	"log/slog"
)

// Logger is an alias for slog.Logger, kept so the rest of the
// codebase never has to import log/slog directly.
type Logger = slog.Logger
type Handler = slog.Handler

var defaultLogger *Logger = slog.Default()

// SetDefaultLogger specifies the logger to be used by the package.
// By default, slog.Default() is used.
//
// It overrides the logger created by SetDefaultHandler.
func SetDefaultLogger(logger *slog.Logger) {
	defaultLogger = logger
}

// SetDefaultHandler specifies the handler to be used by the package.
//
// It overrides the logger specified by SetDefaultLogger.
func SetDefaultHandler(handler slog.Handler) {
	defaultLogger = slog.New(handler)
}

// Default returns the package-level logger, for callers (such as a new
// per-application logger) that need to derive a scoped child via With.
func Default() *Logger {
	return defaultLogger
}
