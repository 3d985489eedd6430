// Package logger provides structured logging setup for agentoffice.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ccivlcid/agentoffice-sub001/internal/config"
)

// asyncBuffer and asyncWorkers size the async handler queue.
const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record,
// or human-readable text when stdout is a terminal.
// The returned Closer flushes the async handler when logging.async is set.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stdout.Fd())) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
