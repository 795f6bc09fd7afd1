package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions controls handler format and level. ENVIRONMENT=development
// selects the text handler.
type LogOptions struct {
	Level       string
	Environment string
	Output      io.Writer
}

// NewLogger returns an INFO-level JSON logger on stdout with a component field
// attached. Constructors fall back to it when no logger is injected.
func NewLogger(component string) *slog.Logger {
	return NewLoggerWith(LogOptions{}, component)
}

// NewLoggerWith builds a logger from explicit options.
func NewLoggerWith(opts LogOptions, component string) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Environment, "development") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// ParseLevel maps DEBUG/INFO/WARNING/ERROR (case-insensitive) to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil || runID == "" {
		return logger
	}
	return logger.With("run_id", runID)
}

func WithDelivery(logger *slog.Logger, deliveryID string) *slog.Logger {
	if logger == nil || deliveryID == "" {
		return logger
	}
	return logger.With("delivery_id", deliveryID)
}

func WithPR(logger *slog.Logger, repository string, prNumber int) *slog.Logger {
	if logger == nil || repository == "" {
		return logger
	}
	return logger.With("repository", repository, "pr_number", prNumber)
}

// HashToken returns a short stable fingerprint for values that must not be
// logged verbatim.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
