package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/pulsr/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// LogRelaySession logs the outcome of one relay ingestion session
func (l *Logger) LogRelaySession(relay string, events int, duration time.Duration, err error) {
	if err != nil {
		l.Warn("relay session ended with error",
			"relay", relay,
			"events", events,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("relay session complete",
			"relay", relay,
			"events", events,
			"duration_ms", duration.Milliseconds())
	}
}

// LogIngestPass logs the summary of one ingestion pass
func (l *Logger) LogIngestPass(relays, events int, duration time.Duration, skipped bool) {
	if skipped {
		l.Info("ingestion pass skipped, lock held by another run")
		return
	}
	l.Info("ingestion pass complete",
		"relays", relays,
		"events", events,
		"duration_ms", duration.Milliseconds())
}

// LogSnapshotPublish logs a published snapshot
func (l *Logger) LogSnapshotPublish(kind string, snapshotID string, items int, duration time.Duration) {
	l.Info("snapshot published",
		"kind", kind,
		"snapshot_id", snapshotID,
		"items", items,
		"duration_ms", duration.Milliseconds())
}

// LogRetentionPrune logs a snapshot retention pruning operation
func (l *Logger) LogRetentionPrune(deleted int, err error) {
	if err != nil {
		l.Error("snapshot pruning failed",
			"deleted", deleted,
			"error", err)
	} else if deleted > 0 {
		l.Info("snapshot pruning complete",
			"deleted", deleted)
	}
}

// LogAPIRequest logs a read API request
func (l *Logger) LogAPIRequest(method, path string, status int, duration time.Duration) {
	l.Debug("api request",
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", duration.Milliseconds())
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}
