package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the process-wide logger on stdout. Only the first call takes
// effect; unknown level or format values fall back to INFO and JSON.
func Setup(level, format string) {
	once.Do(func() {
		logger = New(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

// New builds a logger for w without touching the global one.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the process logger, installing the INFO/JSON default on first use.
func Get() *slog.Logger {
	Setup("INFO", "json")
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithSession returns a logger with the leader session_id field set.
func WithSession(l *slog.Logger, sessionID string) *slog.Logger {
	return l.With(slog.String("session_id", sessionID))
}

// WithEpoch returns a logger with the epoch sequence field set.
func WithEpoch(l *slog.Logger, epoch uint64) *slog.Logger {
	return l.With(slog.Uint64("epoch", epoch))
}

// WithJob returns a logger with the job_id field set.
func WithJob(l *slog.Logger, jobID string) *slog.Logger {
	return l.With(slog.String("job_id", jobID))
}
