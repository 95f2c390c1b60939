// Package logger builds the slog loggers used across offline0.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

// New returns a JSON logger writing to w at the given level. An empty level
// falls back to LOG_LEVEL, then INFO.
func New(w io.Writer, level string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Discard returns a logger that drops everything. Used by tests and as the
// default when no logger option is given.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// ParseLevel converts a string level name to slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// RateLimited drops messages arriving faster than once per interval.
type RateLimited struct {
	log *slog.Logger

	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
}

func NewRateLimited(log *slog.Logger, interval time.Duration) *RateLimited {
	return &RateLimited{log: log, interval: interval}
}

func (l *RateLimited) Warn(msg string, args ...any) {
	if !l.allow() {
		return
	}
	l.log.Warn(msg, args...)
}

func (l *RateLimited) Info(msg string, args ...any) {
	if !l.allow() {
		return
	}
	l.log.Info(msg, args...)
}

func (l *RateLimited) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return false
	}
	l.lastAt = now
	return true
}
