// Package logging provides structured logging for circbuf using stdlib slog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig controls logger creation.
type LogConfig struct {
	Level  string    // "debug", "info", "warn", "error"
	Format string    // "json" (default), "text"
	Output io.Writer // defaults to os.Stdout

	// LevelVar, if set, overrides Level and lets the level change at runtime.
	LevelVar *LevelVar
}

// New creates a configured *slog.Logger.
func New(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Leveler = parseLevel(cfg.Level)
	if cfg.LevelVar != nil {
		level = cfg.LevelVar
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// WithFields returns a child logger with additional context fields.
func WithFields(logger *slog.Logger, fields ...any) *slog.Logger {
	return logger.With(fields...)
}

// ValidateLevel reports whether s names a supported level.
func ValidateLevel(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", s)
}

// LevelVar is a log level that can be changed while loggers use it, e.g.
// after a config reload.
type LevelVar struct {
	v slog.LevelVar
}

// NewLevelVar returns a LevelVar set to the named level.
func NewLevelVar(s string) *LevelVar {
	lv := &LevelVar{}
	lv.Set(s)
	return lv
}

// Set changes the level. Unknown names select info.
func (lv *LevelVar) Set(s string) {
	lv.v.Set(parseLevel(s))
}

// Level implements slog.Leveler.
func (lv *LevelVar) Level() slog.Level {
	return lv.v.Level()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
