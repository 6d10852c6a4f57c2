// Package logging adapts application loggers to the watermill.LoggerAdapter
// contract that every eventflow backend consumes.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

var levelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlog wraps a slog.Logger so it satisfies watermill.LoggerAdapter.
func NewSlog(log *slog.Logger) watermill.LoggerAdapter {
	if log == nil {
		panic("eventflow: slog logger cannot be nil")
	}
	return watermill.NewSlogLoggerWithLevelMapping(log, levelMapping)
}

// OrNop returns logger, or a NopLogger when logger is nil. Backend
// constructors call this so a nil logger is always safe.
func OrNop(logger watermill.LoggerAdapter) watermill.LoggerAdapter {
	if logger == nil {
		return watermill.NopLogger{}
	}
	return logger
}
