package logging

import (
	"log/slog"
	"strings"

	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var _ ports.Logger = (*SlogLogger)(nil)

// SlogLogger wraps slog to implement ports.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a new SlogLogger from an slog.Logger.
func New(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// With returns a child logger carrying args on every record.
func (l *SlogLogger) With(args ...any) ports.Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// ParseLevel maps a config level name to a slog level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
