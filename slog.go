package rabbit

import (
	"context"
	"log/slog"
)

// LevelTrace is one step below slog.LevelDebug, in the same 4-level spacing slog uses between its own levels.
const LevelTrace = slog.LevelDebug - 4

func slogArgs(fields LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}

	return args
}

// SlogLoggerAdapter sends client logs to a [slog.Logger].
type SlogLoggerAdapter struct {
	slog *slog.Logger

	levelMapping map[slog.Level]slog.Level
}

// NewSlogLogger wraps logger. A nil logger is replaced with [slog.Default].
func NewSlogLogger(logger *slog.Logger) LoggerAdapter {
	return NewSlogLoggerWithLevelMapping(logger, nil)
}

// NewSlogLoggerWithLevelMapping wraps logger and remaps levels before logging,
// for example to log the client's info messages as debug.
func NewSlogLoggerWithLevelMapping(logger *slog.Logger, levelMapping map[slog.Level]slog.Level) LoggerAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogLoggerAdapter{
		slog:         logger,
		levelMapping: levelMapping,
	}
}

func (s *SlogLoggerAdapter) Error(msg string, err error, fields LogFields) {
	s.log(slog.LevelError, msg, append(slogArgs(fields), "error", err)...)
}

func (s *SlogLoggerAdapter) Info(msg string, fields LogFields) {
	s.log(slog.LevelInfo, msg, slogArgs(fields)...)
}

func (s *SlogLoggerAdapter) Debug(msg string, fields LogFields) {
	s.log(slog.LevelDebug, msg, slogArgs(fields)...)
}

func (s *SlogLoggerAdapter) Trace(msg string, fields LogFields) {
	s.log(LevelTrace, msg, slogArgs(fields)...)
}

func (s *SlogLoggerAdapter) With(fields LogFields) LoggerAdapter {
	return &SlogLoggerAdapter{
		slog:         s.slog.With(slogArgs(fields)...),
		levelMapping: s.levelMapping,
	}
}

func (s *SlogLoggerAdapter) log(level slog.Level, msg string, args ...any) {
	if mapped, ok := s.levelMapping[level]; ok {
		level = mapped
	}

	// slog ignores deadlines on the context, so there is nothing to propagate here.
	s.slog.Log(context.Background(), level, msg, args...)
}
