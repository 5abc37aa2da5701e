package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogLogger adapts a *slog.Logger, for embedding applications that already
// route everything through slog handlers.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, keyvals ...any) { s.log(slog.LevelDebug, msg, keyvals) }
func (s *SlogLogger) Info(msg string, keyvals ...any)  { s.log(slog.LevelInfo, msg, keyvals) }
func (s *SlogLogger) Error(msg string, keyvals ...any) { s.log(slog.LevelError, msg, keyvals) }

// log normalizes keys to strings and hands the pairs to slog, which applies
// its own treatment of malformed argument lists.
func (s *SlogLogger) log(level slog.Level, msg string, keyvals []any) {
	args := make([]any, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			args = append(args, k, keyvals[i+1])
		} else {
			args = append(args, fmt.Sprint(keyvals[i]), keyvals[i+1])
		}
	}
	s.l.Log(context.Background(), level, msg, args...)
}
