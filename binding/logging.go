package binding

import (
	"log/slog"
	"os"
)

// Logger is the logging seam shared by bindings, ports and the handshake.
// Arguments follow the slog key-value convention. Implement it over whatever
// backend the embedding application runs, or take the slog-backed default.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// slogLogger adapts a *slog.Logger to the Logger seam.
type slogLogger struct{ l *slog.Logger }

// NewSlogLogger wraps an existing slog.Logger.
func NewSlogLogger(l *slog.Logger) Logger { return &slogLogger{l: l} }

// DefaultLogger returns a JSON logger on stdout at the given level. It is
// what a binding falls back to when no logger is configured.
func DefaultLogger(level slog.Level) Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(h)}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// With carries key-value context into every message logged through the
// returned Logger.
func (s *slogLogger) With(args ...any) Logger { return &slogLogger{l: s.l.With(args...)} }
