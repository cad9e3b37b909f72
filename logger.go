package soulmesh

import "log/slog"

// Logger defines the interface for runtime logging. All runtime services
// log through this interface with structured key-value pairs, so the host
// application controls how runtime logs appear.
//
// The variadic arguments are alternating keys and values:
//
//	logger.Info("module activated", "module", "journal", "telos", "grounding")
//
// This shape is directly compatible with log/slog and adapts trivially to
// zap, logrus and similar structured loggers.
type Logger interface {
	// Info logs normal runtime events: lifecycle transitions, Telos
	// changes, purge actions.
	Info(msg string, args ...any)

	// Error logs failures that the runtime absorbed: handler panics,
	// lifecycle failures, persistence errors.
	Error(msg string, args ...any)

	// Warn logs unusual but non-fatal conditions: pressure shedding,
	// quarantine, degraded persistence.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics: candidate scoring, timer resets.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the runtime Logger interface.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger wraps the given slog logger; a nil argument wraps
// slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{L: l}
}

func (s *SlogLogger) Info(msg string, args ...any)  { s.L.Info(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.L.Error(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.L.Warn(msg, args...) }
func (s *SlogLogger) Debug(msg string, args ...any) { s.L.Debug(msg, args...) }

// NopLogger discards everything. Useful as a default in tests and when a
// component is constructed with a nil logger.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}
