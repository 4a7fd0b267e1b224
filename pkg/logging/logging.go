// Package logging provides a small interface any component can log
// through, so the concrete sink (stdout, a web-SSE console, a TUI) can be
// swapped per caller. The default implementation is github.com/rs/zerolog.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the seam every scheduler/pool/server component logs through.
type Logger interface {
	Printf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	z zerolog.Logger
}

// New creates a Logger writing structured, leveled JSON to w.
func New(w io.Writer) Logger {
	z := zerolog.New(w).With().Timestamp().Logger()
	return &zerologLogger{z: z}
}

// NewConsole creates a Logger writing human-readable console output to
// stdout, for interactive use (CLI, TUI).
func NewConsole() Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return &zerologLogger{z: zerolog.New(cw).With().Timestamp().Logger()}
}

func (l *zerologLogger) Printf(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

func (l *zerologLogger) Infof(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

func (l *zerologLogger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msgf(format, args...)
}

func (l *zerologLogger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

// Nop returns a Logger that discards everything, useful in tests.
func Nop() Logger {
	return &zerologLogger{z: zerolog.Nop()}
}
