// Package logger builds the zerolog logger shared by all components.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger writing human-readable lines to stderr.
func New(debug bool) zerolog.Logger {
	return NewWithWriter(debug, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// NewJSON creates a logger writing one JSON object per line, for
// deployments where logs are collected.
func NewJSON(debug bool, w io.Writer) zerolog.Logger {
	return NewWithWriter(debug, w)
}

// NewWithWriter creates a logger on an arbitrary writer. Debug enables
// debug-level events; otherwise only info and above are written.
func NewWithWriter(debug bool, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
