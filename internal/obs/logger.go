// Package obs wires structured logging, Prometheus metrics, and tracing —
// the ambient stack a complete service needs but which a language-agnostic
// spec has no reason to name.
package obs

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide logger. Console-writer output in
// development (mirroring the teacher's staging/production branch in its
// process entry point), JSON in production.
func NewLogger(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if environment == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(console).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component field, replacing
// the teacher's "[component] ..." string-prefix convention with a
// structured field of the same name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
