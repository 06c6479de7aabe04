// Package logging builds the daemon's root zerolog.Logger and derives
// per-component child loggers the way every resource manager and task
// in this codebase expects to receive one.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. In service mode it emits line-delimited JSON
// suitable for a log collector; otherwise it writes a human console format.
func New(service bool, level zerolog.Level) zerolog.Logger {
	var w io.Writer = os.Stderr
	if !service {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component derives a child logger tagged with the owning component's name,
// mirroring the per-class self._log convention every manager is built around.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
