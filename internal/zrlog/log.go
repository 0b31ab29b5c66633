// Package zrlog centralises the execution pipeline's structured logging.
//
// Every component logs through a zerolog.Logger obtained from here rather
// than constructing its own, so output format and the component field are
// the same everywhere; internal/appcmd builds one logger per component with
// New at the level its flags select (matching how the teacher's cmd/
// package owns process-wide concerns that components only consume).
package zrlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger writing to w at the given level. Component name is
// attached once so log lines are attributable without per-call-site
// boilerplate.
func New(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// NewDefault builds the default stderr logger used when a caller does not
// wire its own (e.g. in tests, or library consumers of internal/scheduler
// that don't care about logging).
func NewDefault(component string) zerolog.Logger {
	return New(os.Stderr, component, zerolog.InfoLevel)
}

// Nop returns a logger that discards everything, useful for tests that don't
// want log noise but still need a valid *zerolog.Logger to pass around.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}
