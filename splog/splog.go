// Package splog wires the engine's structured logging onto
// github.com/joeycumines/logiface, using github.com/joeycumines/stumpy as
// the default JSON writer backend.
//
// A socket takes its *Logger at construction time (sp.WithLogger) and logs
// endpoint lifecycle and shutdown steps through it; when none is supplied,
// NewDiscard is used so logging is zero-cost until configured.
package splog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type threaded through the engine.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing stumpy-encoded JSON lines to w at the given
// minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return logiface.New[*stumpy.Event](
		stumpy.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	)
}

// NewDiscard builds a Logger that drops every event; used as the default
// when the application does not configure logging.
func NewDiscard() *Logger {
	return logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](logiface.LevelDisabled),
		stumpy.WithStumpy(stumpy.WithWriter(io.Discard)),
	)
}
