// Package logging builds the worker's structured logger: slog's plain
// text handler when stderr is an interactive terminal, JSON
// otherwise (for log aggregation when the worker runs under a process
// supervisor).
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options configures New.
type Options struct {
	// Verbose enables debug-level logging; otherwise info and above.
	Verbose bool
	// ForceJSON always uses the JSON handler, overriding TTY detection
	// (set by cmd/rchworker's --json-logs flag).
	ForceJSON bool
}

// New builds a *slog.Logger writing to out: a text handler when out is
// an interactive terminal and ForceJSON is false, a JSON handler
// otherwise.
func New(out io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if !opts.ForceJSON && isTerminal(out) {
		return slog.New(slog.NewTextHandler(out, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
