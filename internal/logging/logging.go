// Package logging sets up the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Init installs the default slog logger. When extra is non-nil, output is
// fanned out to stdout (text, for local dev) and extra (JSON, e.g. a file
// or the log-entry sink) simultaneously.
func Init(component string, extra io.Writer) *slog.Logger {
	var handler slog.Handler
	if extra != nil {
		handler = slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, nil),
			slog.NewJSONHandler(extra, nil),
		)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}

	logger := slog.New(handler).With(slog.String("component", component))
	slog.SetDefault(logger)
	return logger
}

// Tag returns a logger prefixed with a bracketed component tag, matching the
// "[GIT]"/"[ORCHESTRATOR]" style used throughout this codebase's log lines.
func Tag(name string) *slog.Logger {
	return slog.Default().With(slog.String("tag", "["+name+"]"))
}
