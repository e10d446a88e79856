// Package logging builds the structured zerolog logger every component in
// frame-fleet shares.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger configured for a given level/format pair. format is
// "json" (default, Loki-compatible) or "pretty" (console writer, for local
// development).
func New(level, format string) zerolog.Logger {
	return newWithWriter(os.Stdout, level, format)
}

func newWithWriter(out io.Writer, level, format string) zerolog.Logger {
	output := out

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "frame-fleet").
		Logger()
}

// LogError logs an error with context fields, no stack trace. Used at
// ordinary error-return call sites where the call stack adds no value.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogErrorWithStack logs a recovered panic with a full stack trace. Used at
// the one legitimate recover() site: the detached detector goroutine.
func LogErrorWithStack(logger zerolog.Logger, recovered interface{}, msg string) {
	logger.Error().
		Interface("panic_value", recovered).
		Str("stack_trace", string(debug.Stack())).
		Msg(msg)
}
