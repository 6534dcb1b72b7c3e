// Package logging builds the zerolog structured logger shared by the host
// and client binaries.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/config"
)

// globalLevel mirrors the active zerolog level so request-scoped code (the
// debug-only context assertion pass) can cheaply check it without touching
// zerolog's own global state from hot paths.
var globalLevel atomic.Int32

// New builds a zerolog.Logger from cfg.LogLevel/cfg.LogFormat. Format
// "console" gets a human-readable ConsoleWriter; anything else is JSON.
func New(cfg *config.Config) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	globalLevel.Store(int32(level))

	var output io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", "netfr").
		Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel updates the process-wide log level at runtime. The cmd -debug
// flag does not call it; it sets cfg.LogLevel before New instead.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	globalLevel.Store(int32(level))
}

// Level reports the currently active log level.
func Level() zerolog.Level {
	return zerolog.Level(globalLevel.Load())
}

// DebugEnabled reports whether debug-level diagnostics (including the
// debug-only context assertion pass) should run.
func DebugEnabled() bool {
	return Level() <= zerolog.DebugLevel
}

// LogErrorWithStack logs an error together with a captured stack trace, for
// unexpected failures where the call path matters.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic recovers a panic in a goroutine, logs it, and lets the
// process keep running. Use in every background goroutine's defer.
func RecoverPanic(logger zerolog.Logger, goroutineName string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
