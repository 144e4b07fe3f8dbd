// Package logging configures the process-wide zerolog root logger. Every
// component derives its own logger via Component so log lines carry a stable
// component field.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls root logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values fall back to
	// info.
	Level string
	// Format is "console" for human-readable output, anything else emits
	// JSON.
	Format string
	// GCPSeverity renames the level field to "severity" so GCP log ingestion
	// picks up the right severity class.
	GCPSeverity bool
}

// Setup configures the global logger and returns it. Call once at process
// start, before any component logger is derived.
func Setup(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	if opts.GCPSeverity {
		zerolog.LevelFieldName = "severity"
	}

	var out io.Writer = os.Stderr
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Component derives a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
