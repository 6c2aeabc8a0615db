package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level   string // debug, info, warn, error
	Format  string // json or pretty
	Service string
	Output  io.Writer
}

// NewLogger creates a structured logger. JSON is the default output; "pretty"
// switches to a human readable console writer for local development.
//
//	logger := NewLogger(LoggerConfig{Level: "info", Format: "json"})
//	logger.Info().Str("component", "server").Msg("started")
func NewLogger(config LoggerConfig) zerolog.Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	if config.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	service := config.Service
	if service == "" {
		service = "realtime-ws"
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
