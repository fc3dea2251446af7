package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
	Output     string `mapstructure:"output"`
}

// NewLogger constructs a zerolog logger from config.
func NewLogger(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = parsed
	}

	logger := zerolog.New(logWriter(cfg)).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger()
}

func logWriter(cfg Config) io.Writer {
	out := os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}
