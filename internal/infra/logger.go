package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger: JSON on stdout, or a console writer in
// development. LOG_LEVEL overrides the environment's default level.
func NewLogger(appEnv string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).
		Level(levelFor(appEnv, os.Getenv("LOG_LEVEL"))).
		With().
		Timestamp().
		Str("service", "genstudio").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

func levelFor(appEnv, override string) zerolog.Level {
	if override = strings.TrimSpace(override); override != "" {
		if level, err := zerolog.ParseLevel(strings.ToLower(override)); err == nil && level != zerolog.NoLevel {
			return level
		}
	}
	if appEnv == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Logger aliases zerolog.Logger so provider packages can take a logger
// without importing zerolog themselves.
type Logger = zerolog.Logger
