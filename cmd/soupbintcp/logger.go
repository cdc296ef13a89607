package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "SOUPBINTCP_LOG_LEVEL"

// zerologLogger adapts zerolog to the session Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

func newLogger(out io.Writer, level string) zerologLogger {
	if env := strings.TrimSpace(os.Getenv(EnvLogLevel)); env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerologLogger{
		l: zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "soupbintcp").Logger(),
	}
}

func (z zerologLogger) Debug(msg string, args ...any) { z.l.Debug().Fields(args).Msg(msg) }
func (z zerologLogger) Info(msg string, args ...any)  { z.l.Info().Fields(args).Msg(msg) }
func (z zerologLogger) Warn(msg string, args ...any)  { z.l.Warn().Fields(args).Msg(msg) }
func (z zerologLogger) Error(msg string, args ...any) { z.l.Error().Fields(args).Msg(msg) }
