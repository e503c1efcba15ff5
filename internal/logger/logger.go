package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	serviceName      = "onvotar-bot"
	simpleTimeFormat = "02-01-2006 15:04:05"
)

// New constructs a zerolog logger according to the runtime environment.
// Development gets human readable console output; everything else emits JSON
// with RFC 3339 timestamps. Every line carries the service name and env.
func New(env, level string, writers ...io.Writer) (*zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	var output io.Writer
	switch {
	case len(writers) > 0:
		zerolog.TimeFieldFormat = time.RFC3339
		output = io.MultiWriter(writers...)
	case isDevelopment(env):
		zerolog.TimeFieldFormat = simpleTimeFormat
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: simpleTimeFormat}
	default:
		zerolog.TimeFieldFormat = time.RFC3339
		output = os.Stdout
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("env", strings.ToLower(strings.TrimSpace(env))).
		Logger().
		Level(lvl)
	return &logger, nil
}

func isDevelopment(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, err
	}
	return lvl, nil
}
