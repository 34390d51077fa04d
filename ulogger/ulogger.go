// Package ulogger wraps zerolog the way the teacher's util.ZLoggerWrapper
// does: a small Logger interface every service takes by constructor
// injection, a pretty console writer for local runs, and a plain JSON
// writer for anything else.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the surface every component depends on. Kept narrow so tests
// can pass a no-op or a testing.T-backed implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type zLogger struct {
	zerolog.Logger
	service string
}

// New returns the pretty console logger unless LEDGERD_JSON_LOGS is "1",
// mirroring the teacher's PRETTY_LOGS switch.
func New(service string, logLevel ...string) Logger {
	if service == "" {
		service = "ledgerd"
	}

	var z *zLogger
	if os.Getenv("LEDGERD_JSON_LOGS") == "1" {
		z = &zLogger{
			zerolog.New(os.Stdout).With().Timestamp().Logger(),
			service,
		}
	} else {
		z = prettyLogger(service)
	}

	if len(logLevel) > 0 {
		setLevel(logLevel[0], z)
	}

	return z
}

func setLevel(level string, z *zLogger) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func prettyLogger(service string) *zLogger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	output.FormatTimestamp = func(i interface{}) string {
		if s, ok := i.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.Format("15:04:05")
			}
		}
		return fmt.Sprintf("%v", i)
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-10s| %s", service, i)
	}

	return &zLogger{
		zerolog.New(output).With().Timestamp().Logger(),
		service,
	}
}

func (z *zLogger) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *zLogger) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *zLogger) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *zLogger) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *zLogger) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }
