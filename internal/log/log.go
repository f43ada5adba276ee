// ABOUTME: Process-wide leveled logger built on zerolog
// ABOUTME: Printf-style helpers used by every jam component
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05.000"

var logger zerolog.Logger

// Options configures the process logger
type Options struct {
	Level   string    // debug, info, warn, error
	Output  io.Writer // defaults to stderr
	Console bool      // human-readable output instead of JSON lines
	NoColor bool
}

func init() {
	Init(Options{Level: "info", Console: true})
}

// Init replaces the process logger. Call it once from main before any
// component starts logging.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat, NoColor: opts.NoColor}
	}
	zerolog.TimeFieldFormat = timeFormat
	logger = zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a child logger tagged with a component name
func Logger(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

func Debugf(format string, v ...interface{}) {
	logger.Debug().Msgf(format, v...)
}

func Infof(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	logger.Error().Msgf(format, v...)
}
