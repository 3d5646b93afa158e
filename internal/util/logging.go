package util

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// SetCliLoggerDefaults configures the global logger. The "json" format writes
// structured lines for log collectors, anything else uses the console writer.
func SetCliLoggerDefaults(format string) {
	SetLoggerOutput(os.Stdout, format)
}

// SetLoggerOutput points the global logger at w and makes it the fallback for
// zerolog.Ctx lookups on contexts without an attached logger.
func SetLoggerOutput(w io.Writer, format string) {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z"

	var out io.Writer = w
	if format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    false,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func SetCliLogLevel(c *cli.Command) {
	if c.Bool("very-verbose") {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else if c.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
