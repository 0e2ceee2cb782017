package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service-wide zerolog logger. Pretty console output
// in development, JSON everywhere else.
func NewLogger(service, level string) zerolog.Logger {
	var output io.Writer = os.Stdout
	if os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
