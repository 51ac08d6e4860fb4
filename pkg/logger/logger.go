// Package logger provides a structured zerolog logger for eumbeacon.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init creates a logger writing to stderr.
// Supported levels: debug, info, warn, error. Defaults to info.
// Format "json" emits one JSON object per line; anything else uses the console writer.
func Init(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// New is Init with an explicit destination.
func New(w io.Writer, level, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
