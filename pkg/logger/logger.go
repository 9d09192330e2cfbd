// Package logger builds the zerolog logger shared by the CLI and the upload
// packages.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	// Level is a zerolog level name. Empty falls back to LOG_LEVEL, then info.
	Level string
	// Quiet raises the level to warn unless Level asks for something stricter.
	Quiet bool
	// JSON writes one JSON object per line instead of console output.
	JSON   bool
	Writer io.Writer
}

func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if !opts.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	level := ParseLevel(opts.Level)
	if opts.Quiet && level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel resolves a level name, consulting LOG_LEVEL when name is empty.
// Unknown names resolve to info.
func ParseLevel(name string) zerolog.Level {
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
