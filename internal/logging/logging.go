// Package logging builds the zerolog loggers used by the relay and the client.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w at the given level.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Console returns a human-readable logger on stderr.
func Console(level string) (zerolog.Logger, error) {
	return New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	}), level)
}

// File returns a JSON logger appending to path, for programs that own the terminal.
// The returned closer must be called on exit.
func File(path, level string) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "creating log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "opening log file")
	}
	logger, err := New(f, level)
	if err != nil {
		_ = f.Close()
		return zerolog.Nop(), nil, err
	}
	return logger, f, nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return lvl, nil
}
