// Package logging builds the process root logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure New. Zero values mean info level, console output on
// stderr and no log file.
type Options struct {
	Level string
	// JSON switches stderr output from the console writer to raw JSON lines.
	JSON bool
	// File, when set, receives JSON lines through a rotating writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr overrides the terminal sink, mainly for tests.
	Stderr io.Writer
}

// ParseLevel accepts debug, info, warn, error and off (case-insensitive).
// Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "off", "disabled", "none":
		return zerolog.Disabled, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// New returns the root logger and a closer for the log file (a no-op when
// no file is configured).
func New(o Options) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(o.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	term := o.Stderr
	if term == nil {
		term = os.Stderr
	}
	if !o.JSON {
		term = zerolog.ConsoleWriter{Out: term, TimeFormat: time.TimeOnly}
	}

	var closer io.Closer = nopCloser{}
	out := term
	if o.File != "" {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    orDefault(o.MaxSizeMB, 20),
			MaxBackups: orDefault(o.MaxBackups, 3),
			MaxAge:     orDefault(o.MaxAgeDays, 14),
		}
		out = zerolog.MultiLevelWriter(term, lj)
		closer = lj
	}
	l := zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "modelhost").Logger()
	return l, closer, nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
