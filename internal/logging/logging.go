// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where and how much the bridge logs.
type Options struct {
	Verbose bool
	// File, when set, receives a copy of every record and is rotated by
	// size.
	File string
}

// New builds a text logger writing to stderr and, optionally, a rotated
// file. The returned closer releases the file.
func New(opts Options, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out = io.MultiWriter(stderr, rotated)
		closer = rotated
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer
}

// Setup installs the logger from New as the slog default.
func Setup(opts Options) io.Closer {
	logger, closer := New(opts, os.Stderr)
	slog.SetDefault(logger)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
