package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the optional rotated log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger returns a slog.Logger configured for the desired verbosity and format.
func NewLogger(level string, json bool) *slog.Logger {
	return slog.New(newHandler(os.Stdout, level, json))
}

// NewFileLogger writes to stdout and, when opts.Path is set, to a rotated file.
// The returned closer releases the file and is never nil.
func NewFileLogger(level string, json bool, opts FileOptions) (*slog.Logger, io.Closer) {
	if opts.Path == "" {
		return NewLogger(level, json), io.NopCloser(nil)
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return slog.New(newHandler(io.MultiWriter(os.Stdout, rotator), level, json)), rotator
}

func newHandler(w io.Writer, level string, json bool) slog.Handler {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: handlerLevel}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
