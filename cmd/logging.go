package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tinoosan/modlib/internal/config"
)

// newLogger writes to stdout, and also to a rotated file when one is
// configured.
func newLogger(cfg *config.Config) (*slog.Logger, func() error) {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }
	if cfg.Logging.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj.Close
	}
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var h slog.Handler
	if cfg.Logging.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h).With("service", "modlib"), closer
}
