package common

import (
	"io"
	"log/slog"
	"os"
)

// LoggingOpts controls the handler and default attributes of the process logger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
	// Output defaults to stdout.
	Output io.Writer
}

// SetupLogger returns a slog.Logger configured by opts.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(out, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(out, handlerOpts))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
