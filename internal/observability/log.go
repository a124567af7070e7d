package observability

import (
	"io"
	"log/slog"
	"math"
	"os"
)

var noopLogger *slog.Logger

// NoopLogger returns a disabled Logger
func NoopLogger() *slog.Logger {
	return noopLogger
}

// NewTextLogger returns a Logger that writes "logfmt like" lines to stderr.
func NewTextLogger(level slog.Level) *slog.Logger {
	hdlr := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(hdlr)
}

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}
