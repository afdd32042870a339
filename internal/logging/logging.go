// Package logging provides structured logging for poping.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Accepted values for the log level and format settings.
var (
	Levels  = []string{"debug", "info", "warn", "error"}
	Formats = []string{"text", "json"}
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeySource      = "source"
	KeyDestination = "destination"
	KeyIdentifier  = "id"
	KeySequence    = "seq"
	KeyPayload     = "payload"
	KeySize        = "size"
	KeyType        = "type"
	KeyRTT         = "rtt"
	KeyReason      = "reason"
	KeyNetwork     = "network"
	KeyAddress     = "address"
	KeyError       = "error"
	KeyComponent   = "component"
	KeyCount       = "count"
)

// Hex16 formats a 16-bit identifier the way echo tools print them.
func Hex16(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}
