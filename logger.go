package soupbintcp

import (
	"fmt"
	"log/slog"
)

// Logger is the interface for structured logging.
// *slog.Logger satisfies it; key-value pairs follow the slog convention.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// tagName renders a type tag for logs and metric labels.
func tagName(tag byte) string {
	if tag >= 0x21 && tag <= 0x7e {
		return string([]byte{tag})
	}
	return fmt.Sprintf("0x%02x", tag)
}
