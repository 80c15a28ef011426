package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"consent-button/go-backend/internal/platform/privacylog"
)

func DefaultLogger() *slog.Logger {
	return NewLogger(os.Stdout, "info")
}

// NewLogger returns a JSON logger whose handler fingerprints addresses and
// redacts secrets.
func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLogLevel(level)})
	return slog.New(privacylog.WrapHandler(handler))
}

func ParseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
