package bookstr

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the structured JSON logger used throughout the client.
// level is one of debug/info/warn/error; empty defers to the LOG_LEVEL env
// var and then info.
func NewLogger(level string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
