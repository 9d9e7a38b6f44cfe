package config

import (
	"fmt"
	"log/slog"
)

// ParseLogLevel maps APP_LOG_LEVEL values to slog levels.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("APP_LOG_LEVEL %q is not one of debug, info, warn, error", raw)
	}
}
