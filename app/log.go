package app

import (
	"fmt"
	"log/slog"
	"strings"
)

var logLevelMap = map[string]slog.Level{
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// SetLogLevel sets the level of the default logger
func SetLogLevel(name string) error {
	level, ok := logLevelMap[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level: %v", name)
	}
	slog.SetLogLoggerLevel(level)
	return nil
}
