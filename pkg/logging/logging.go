// Package logging constructs the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds a logger for the given level (debug, info, warn, error) and
// format (json or console). An empty level means info.
func New(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true

	if level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
	case FormatConsole:
		cfg.Encoding = FormatConsole
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// Nop returns a no-op logger for tests and optional dependencies.
func Nop() *zap.Logger {
	return zap.NewNop()
}
