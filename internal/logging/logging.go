// Package logging constructs the process-wide structured logger. Every
// subsystem receives a *zap.Logger rather than writing to stdout directly,
// matching the zap usage in the retrieval pack's service_layer and
// sage-adk repos.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger suited for an embedded library: human-readable in a
// terminal, level-filterable via SWARMHIVE_LOG_LEVEL.
func New(levelName string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if levelName != "" {
		if err := level.UnmarshalText([]byte(levelName)); err != nil {
			return nil, err
		}
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Noop returns a logger that discards everything, used by tests and by
// callers that haven't configured logging yet.
func Noop() *zap.Logger {
	return zap.NewNop()
}
