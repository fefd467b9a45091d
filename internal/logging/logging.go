// Package logging builds the zap loggers used across the simulator.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options overrides the level derived from the configured log level.
type Options struct {
	Development bool
	Debug       bool
	Quiet       bool
}

// Level maps a simulation log level to a zap level.
func Level(name string) (zapcore.Level, error) {
	switch name {
	case "minimal":
		return zapcore.WarnLevel, nil
	case "", "normal":
		return zapcore.InfoLevel, nil
	case "verbose":
		return zapcore.DebugLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// New returns a logger for the given simulation log level.
func New(level string, opts Options) (*zap.Logger, error) {
	lvl, err := Level(level)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Debug:
		lvl = zapcore.DebugLevel
	case opts.Quiet:
		lvl = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
