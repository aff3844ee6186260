// Package logging builds the process logger
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sessionlink/internal/config"
)

// New builds a production zap logger writing to stderr, so stdout stays free
// for the status indicator and inbound frames.
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg != nil {
		if cfg.Debug {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if cfg.Encoding == "console" {
			zc.Encoding = "console"
			zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}
	// Sampling would hide repeated reconnect lines, which are the interesting ones
	zc.Sampling = nil

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
