// Package core provides core utilities shared across caesium packages.
package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger. Packages that are not handed a logger
// explicitly fall back to it via GetLogger.
var Logger *zap.Logger

func init() {
	logger, err := buildLogger(zap.NewProductionConfig(), nil)
	if err != nil {
		logger = zap.NewNop()
	}
	Logger = logger
}

// GetLogger returns the global logger.
func GetLogger() *zap.Logger {
	return Logger
}

// ConfigureLogger rebuilds the global logger from the application
// configuration: development toggles the console encoder, level is one of
// debug, info, warn or error, and outputPaths overrides stderr when set.
func ConfigureLogger(development bool, level string, outputPaths ...string) error {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := buildLogger(config, outputPaths)
	if err != nil {
		return err
	}

	Logger = logger
	return nil
}

func buildLogger(config zap.Config, outputPaths []string) (*zap.Logger, error) {
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}

	return config.Build(zap.AddCallerSkip(1))
}
