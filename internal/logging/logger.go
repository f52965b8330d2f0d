package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"localdocs/config"
)

// New builds a logger from the logging section. Logs always go to stderr;
// stdout carries command output and the MCP stdio transport.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// Nop returns a logger that discards everything, for tests and library use.
func Nop() *zap.Logger {
	return zap.NewNop()
}
