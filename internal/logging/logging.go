// Package logging builds the process-wide zap logger used by every
// component. No component reaches for a global logger; main constructs
// one and passes it down as a field.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a development (console, debug-level) logger when debug is
// true, otherwise a production JSON logger at info level.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// Component returns a child logger tagged with the owning component name,
// the convention every keeper subsystem follows for its own logger.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
