package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Level   string
	Env     string
	Service string
}

// NewLogger builds the process logger. Every entry carries the service and
// env so api and worker output can share one sink.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == "prod" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "ts"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	fields := map[string]any{}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	if cfg.Env != "" {
		fields["env"] = cfg.Env
	}
	zapCfg.InitialFields = fields

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger for %s: %w", cfg.Service, err)
	}

	return logger, nil
}
