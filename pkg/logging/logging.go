// Package logging builds the zap loggers shared by every pipeline stage.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used as logger names.
const (
	CAPTURE   = "CAPTURE"
	CALIBRATE = "CALIBRATE"
	DETECT    = "DETECT"
	DESCRIBE  = "DESCRIBE"
	SCENE     = "SCENE"
	PIPELINE  = "PIPELINE"
	SETTINGS  = "SETTINGS"
	API       = "API"
	BROADCAST = "BROADCAST"
	PROVIDER  = "PROVIDER"
)

// NewConfig returns the console config: no stacktraces, colored levels,
// ISO8601 timestamps.
func NewConfig(debug bool) zap.Config {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns the root logger.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	l, err := NewConfig(debug).Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Named returns a child logger for a component, falling back to a no-op
// logger for nil parents.
func Named(parent *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if parent == nil {
		return zap.NewNop().Sugar()
	}
	return parent.Named(component)
}
