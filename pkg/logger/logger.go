// Package logger builds the zap loggers used across StrataDB's storage
// components. One root logger is configured at startup; each subsystem
// (disk, wal, buffer, bptree) logs through a named child of it, so every
// line carries the component that emitted it.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the root logger.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn",
	// "error"). Empty means "info".
	Level string `yaml:"level"`
	// Format selects the encoding: "json", or anything else for the
	// human-readable console form.
	Format string `yaml:"format"`
	// Outputs lists the sink URLs zap.Open understands ("stdout",
	// "stderr", or file paths). Empty means stderr.
	Outputs []string `yaml:"outputs"`
}

// New builds the root logger for the process. The returned close function
// releases any file sinks; call it once at shutdown, after the last log
// line.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	sink, closeSinks, err := zap.Open(outputs...)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log sinks %v: %w", outputs, err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return zap.New(core, zap.AddCaller()), closeSinks, nil
}

// Component derives the child logger for one storage subsystem. The name
// lands in the "component" key of every line. A nil root yields a no-op
// logger, so constructors can take an optional *zap.Logger without
// guarding every call site.
func Component(root *zap.Logger, name string) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(name)
}

// newEncoder builds the line encoder. The component name of a child
// logger is rendered through NameKey.
func newEncoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}
