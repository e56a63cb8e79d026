package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	OutputPath string // empty disables file output
	MaxSize    int    // megabytes
	MaxAge     int    // days
	MaxBackups int
	Compress   bool
	Debug      bool
	JSON       bool
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		JSON:       true,
	}
}

// NewLogger creates a logger writing to stderr and, when OutputPath is
// set, to a rotated file
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEncoder := zapcore.NewJSONEncoder(encoderConfig)
	if !cfg.JSON {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			level,
		))
	}

	var options []zap.Option
	if cfg.Debug {
		options = append(options, zap.Development())
	}
	options = append(options,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	return zap.New(zapcore.NewTee(cores...), options...), nil
}
