// Package logging builds the loggers used by the drive base and its command line.
package logging

import (
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/diffdrive/resource"
)

// Config describes where and how verbosely to log.
type Config struct {
	Level      string `json:"level,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// DefaultConfig logs info and above to stdout only.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// Validate ensures the level can be parsed and the rotation limits make sense.
func (cfg *Config) Validate(path string) error {
	if _, err := parseLevel(cfg.Level); err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return resource.NewConfigValidationError(path, errors.New("rotation limits must be non-negative"))
	}
	return nil
}

// NewLoggerConfig returns the console config shared by every node logger at the given level.
// Levels are colored and stacktraces are left out; the keys match the JSON file output.
func NewLoggerConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a named logger writing to stdout and, when cfg.File is set,
// to a size-rotated JSON file. The returned function closes the file.
func NewLogger(name string, cfg Config) (golog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	zcfg := NewLoggerConfig(level)
	base, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		encCfg := zcfg.EncoderConfig
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zcfg.Level)
		base = base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
		closeFn = rotator.Close
	}
	return base.Sugar().Named(name), closeFn, nil
}

func parseLevel(text string) (zapcore.Level, error) {
	if text == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(text))
	if err != nil {
		return zapcore.InfoLevel, errors.Errorf("unknown log level %q", text)
	}
	return level, nil
}
