package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	} {
		level, err := parseLevel(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := parseLevel("chatty")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown log level "chatty"`)
}

func TestNewLoggerConfig(t *testing.T) {
	cfg := NewLoggerConfig(zapcore.DebugLevel)
	test.That(t, cfg.Level.Level(), test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, cfg.Encoding, test.ShouldEqual, "console")
	test.That(t, cfg.DisableStacktrace, test.ShouldBeTrue)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate("log"), test.ShouldBeNil)

	cfg.Level = "loud"
	test.That(t, cfg.Validate("log"), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.MaxBackups = -1
	err := cfg.Validate("log")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rotation limits")
}

func TestNewLoggerWithFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.File = filepath.Join(t.TempDir(), "diffdrive.log")

	logger, closeFn, err := NewLogger("diffdrive", cfg)
	test.That(t, err, test.ShouldBeNil)
	logger.Infow("odometry", "x", 1.0)
	test.That(t, closeFn(), test.ShouldBeNil)

	contents, err := os.ReadFile(cfg.File)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, `"msg":"odometry"`)
	test.That(t, string(contents), test.ShouldContainSubstring, `"logger":"diffdrive"`)
}
