package roboclaw

import (
	"slices"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/diffdrive/resource"
)

const (
	defaultBaudRate     = 38400
	defaultAddress      = 128
	defaultTimeoutMs    = 100
	defaultPollInterval = 100
	defaultRetries      = 3
)

var validBaudRates = []int{2400, 9600, 19200, 38400, 57600, 115200, 230400, 460800}

// Config describes how to reach a roboclaw controller in packet serial mode.
type Config struct {
	SerialPath     string `json:"serial_path"`
	SerialBaudRate int    `json:"serial_baud_rate"`
	// Valid values are 128-135
	Address        int `json:"address"`
	TimeoutMs      int `json:"timeout_ms"`
	PollIntervalMs int `json:"poll_interval_ms"`
	Retries        int `json:"retries"`
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		SerialBaudRate: defaultBaudRate,
		Address:        defaultAddress,
		TimeoutMs:      defaultTimeoutMs,
		PollIntervalMs: defaultPollInterval,
		Retries:        defaultRetries,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.SerialPath == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "serial_path")
	}
	return cfg.validateLink(path)
}

// validateLink checks everything but the device path.
func (cfg *Config) validateLink(path string) error {
	if !slices.Contains(validBaudRates, cfg.SerialBaudRate) {
		return resource.NewConfigValidationError(path,
			errors.Errorf("invalid serial_baud_rate %d, acceptable values are %v", cfg.SerialBaudRate, validBaudRates))
	}
	if cfg.Address < 128 || cfg.Address > 135 {
		return resource.NewConfigValidationError(path,
			errors.Errorf("invalid address %d, acceptable values are 128 thru 135", cfg.Address))
	}
	if cfg.TimeoutMs <= 0 {
		return resource.NewConfigValidationError(path, errors.Errorf("timeout_ms must be positive, got %d", cfg.TimeoutMs))
	}
	if cfg.PollIntervalMs <= 0 {
		return resource.NewConfigValidationError(path, errors.Errorf("poll_interval_ms must be positive, got %d", cfg.PollIntervalMs))
	}
	if cfg.Retries < 0 {
		return resource.NewConfigValidationFieldNegativeError(path, "retries", float64(cfg.Retries))
	}
	return nil
}

// Timeout is how long a single transaction may wait for a reply.
func (cfg *Config) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutMs) * time.Millisecond
}

// PollInterval is how often the encoders should be read.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalMs) * time.Millisecond
}
