package mqtt

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/diffdrive/resource"
)

// Topic names, relative to the configured prefix.
const (
	TopicCommand         = "cmd_vel"
	TopicEncoders        = "motor_enc"
	TopicWheelCommand    = "motor_cmd_vel"
	TopicFilteredCommand = "cmd_vel_filtered"
	TopicOdometry        = "odom"
	TopicTransform       = "tf"
)

// Config describes the broker connection.
type Config struct {
	// e.g. tcp://localhost:1883
	Broker           string `json:"broker"`
	ClientID         string `json:"client_id"`
	TopicPrefix      string `json:"topic_prefix"`
	QoS              int    `json:"qos"`
	PublishTimeoutMs int    `json:"publish_timeout_ms"`
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		ClientID:         "diffdrive",
		PublishTimeoutMs: 1000,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Broker == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "broker")
	}
	if cfg.ClientID == "" {
		return resource.NewConfigValidationFieldRequiredError(path, "client_id")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return resource.NewConfigValidationError(path, errors.Errorf("qos must be 0, 1 or 2, got %d", cfg.QoS))
	}
	if cfg.PublishTimeoutMs <= 0 {
		return resource.NewConfigValidationError(path,
			errors.Errorf("publish_timeout_ms must be positive, got %d", cfg.PublishTimeoutMs))
	}
	return nil
}

// Topic returns the full topic for name.
func (cfg *Config) Topic(name string) string {
	if cfg.TopicPrefix == "" {
		return name
	}
	return cfg.TopicPrefix + "/" + name
}

func (cfg *Config) publishTimeout() time.Duration {
	return time.Duration(cfg.PublishTimeoutMs) * time.Millisecond
}
