// Package config defines the on-disk configuration of a diffdrive node.
package config

import (
	"github.com/pkg/errors"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/components/motor/fake"
	"go.viam.com/diffdrive/components/motor/roboclaw"
	"go.viam.com/diffdrive/data/trail"
	"go.viam.com/diffdrive/logging"
	"go.viam.com/diffdrive/resource"
	"go.viam.com/diffdrive/transport/mqtt"
)

// A Config describes the configuration of a diffdrive node.
type Config struct {
	ConfigFilePath string `json:"-"`

	Base diffdrive.Config
	// Roboclaw is nil when no motor controller is attached; wheel commands are then only published.
	Roboclaw *roboclaw.Config
	// Fake replaces the motor controller with a simulator. It cannot be combined with Roboclaw.
	Fake *fake.Config
	// MQTT is nil when no broker is configured.
	MQTT  *mqtt.Config
	Trail trail.Config
	Log   logging.Config
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.Base.Validate("base"); err != nil {
		return err
	}
	if c.Roboclaw != nil {
		if err := c.Roboclaw.Validate("roboclaw"); err != nil {
			return err
		}
	}
	if c.Fake != nil {
		if err := c.Fake.Validate("fake"); err != nil {
			return err
		}
	}
	if c.MQTT != nil {
		if err := c.MQTT.Validate("mqtt"); err != nil {
			return err
		}
	}
	if err := c.Log.Validate("log"); err != nil {
		return err
	}
	if c.Roboclaw != nil && c.Fake != nil {
		return resource.NewConfigValidationError("",
			errors.New("only one of \"roboclaw\" or \"fake\" may be configured"))
	}
	if c.Roboclaw == nil && c.Fake == nil && c.MQTT == nil {
		return resource.NewConfigValidationError("",
			errors.New("at least one of \"roboclaw\", \"fake\" or \"mqtt\" must be configured"))
	}
	return nil
}
