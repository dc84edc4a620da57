package diffdrive

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/diffdrive/resource"
)

const (
	defaultMaxSpeed        = 1000
	defaultMaxAcceleration = 1000
	defaultVariance        = 0.01
)

// Config is how you configure a differential drive base. Geometry is in meters,
// speeds in m/s and rad/s.
type Config struct {
	BaseWidth     float64 `json:"base_width"`
	StepsPerMeter float64 `json:"steps_per_meter"`

	MaxLinearSpeed        float64 `json:"max_linear_speed"`
	MaxAngularSpeed       float64 `json:"max_angular_speed"`
	MaxLinearAcceleration float64 `json:"max_linear_acceleration"`

	SwapMotors   bool `json:"swap_motors"`
	InvertMotor1 bool `json:"invert_motor_1"`
	InvertMotor2 bool `json:"invert_motor_2"`

	VarPosX   float64 `json:"var_pos_x"`
	VarPosY   float64 `json:"var_pos_y"`
	VarThetaZ float64 `json:"var_theta_z"`

	FramePrefix string `json:"frame_prefix"`
}

// DefaultConfig returns a config with every optional field at its default.
// BaseWidth and StepsPerMeter are left unset and must be supplied.
func DefaultConfig() Config {
	return Config{
		MaxLinearSpeed:        defaultMaxSpeed,
		MaxAngularSpeed:       defaultMaxSpeed,
		MaxLinearAcceleration: defaultMaxAcceleration,
		SwapMotors:            true,
		VarPosX:               defaultVariance,
		VarPosY:               defaultVariance,
		VarThetaZ:             defaultVariance,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.BaseWidth == 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "base_width")
	}
	if cfg.StepsPerMeter == 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "steps_per_meter")
	}
	if cfg.BaseWidth < 0 || math.IsNaN(cfg.BaseWidth) || math.IsInf(cfg.BaseWidth, 0) {
		return resource.NewConfigValidationError(path, errors.Errorf("base_width must be positive, got %v", cfg.BaseWidth))
	}
	if cfg.StepsPerMeter < 0 || math.IsNaN(cfg.StepsPerMeter) || math.IsInf(cfg.StepsPerMeter, 0) {
		return resource.NewConfigValidationError(path, errors.Errorf("steps_per_meter must be positive, got %v", cfg.StepsPerMeter))
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"max_linear_speed", cfg.MaxLinearSpeed},
		{"max_angular_speed", cfg.MaxAngularSpeed},
		{"max_linear_acceleration", cfg.MaxLinearAcceleration},
		{"var_pos_x", cfg.VarPosX},
		{"var_pos_y", cfg.VarPosY},
		{"var_theta_z", cfg.VarThetaZ},
	} {
		if f.value < 0 || math.IsNaN(f.value) {
			return resource.NewConfigValidationFieldNegativeError(path, f.name, f.value)
		}
	}
	return nil
}

// OdomFrame is the fixed frame odometry is reported in.
func (cfg *Config) OdomFrame() string {
	return cfg.FramePrefix + "/odom"
}

// BaseFrame is the frame attached to the robot footprint.
func (cfg *Config) BaseFrame() string {
	return cfg.FramePrefix + "/base_footprint"
}

// AccelerationTag is the acceleration, in steps/s^2, sent with every wheel command.
func (cfg *Config) AccelerationTag() uint32 {
	accel := cfg.MaxLinearAcceleration * cfg.StepsPerMeter
	if accel >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(accel)
}
