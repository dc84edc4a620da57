// Package fake implements a simulated dual motor controller for running a base without hardware.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/resource"
)

const defaultPollIntervalMs = 100

var (
	_ = diffdrive.MotorController(&Motors{})
	_ = diffdrive.EncoderReader(&Motors{})
)

// Config configures the simulated controller.
type Config struct {
	PollIntervalMs int `json:"poll_interval_ms"`
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() Config {
	return Config{PollIntervalMs: defaultPollIntervalMs}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.PollIntervalMs <= 0 {
		return resource.NewConfigValidationError(path, errors.Errorf("poll_interval_ms must be positive, got %d", cfg.PollIntervalMs))
	}
	return nil
}

// PollInterval is how often the simulated encoders should be read.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalMs) * time.Millisecond
}

type wheel struct {
	target   float64
	speed    float64
	position float64
}

// advance ramps speed towards target at accel steps/s^2 (0 means instantly) and
// integrates position over dt seconds.
func (w *wheel) advance(dt, accel float64) {
	if accel <= 0 {
		w.position += w.target * dt
		w.speed = w.target
		return
	}
	diff := w.target - w.speed
	rampTime := math.Abs(diff) / accel
	if rampTime >= dt {
		next := w.speed + math.Copysign(accel*dt, diff)
		w.position += (w.speed + next) / 2 * dt
		w.speed = next
		return
	}
	w.position += (w.speed+w.target)/2*rampTime + w.target*(dt-rampTime)
	w.speed = w.target
}

// Motors simulates two wheels whose encoders count the steps travelled.
type Motors struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger golog.Logger

	last   time.Time
	accel  float64
	wheels [2]wheel
}

// NewMotors returns a stopped simulator. clk defaults to the wall clock.
func NewMotors(clk clock.Clock, logger golog.Logger) *Motors {
	if clk == nil {
		clk = clock.New()
	}
	return &Motors{clock: clk, logger: logger, last: clk.Now()}
}

// Must be run inside a lock.
func (m *Motors) advance() {
	now := m.clock.Now()
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}
	for i := range m.wheels {
		m.wheels[i].advance(dt, m.accel)
	}
}

// SetWheelVelocities sets new wheel speed targets, reached at the commanded acceleration.
func (m *Motors) SetWheelVelocities(ctx context.Context, cmd diffdrive.WheelCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.accel = float64(cmd.Acceleration)
	m.wheels[0].target = float64(cmd.Motor1)
	m.wheels[1].target = float64(cmd.Motor2)
	m.logger.Debugw("simulated wheel targets", "motor1", cmd.Motor1, "motor2", cmd.Motor2, "accel", cmd.Acceleration)
	return nil
}

// ReadEncoders returns the steps travelled so far. Counts wrap like a 32 bit hardware counter.
func (m *Motors) ReadEncoders(ctx context.Context) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return int32(int64(math.Round(m.wheels[0].position))), int32(int64(math.Round(m.wheels[1].position))), nil
}

// Speeds returns the current simulated wheel speeds in steps/s.
func (m *Motors) Speeds() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return m.wheels[0].speed, m.wheels[1].speed
}
