package diffdrive

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"golang.org/x/time/rate"
)

// clipWarnInterval is the minimum spacing between two clipping warnings for the same bound.
const clipWarnInterval = 15 * time.Second

// Twist is a body frame velocity. Linear is in m/s, Angular in rad/s.
type Twist struct {
	Linear  r3.Vector `json:"linear"`
	Angular r3.Vector `json:"angular"`
}

// WheelCommand is what gets sent to the motor driver for one velocity command.
type WheelCommand struct {
	// Motor1 and Motor2 are wheel setpoints in encoder steps per second.
	Motor1 int32 `json:"mot1_vel_sps"`
	Motor2 int32 `json:"mot2_vel_sps"`
	// Acceleration is in steps/s^2 and does not depend on the command.
	Acceleration uint32 `json:"acceleration"`
	// Filtered is the command that was actually realized after clamping.
	Filtered Twist `json:"-"`
}

type clipBound int

const (
	linearMax clipBound = iota
	linearMin
	angularMax
	angularMin
	numClipBounds
)

// A CommandGenerator turns body velocity commands into wheel setpoints.
// Besides its configuration it only keeps the warning throttles, so it is
// safe to call from several goroutines.
type CommandGenerator struct {
	cfg    Config
	accel  uint32
	logger golog.Logger
	clock  clock.Clock

	clipWarnings [numClipBounds]*rate.Limiter
}

// NewCommandGenerator returns a generator for the given base configuration.
func NewCommandGenerator(cfg Config, logger golog.Logger, clk clock.Clock) (*CommandGenerator, error) {
	if err := cfg.Validate("base"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	g := &CommandGenerator{
		cfg:    cfg,
		accel:  cfg.AccelerationTag(),
		logger: logger,
		clock:  clk,
	}
	for i := range g.clipWarnings {
		g.clipWarnings[i] = rate.NewLimiter(rate.Every(clipWarnInterval), 1)
	}
	logger.Infof("max linear speed: %v m/s", cfg.MaxLinearSpeed)
	logger.Infof("max angular speed: %v rad/s", cfg.MaxAngularSpeed)
	logger.Infof("max linear acceleration: %v m/s^2", cfg.MaxLinearAcceleration)
	return g, nil
}

// Generate computes wheel setpoints for the commanded linear (m/s) and angular (rad/s)
// velocities. Only linear.X, linear.Y and angular.Z are used.
func (g *CommandGenerator) Generate(linear, angular r3.Vector) WheelCommand {
	cmd := WheelCommand{Acceleration: g.accel}
	spm := g.cfg.StepsPerMeter

	// terms are truncated one by one, then summed wide and saturated so that
	// an out of range setpoint never wraps into the opposite direction.
	vx := g.clip(linear.X, g.cfg.MaxLinearSpeed, linearMax, linearMin, "Linear", "m/s")
	m1 := int64(toSteps(spm * vx))
	m2 := int64(toSteps(spm * vx))

	// lateral speed only ever feeds one wheel; the motor driver expects this.
	if linear.Y > 0 {
		m2 += int64(toSteps(spm * linear.Y))
	} else if linear.Y < 0 {
		m1 += int64(toSteps(spm * linear.Y))
	}

	wz := g.clip(angular.Z, g.cfg.MaxAngularSpeed, angularMax, angularMin, "Angular", "rad/s")
	turn := spm * wz * g.cfg.BaseWidth / 2
	m1 += int64(toSteps(-turn))
	m2 += int64(toSteps(turn))

	if g.cfg.InvertMotor1 {
		m1 = -m1
	}
	if g.cfg.InvertMotor2 {
		m2 = -m2
	}
	cmd.Motor1, cmd.Motor2 = saturate32(m1), saturate32(m2)
	if g.cfg.SwapMotors {
		cmd.Motor1, cmd.Motor2 = cmd.Motor2, cmd.Motor1
	}

	cmd.Filtered = Twist{
		Linear:  r3.Vector{X: vx, Y: linear.Y},
		Angular: r3.Vector{Z: wz},
	}
	return cmd
}

func (g *CommandGenerator) clip(v, limit float64, upper, lower clipBound, kind, unit string) float64 {
	switch {
	case v > limit:
		if g.clipWarnings[upper].AllowN(g.clock.Now(), 1) {
			g.logger.Warnf("%s speed clipped at max speed of %v %s", kind, limit, unit)
		}
		return limit
	case v < -limit:
		if g.clipWarnings[lower].AllowN(g.clock.Now(), 1) {
			g.logger.Warnf("%s speed clipped at min speed of %v %s", kind, -limit, unit)
		}
		return -limit
	default:
		return v
	}
}

// toSteps truncates v toward zero, saturating at the int32 range.
func toSteps(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func saturate32(v int64) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
