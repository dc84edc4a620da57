// Package diffdrive implements a differential drive base: it turns body velocity
// commands into wheel setpoints and dead-reckons the base pose from wheel encoders.
package diffdrive

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/diffdrive/spatialmath"
)

// MotorController drives both wheels of the base.
type MotorController interface {
	SetWheelVelocities(ctx context.Context, cmd WheelCommand) error
}

// EncoderReader reports the cumulative encoder counts of both wheels.
type EncoderReader interface {
	ReadEncoders(ctx context.Context) (int32, int32, error)
}

// CommandSink receives every wheel command and the command that was realized.
type CommandSink interface {
	PublishWheelCommand(ctx context.Context, cmd WheelCommand) error
	PublishFilteredCommand(ctx context.Context, twist Twist) error
}

// OdometrySink receives every odometry sample and its frame transform.
type OdometrySink interface {
	PublishOdometry(ctx context.Context, sample OdometrySample) error
	PublishTransform(ctx context.Context, tf Transform) error
}

// Sinks are the consumers the base publishes to. Any of them may be empty.
type Sinks struct {
	Commands []CommandSink
	Odometry []OdometrySink
}

// Base ties a CommandGenerator and an Estimator to the motors and the outside world.
type Base struct {
	cfg       Config
	generator *CommandGenerator
	motors    MotorController
	sinks     Sinks
	logger    golog.Logger
	clock     clock.Clock

	mu        sync.Mutex
	estimator *Estimator

	pollMu                  sync.Mutex
	cancelPoll              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBase returns a new base defined by the given config. motors may be nil when
// wheel commands are only published to sinks.
func NewBase(cfg Config, motors MotorController, sinks Sinks, logger golog.Logger, clk clock.Clock) (*Base, error) {
	if clk == nil {
		clk = clock.New()
	}
	generator, err := NewCommandGenerator(cfg, logger, clk)
	if err != nil {
		return nil, err
	}
	estimator, err := NewEstimator(cfg, clk.Now())
	if err != nil {
		return nil, err
	}
	return &Base{
		cfg:       cfg,
		generator: generator,
		motors:    motors,
		sinks:     sinks,
		logger:    logger,
		clock:     clk,
		estimator: estimator,
	}, nil
}

// SetVelocity commands the base to move at the input linear (m/s) and angular (rad/s) velocities.
func (b *Base) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	b.logger.Debugf(
		"received a SetVelocity with linear X: %.3f, Y: %.3f (m/s), angular Z: %.3f (rad/s)",
		linear.X, linear.Y, angular.Z)

	cmd := b.generator.Generate(linear, angular)

	var err error
	if b.motors != nil {
		if mErr := b.motors.SetWheelVelocities(ctx, cmd); mErr != nil {
			err = multierr.Combine(err, errors.Wrap(mErr, "failed to set wheel velocities"))
		}
	}
	for _, sink := range b.sinks.Commands {
		err = multierr.Combine(err,
			sink.PublishWheelCommand(ctx, cmd),
			sink.PublishFilteredCommand(ctx, cmd.Filtered))
	}
	return err
}

// Stop commands the base to stop moving.
func (b *Base) Stop(ctx context.Context) error {
	return b.SetVelocity(ctx, r3.Vector{}, r3.Vector{})
}

// UpdateEncoders integrates new cumulative encoder counts, stamped with the base clock,
// and publishes the resulting odometry.
func (b *Base) UpdateEncoders(ctx context.Context, steps1, steps2 int32) error {
	b.mu.Lock()
	sample, tf := b.estimator.Update(steps1, steps2, b.clock.Now())
	b.mu.Unlock()

	if sample.DegenerateInterval {
		b.logger.Debugw("encoder sample did not advance in time; reusing previous velocity", "time", sample.Time)
	}

	var err error
	for _, sink := range b.sinks.Odometry {
		err = multierr.Combine(err,
			sink.PublishTransform(ctx, tf),
			sink.PublishOdometry(ctx, sample))
	}
	return err
}

// SyncEncoders adopts the given counts as the reference for the next update without moving the pose.
func (b *Base) SyncEncoders(steps1, steps2 int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.estimator.State()
	state.Steps1 = steps1
	state.Steps2 = steps2
	state.LastSampleTime = b.clock.Now()
	b.estimator.Reset(state)
}

// Pose returns the current dead-reckoned pose.
func (b *Base) Pose() spatialmath.Pose2D {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.estimator.State().Pose
}

// Start polls the encoders every interval in the background until ctx is done or the base is closed.
// The first successful read only establishes the reference counts.
func (b *Base) Start(ctx context.Context, encoders EncoderReader, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("encoder poll interval must be positive, got %v", interval)
	}
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	if b.cancelPoll != nil {
		return errors.New("encoder polling already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	b.cancelPoll = cancel

	ticker := b.clock.Ticker(interval)
	b.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		defer ticker.Stop()
		synced := false
		for {
			if !utils.SelectContextOrWaitChan(pollCtx, ticker.C) {
				return
			}
			steps1, steps2, err := encoders.ReadEncoders(pollCtx)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				b.logger.Errorw("failed to read encoders", "error", err)
				continue
			}
			if !synced {
				b.SyncEncoders(steps1, steps2)
				synced = true
				continue
			}
			if err := b.UpdateEncoders(pollCtx, steps1, steps2); err != nil {
				b.logger.Warnw("failed to publish odometry", "error", err)
			}
		}
	}, b.activeBackgroundWorkers.Done)
	return nil
}

// Close stops encoder polling and the motors.
func (b *Base) Close(ctx context.Context) error {
	b.pollMu.Lock()
	if b.cancelPoll != nil {
		b.cancelPoll()
	}
	b.pollMu.Unlock()
	b.activeBackgroundWorkers.Wait()
	return b.Stop(ctx)
}
