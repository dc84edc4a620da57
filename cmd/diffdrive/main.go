// Package main runs a differential drive base: velocity commands in, wheel setpoints
// and encoder odometry out.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/components/motor/fake"
	"go.viam.com/diffdrive/components/motor/roboclaw"
	"go.viam.com/diffdrive/config"
	"go.viam.com/diffdrive/data/trail"
	"go.viam.com/diffdrive/logging"
	"go.viam.com/diffdrive/transport/mqtt"
)

var logger = golog.NewDevelopmentLogger("diffdrive")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=node config file"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(ctx, argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if argsParsed.Debug {
		cfg.Log.Level = "debug"
	}

	nodeLogger, closeLog, err := logging.NewLogger("diffdrive", cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()

	return runNode(ctx, cfg, nodeLogger)
}

// runNode wires the configured pieces into a base and runs until ctx is done.
// Deferred closes run in reverse, so the base stops the motors before the links go away.
func runNode(ctx context.Context, cfg *config.Config, logger golog.Logger) (err error) {
	var sinks diffdrive.Sinks
	var motors diffdrive.MotorController
	var encoders diffdrive.EncoderReader
	var pollInterval time.Duration

	if cfg.Roboclaw != nil {
		var rc *roboclaw.Roboclaw
		rc, err = roboclaw.Open(*cfg.Roboclaw, logger.Named("roboclaw"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, rc.Close())
		}()
		if err := rc.ResetEncoders(ctx); err != nil {
			logger.Warnw("failed to reset encoders; continuing from current counts", "error", err)
		}
		motors, encoders, pollInterval = rc, rc, cfg.Roboclaw.PollInterval()
	}
	if cfg.Fake != nil {
		logger.Info("no motor controller attached; simulating wheels")
		sim := fake.NewMotors(nil, logger.Named("fake"))
		motors, encoders, pollInterval = sim, sim, cfg.Fake.PollInterval()
	}

	if cfg.Trail.Path != "" {
		var recorder *trail.Recorder
		recorder, err = trail.Open(ctx, cfg.Trail.Path)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, recorder.Close())
		}()
		sinks.Odometry = append(sinks.Odometry, recorder)
	}

	var bridge *mqtt.Bridge
	if cfg.MQTT != nil {
		bridge, err = mqtt.NewBridge(*cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		if err := bridge.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, bridge.Close())
		}()
		sinks.Commands = append(sinks.Commands, bridge)
		sinks.Odometry = append(sinks.Odometry, bridge)
	}

	base, err := diffdrive.NewBase(cfg.Base, motors, sinks, logger.Named("base"), nil)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, base.Close(context.Background()))
	}()

	if encoders != nil {
		if err := base.Start(ctx, encoders, pollInterval); err != nil {
			return err
		}
	}
	if bridge != nil {
		if err := bridge.Subscribe(ctx, base.SetVelocity); err != nil {
			return err
		}
		// without a controller of our own, encoder counts arrive over the broker
		if encoders == nil {
			if err := bridge.SubscribeEncoders(ctx, base.UpdateEncoders); err != nil {
				return err
			}
		}
	}

	utils.ContextMainReadyFunc(ctx)()
	logger.Infow("diffdrive running", "config", cfg.ConfigFilePath)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
