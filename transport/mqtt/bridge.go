// Package mqtt bridges a differential drive base to an MQTT broker: velocity commands
// and encoder counts come in, wheel commands and odometry go out, all as JSON.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/diffdrive/components/base/diffdrive"
)

// queueSize bounds how many received messages may wait for their handler.
const queueSize = 16

// disconnectQuiesceMs is how long Close lets in-flight work finish.
const disconnectQuiesceMs = 250

var (
	_ = diffdrive.CommandSink(&Bridge{})
	_ = diffdrive.OdometrySink(&Bridge{})
)

// CommandHandler is called, in arrival order, for every velocity command received.
type CommandHandler func(ctx context.Context, linear, angular r3.Vector) error

// EncoderHandler is called, in arrival order, for every encoder count message received.
type EncoderHandler func(ctx context.Context, steps1, steps2 int32) error

// job is a decoded message waiting for its handler.
type job func(ctx context.Context) error

type subscription struct {
	topic    string
	callback paho.MessageHandler
}

// A Bridge publishes base output to, and receives base input from, an MQTT broker.
type Bridge struct {
	cfg    Config
	client paho.Client
	logger golog.Logger

	mu            sync.Mutex
	subscriptions map[string]subscription

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBridge returns an unconnected bridge for the given broker config.
func NewBridge(cfg Config, logger golog.Logger) (*Bridge, error) {
	if err := cfg.Validate("mqtt"); err != nil {
		return nil, err
	}
	b := newBridge(cfg, logger)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warnw("lost connection to mqtt broker", "broker", cfg.Broker, "error", err)
	})
	b.client = paho.NewClient(opts)
	return b, nil
}

func newBridge(cfg Config, logger golog.Logger) *Bridge {
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:           cfg,
		logger:        logger,
		subscriptions: map[string]subscription{},
		cancelCtx:     cancelCtx,
		cancel:        cancel,
	}
}

// Connect connects to the broker, giving up when ctx is done.
func (b *Bridge) Connect(ctx context.Context) error {
	if err := b.wait(ctx, b.client.Connect()); err != nil {
		return errors.Wrapf(err, "failed to connect to mqtt broker %q", b.cfg.Broker)
	}
	b.logger.Infow("connected to mqtt broker", "broker", b.cfg.Broker, "client_id", b.cfg.ClientID)
	return nil
}

// Subscribe delivers velocity commands from cmd_vel to handler until ctx is done or
// the bridge is closed.
func (b *Bridge) Subscribe(ctx context.Context, handler CommandHandler) error {
	return b.subscribe(ctx, TopicCommand, func(payload []byte) (job, error) {
		var cmd twistMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return handler(ctx, cmd.Linear.vector(), cmd.Angular.vector())
		}, nil
	})
}

// SubscribeEncoders delivers cumulative encoder counts from motor_enc to handler until
// ctx is done or the bridge is closed.
func (b *Bridge) SubscribeEncoders(ctx context.Context, handler EncoderHandler) error {
	return b.subscribe(ctx, TopicEncoders, func(payload []byte) (job, error) {
		var enc encoderMessage
		if err := json.Unmarshal(payload, &enc); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return handler(ctx, enc.Motor1, enc.Motor2)
		}, nil
	})
}

// subscribe decodes messages on the client's goroutine, which must not block, and
// runs the resulting jobs in order on a worker of their own.
func (b *Bridge) subscribe(ctx context.Context, name string, decode func(payload []byte) (job, error)) error {
	topic := b.cfg.Topic(name)
	jobs := make(chan job, queueSize)
	callback := func(_ paho.Client, msg paho.Message) {
		j, err := decode(msg.Payload())
		if err != nil {
			b.logger.Warnw("dropping malformed message", "topic", msg.Topic(), "error", err)
			return
		}
		select {
		case jobs <- j:
		default:
			b.logger.Warnw("message queue full, dropping message", "topic", msg.Topic())
		}
	}

	b.mu.Lock()
	if _, ok := b.subscriptions[topic]; ok {
		b.mu.Unlock()
		return errors.Errorf("already subscribed to %q", topic)
	}
	b.subscriptions[topic] = subscription{topic: topic, callback: callback}
	b.mu.Unlock()

	if err := b.wait(ctx, b.client.Subscribe(topic, byte(b.cfg.QoS), callback)); err != nil {
		b.mu.Lock()
		delete(b.subscriptions, topic)
		b.mu.Unlock()
		return errors.Wrapf(err, "failed to subscribe to %q", topic)
	}

	b.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				b.unsubscribe(topic)
				return
			case <-b.cancelCtx.Done():
				return
			case j := <-jobs:
				if err := j(ctx); err != nil {
					b.logger.Warnw("failed to handle message", "topic", topic, "error", err)
				}
			}
		}
	}, b.activeBackgroundWorkers.Done)
	return nil
}

// unsubscribe forgets a subscription whose worker has stopped so the broker stops delivering to it.
func (b *Bridge) unsubscribe(topic string) {
	b.mu.Lock()
	delete(b.subscriptions, topic)
	b.mu.Unlock()
	if !b.client.IsConnected() {
		return
	}
	if err := b.wait(context.Background(), b.client.Unsubscribe(topic)); err != nil {
		b.logger.Debugw("failed to unsubscribe", "topic", topic, "error", err)
	}
}

// onConnect restores subscriptions after an automatic reconnect.
func (b *Bridge) onConnect(client paho.Client) {
	b.mu.Lock()
	subs := lo.Values(b.subscriptions)
	b.mu.Unlock()

	for _, sub := range subs {
		b.logger.Infow("resubscribing after reconnect", "topic", sub.topic)
		client.Subscribe(sub.topic, byte(b.cfg.QoS), sub.callback)
	}
}

// PublishWheelCommand publishes the wheel setpoints on motor_cmd_vel.
func (b *Bridge) PublishWheelCommand(ctx context.Context, cmd diffdrive.WheelCommand) error {
	return b.publish(ctx, TopicWheelCommand, wheelCommandMessage{
		Motor1:       cmd.Motor1,
		Motor2:       cmd.Motor2,
		Acceleration: cmd.Acceleration,
	})
}

// PublishFilteredCommand publishes the realized command on cmd_vel_filtered.
func (b *Bridge) PublishFilteredCommand(ctx context.Context, twist diffdrive.Twist) error {
	return b.publish(ctx, TopicFilteredCommand, fromTwist(twist))
}

// PublishOdometry publishes the sample on odom.
func (b *Bridge) PublishOdometry(ctx context.Context, sample diffdrive.OdometrySample) error {
	return b.publish(ctx, TopicOdometry, fromOdometry(sample))
}

// PublishTransform publishes the transform on tf.
func (b *Bridge) PublishTransform(ctx context.Context, tf diffdrive.Transform) error {
	return b.publish(ctx, TopicTransform, fromTransform(tf))
}

func (b *Bridge) publish(ctx context.Context, name string, msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s message", name)
	}
	topic := b.cfg.Topic(name)
	if err := b.wait(ctx, b.client.Publish(topic, byte(b.cfg.QoS), false, payload)); err != nil {
		return errors.Wrapf(err, "failed to publish to %q", topic)
	}
	return nil
}

// wait blocks until the token completes, ctx is done, or the publish timeout passes.
func (b *Bridge) wait(ctx context.Context, token paho.Token) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.publishTimeout())
	defer cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// Close stops message delivery and disconnects from the broker.
func (b *Bridge) Close() error {
	b.cancel()
	b.activeBackgroundWorkers.Wait()

	b.mu.Lock()
	topics := lo.Keys(b.subscriptions)
	b.mu.Unlock()
	if len(topics) > 0 && b.client.IsConnected() {
		if err := b.wait(context.Background(), b.client.Unsubscribe(topics...)); err != nil {
			b.logger.Debugw("failed to unsubscribe", "error", err)
		}
	}
	b.client.Disconnect(disconnectQuiesceMs)
	return nil
}
