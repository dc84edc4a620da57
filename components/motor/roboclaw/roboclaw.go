// Package roboclaw drives a roboclaw dual channel motor controller in packet serial mode.
package roboclaw

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/serial"
)

type command byte

// https://downloads.basicmicro.com/docs/roboclaw_user_manual.pdf
const (
	cmdResetEncoders  command = 20
	cmdSpeedAccelM1M2 command = 40
	cmdReadEncoders   command = 78

	ack = 0xFF
)

func (c command) String() string {
	switch c {
	case cmdResetEncoders:
		return "reset encoders"
	case cmdSpeedAccelM1M2:
		return "speed accel M1M2"
	case cmdReadEncoders:
		return "read encoders"
	default:
		return "unknown"
	}
}

var errClosed = errors.New("roboclaw connection is closed")

var (
	_ = diffdrive.MotorController(&Roboclaw{})
	_ = diffdrive.EncoderReader(&Roboclaw{})
)

// Roboclaw is a connection to one controller address on a serial link.
type Roboclaw struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	cfg    Config
	addr   byte
	closed bool
	logger golog.Logger
}

// Open validates the config and opens the serial device it names.
func Open(cfg Config, logger golog.Logger) (*Roboclaw, error) {
	if err := cfg.Validate("roboclaw"); err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.SerialPath, serial.Options{
		BaudRate:    cfg.SerialBaudRate,
		ReadTimeout: cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("opened roboclaw", "path", cfg.SerialPath, "baud", cfg.SerialBaudRate, "address", cfg.Address)
	return newRoboclaw(port, cfg, logger), nil
}

// NewFromPort talks to a controller over an already open link. serial_path is not required.
func NewFromPort(port io.ReadWriteCloser, cfg Config, logger golog.Logger) (*Roboclaw, error) {
	if err := cfg.validateLink("roboclaw"); err != nil {
		return nil, err
	}
	return newRoboclaw(port, cfg, logger), nil
}

func newRoboclaw(port io.ReadWriteCloser, cfg Config, logger golog.Logger) *Roboclaw {
	return &Roboclaw{port: port, cfg: cfg, addr: byte(cfg.Address), logger: logger}
}

// SetWheelVelocities drives both motors at the commanded speeds, in encoder steps/s,
// ramping with the commanded acceleration.
func (r *Roboclaw) SetWheelVelocities(ctx context.Context, cmd diffdrive.WheelCommand) error {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:], cmd.Acceleration)
	binary.BigEndian.PutUint32(payload[4:], uint32(cmd.Motor1))
	binary.BigEndian.PutUint32(payload[8:], uint32(cmd.Motor2))
	return r.do(ctx, cmdSpeedAccelM1M2, func() error {
		return r.writeCommand(cmdSpeedAccelM1M2, payload)
	})
}

// ReadEncoders returns the cumulative quadrature counts of motor 1 and motor 2.
func (r *Roboclaw) ReadEncoders(ctx context.Context) (int32, int32, error) {
	var data []byte
	err := r.do(ctx, cmdReadEncoders, func() error {
		var err error
		data, err = r.readCommand(cmdReadEncoders, 8)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return int32(binary.BigEndian.Uint32(data[0:])), int32(binary.BigEndian.Uint32(data[4:])), nil
}

// ResetEncoders zeroes both encoder counters.
func (r *Roboclaw) ResetEncoders(ctx context.Context) error {
	return r.do(ctx, cmdResetEncoders, func() error {
		return r.writeCommand(cmdResetEncoders, nil)
	})
}

// Close closes the serial link. Later calls fail.
func (r *Roboclaw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.port.Close()
}

// do runs one transaction under the link lock, retrying it up to the configured number of times.
func (r *Roboclaw) do(ctx context.Context, cmd command, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}

	var err error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return multierr.Combine(ctxErr, err)
		}
		if attempt > 0 {
			r.logger.Debugw("retrying roboclaw command", "command", cmd.String(), "attempt", attempt, "error", err)
			if rErr := serial.ResetInput(r.port); rErr != nil {
				r.logger.Warnw("failed to flush serial input", "error", rErr)
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "roboclaw %s failed after %d attempts", cmd, r.cfg.Retries+1)
}

// writeCommand sends address, command, payload and CRC, then waits for the ack byte.
// Must be run inside a lock.
func (r *Roboclaw) writeCommand(cmd command, payload []byte) error {
	packet := make([]byte, 0, len(payload)+4)
	packet = append(packet, r.addr, byte(cmd))
	packet = append(packet, payload...)
	packet = binary.BigEndian.AppendUint16(packet, crc16(packet))
	if _, err := r.port.Write(packet); err != nil {
		return errors.Wrap(err, "write failed")
	}

	reply := make([]byte, 1)
	if err := r.readFull(reply); err != nil {
		return err
	}
	if reply[0] != ack {
		return errors.Errorf("expected ack 0x%02x, got 0x%02x", ack, reply[0])
	}
	return nil
}

// readCommand sends address and command and reads n data bytes followed by a CRC
// computed over the request and the data. Must be run inside a lock.
func (r *Roboclaw) readCommand(cmd command, n int) ([]byte, error) {
	request := []byte{r.addr, byte(cmd)}
	if _, err := r.port.Write(request); err != nil {
		return nil, errors.Wrap(err, "write failed")
	}

	reply := make([]byte, n+2)
	if err := r.readFull(reply); err != nil {
		return nil, err
	}
	data := reply[:n]
	want := crc16(request, data)
	if got := binary.BigEndian.Uint16(reply[n:]); got != want {
		return nil, errors.Errorf("crc mismatch: expected 0x%04x, got 0x%04x", want, got)
	}
	return data, nil
}

// readFull reads len(buf) bytes. A port with a read timeout reports an idle line
// as a zero length read, so the overall deadline is tracked here.
func (r *Roboclaw) readFull(buf []byte) error {
	deadline := time.Now().Add(r.cfg.Timeout())
	n := 0
	for n < len(buf) {
		m, err := r.port.Read(buf[n:])
		n += m
		if err != nil {
			return errors.Wrapf(err, "read failed after %d of %d bytes", n, len(buf))
		}
		if m == 0 && !time.Now().Before(deadline) {
			return errors.Errorf("timed out waiting for reply, got %d of %d bytes", n, len(buf))
		}
	}
	return nil
}
