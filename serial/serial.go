// Package serial opens the serial links used to talk to motor controllers.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
)

// Options to be passed to Open(), closely mirrors go.bug.st/serial.Mode.
type Options struct {
	BaudRate    int
	DataBits    int
	StopBits    StopBits
	Parity      Parity
	ReadTimeout time.Duration
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
)

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (io.ReadWriteCloser, error) {
	if options.DataBits == 0 {
		options.DataBits = 8
	}
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}

	device, err := ser.Open(devicePath, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial device %q", devicePath)
	}
	if options.ReadTimeout > 0 {
		if err := device.SetReadTimeout(options.ReadTimeout); err != nil {
			return nil, multiCloseErr(device, err)
		}
	}
	return device, nil
}

// ResetInput discards any unread bytes on the port, if the port supports it.
func ResetInput(rwc io.ReadWriteCloser) error {
	p, ok := rwc.(interface{ ResetInputBuffer() error })
	if !ok {
		return nil
	}
	return p.ResetInputBuffer()
}

func multiCloseErr(c io.Closer, err error) error {
	if cErr := c.Close(); cErr != nil {
		return errors.Wrapf(err, "also failed to close: %v", cErr)
	}
	return err
}
