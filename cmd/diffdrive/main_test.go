package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/components/motor/fake"
	"go.viam.com/diffdrive/components/motor/roboclaw"
	"go.viam.com/diffdrive/config"
	"go.viam.com/diffdrive/data/trail"
	"go.viam.com/diffdrive/logging"
	"go.viam.com/diffdrive/serial"
)

// controllerPort plays a roboclaw at address 128 whose wheels turn 10 steps per read.
type controllerPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	steps   int32
	reads   int
	drives  [][]byte
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func (p *controllerPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch b[1] {
	case 78:
		p.reads++
		p.steps += 10
		reply := make([]byte, 8)
		binary.BigEndian.PutUint32(reply[0:], uint32(p.steps))
		binary.BigEndian.PutUint32(reply[4:], uint32(p.steps))
		p.pending.Write(binary.BigEndian.AppendUint16(reply, crc16(append([]byte{b[0], b[1]}, reply...))))
	case 40:
		p.drives = append(p.drives, append([]byte(nil), b...))
		p.pending.WriteByte(0xFF)
	default:
		p.pending.WriteByte(0xFF)
	}
	return len(b), nil
}

func (p *controllerPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

func (p *controllerPort) Close() error { return nil }

func (p *controllerPort) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func TestRunNode(t *testing.T) {
	port := &controllerPort{}
	prevOpen := serial.Open
	serial.Open = func(devicePath string, options serial.Options) (io.ReadWriteCloser, error) {
		return port, nil
	}
	defer func() {
		serial.Open = prevOpen
	}()

	base := diffdrive.DefaultConfig()
	base.BaseWidth = 0.5
	base.StepsPerMeter = 1000
	rc := roboclaw.DefaultConfig()
	rc.SerialPath = "/dev/ttyFAKE"
	rc.PollIntervalMs = 5
	cfg := &config.Config{
		Base:     base,
		Roboclaw: &rc,
		Trail:    trail.Config{Path: filepath.Join(t.TempDir(), "trail.db")},
		Log:      logging.DefaultConfig(),
	}
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runNode(ctx, cfg, golog.NewTestLogger(t))
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, port.readCount(), test.ShouldBeGreaterThanOrEqualTo, 4)
	})
	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not shut down")
	}

	// closing the base stops the motors
	port.mu.Lock()
	drives := port.drives
	port.mu.Unlock()
	test.That(t, drives, test.ShouldNotBeEmpty)
	last := drives[len(drives)-1]
	test.That(t, last[6:14], test.ShouldResemble, make([]byte, 8))

	recorder, err := trail.Open(context.Background(), cfg.Trail.Path)
	test.That(t, err, test.ShouldBeNil)
	defer recorder.Close()
	records, err := recorder.Samples(context.Background(), time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, records[len(records)-1].Pose.X, test.ShouldBeGreaterThan, 0.0)
	test.That(t, records[0].FrameID, test.ShouldEqual, "/odom")
}

func TestRunNodeSimulated(t *testing.T) {
	base := diffdrive.DefaultConfig()
	base.BaseWidth = 0.5
	base.StepsPerMeter = 1000
	sim := fake.DefaultConfig()
	sim.PollIntervalMs = 5
	cfg := &config.Config{
		Base:  base,
		Fake:  &sim,
		Trail: trail.Config{Path: filepath.Join(t.TempDir(), "trail.db")},
		Log:   logging.DefaultConfig(),
	}
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	test.That(t, runNode(ctx, cfg, golog.NewTestLogger(t)), test.ShouldBeNil)

	recorder, err := trail.Open(context.Background(), cfg.Trail.Path)
	test.That(t, err, test.ShouldBeNil)
	defer recorder.Close()
	records, err := recorder.Samples(context.Background(), time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldBeGreaterThanOrEqualTo, 1)
	// nothing commanded the wheels, so the base stays put
	test.That(t, records[len(records)-1].Pose, test.ShouldResemble, records[0].Pose)
	test.That(t, records[0].Pose.X, test.ShouldEqual, 0.0)
}
