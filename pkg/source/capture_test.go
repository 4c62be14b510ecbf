package source

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camhost/pkg/camera"
)

// fakeDevice blocks every Read until gate is closed.
type fakeDevice struct {
	gate chan struct{}

	mu     sync.Mutex
	props  map[gocv.VideoCaptureProperties]float64
	closed bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{gate: make(chan struct{}), props: make(map[gocv.VideoCaptureProperties]float64)}
}

func (d *fakeDevice) Read(m *gocv.Mat) bool {
	<-d.gate
	return false
}

func (d *fakeDevice) Set(prop gocv.VideoCaptureProperties, v float64) {
	d.mu.Lock()
	d.props[prop] = v
	d.mu.Unlock()
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func TestDeviceArg(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"0", 0},
		{"2", 2},
		{"/dev/video0", "/dev/video0"},
		{"rtsp://cam.local/stream", "rtsp://cam.local/stream"},
	}

	for _, tt := range tests {
		if got := deviceArg(tt.in); got != tt.want {
			t.Errorf("deviceArg(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCapture_OpenMissingDevice(t *testing.T) {
	c := NewCapture(CaptureConfig{Device: "/nonexistent/camera.avi"}, nil)

	err := c.Open(context.Background())
	if !errors.Is(err, camera.ErrCameraBusy) {
		t.Fatalf("Open error = %v, want ErrCameraBusy", err)
	}

	// Closing a capture that never opened is a no-op.
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("Close error: %v", err)
	}
}

func TestCapture_SettingsWhileClosed(t *testing.T) {
	c := NewCapture(CaptureConfig{Device: "0"}, nil)
	ctx := context.Background()

	if err := c.SetExposure(ctx, 30); err != nil {
		t.Fatal(err)
	}
	if err := c.SetResolution(ctx, 2, camera.Resolution{Width: 320, Height: 200}); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()
	if s.Exposure != 30 || s.Mode != 2 || !s.HalfRes {
		t.Errorf("settings = %+v", s)
	}
}

func TestCapture_CloseReleasesDeviceAfterDeadline(t *testing.T) {
	dev := newFakeDevice()
	c := NewCapture(CaptureConfig{Device: "0"}, nil)
	c.open = func(string) (device, error) { return dev, nil }

	if err := c.SetResolution(context.Background(), 2, camera.Modes[2]); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	dev.mu.Lock()
	width := dev.props[gocv.VideoCaptureFrameWidth]
	dev.mu.Unlock()
	if width != float64(camera.Modes[2].Width) {
		t.Errorf("width applied on open = %v", width)
	}

	// The loop is stuck in Read, so Close gives up on its context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Close(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Close error = %v, want context.Canceled", err)
	}
	if dev.isClosed() {
		t.Fatal("device released while a read was in flight")
	}

	close(dev.gate)
	eventually(t, dev.isClosed)

	// A second Close is a no-op.
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}
