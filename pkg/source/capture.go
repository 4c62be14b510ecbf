package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

// V4L2 auto exposure modes as exposed through CAP_PROP_AUTO_EXPOSURE.
const (
	v4l2ExposureManual = 1
	v4l2ExposureAuto   = 3
)

// device is the part of gocv.VideoCapture a Capture drives.
type device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, v float64)
	Close() error
}

func openDevice(name string) (device, error) {
	vc, err := gocv.OpenVideoCapture(deviceArg(name))
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device %s not available", name)
	}
	return vc, nil
}

// CaptureConfig configures a local capture device.
type CaptureConfig struct {
	Device      string                 // device index ("0") or path/URL
	Calibration *intrinsics.CameraInfo // delivered until acknowledged
}

// Capture reads frames from a local camera through OpenCV. Frames are
// converted to BGRA, so every frame has step 4.
type Capture struct {
	cfg    CaptureConfig
	logger *slog.Logger

	open func(name string) (device, error)

	mu     sync.Mutex // Protects vc, cancel, done and settings
	vc     device
	cancel context.CancelFunc
	done   chan struct{}
	sink   Sink

	capMu sync.Mutex // Serializes VideoCapture access between the read loop and setters

	settings camera.Settings
	acked    atomic.Bool

	framesCaptured atomic.Uint64
}

// NewCapture creates a capture source. logger may be nil.
func NewCapture(cfg CaptureConfig, logger *slog.Logger) *Capture {
	return &Capture{
		cfg:      cfg,
		open:     openDevice,
		logger:   log.Or(logger, "capture").With("device", cfg.Device),
		settings: camera.DefaultSettings(),
	}
}

// SetSink sets where frames, calibration and status go.
func (c *Capture) SetSink(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// deviceArg turns "0" into a device index and leaves anything else as a
// path or URL.
func deviceArg(name string) interface{} {
	if id, err := strconv.Atoi(name); err == nil {
		return id
	}
	return name
}

// Open opens the device and starts the read loop.
func (c *Capture) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		return nil
	}

	vc, err := c.open(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", camera.ErrCameraBusy, err)
	}

	c.vc = vc
	c.acked.Store(false)
	c.applyLocked()

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.readLoop(loopCtx, vc, c.sink, c.done)

	c.logger.Info("capture opened")
	return nil
}

// Close stops the read loop and waits for it to release the device. If ctx
// ends first Close returns its error and the loop still releases the device
// when its current read returns.
func (c *Capture) Close(ctx context.Context) error {
	c.mu.Lock()
	vc, cancel, done := c.vc, c.cancel, c.done
	c.vc, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if vc == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Capture) readLoop(ctx context.Context, vc device, sink Sink, done chan struct{}) {
	defer close(done)
	defer func() {
		c.capMu.Lock()
		err := vc.Close()
		c.capMu.Unlock()
		if err != nil {
			c.logger.Warn("release device", "error", err)
		}
		c.logger.Info("capture closed", "frames", c.framesCaptured.Load())
	}()

	img := gocv.NewMat()
	defer img.Close()
	bgra := gocv.NewMat()
	defer bgra.Close()

	for ctx.Err() == nil {
		c.capMu.Lock()
		ok := vc.Read(&img)
		c.capMu.Unlock()

		if !ok || img.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := gocv.CvtColor(img, &bgra, gocv.ColorBGRToBGRA); err != nil {
			c.logger.Warn("convert frame", "error", err)
			continue
		}
		f := &frame.Frame{
			Width:    bgra.Cols(),
			Height:   bgra.Rows(),
			Step:     4,
			Data:     bgra.ToBytes(),
			Captured: time.Now(),
		}
		c.framesCaptured.Add(1)

		if sink == nil {
			continue
		}
		sink.HandleFrame(f)
		if cal := c.cfg.Calibration; cal != nil && !c.acked.Load() {
			sink.HandleCameraInfo(*cal)
		}
	}
}

// AckCalibration stops calibration delivery for this session.
func (c *Capture) AckCalibration() error {
	c.acked.Store(true)
	return nil
}

// applyLocked pushes every stored setting to the device. c.mu must be held.
func (c *Capture) applyLocked() {
	s := c.settings
	c.setExposure(s.Exposure)
	c.setGain(s.Gain)
	c.setWhiteBalance(s.WhiteBalance)
	c.setFPS(s.FPS)
	c.setResolution(s.Resolution())
}

func (c *Capture) withDevice(fn func(vc device)) {
	if c.vc == nil {
		return
	}
	c.capMu.Lock()
	fn(c.vc)
	c.capMu.Unlock()
}

func (c *Capture) setExposure(v int) {
	c.withDevice(func(vc device) {
		if v == camera.Auto {
			vc.Set(gocv.VideoCaptureAutoExposure, v4l2ExposureAuto)
			return
		}
		vc.Set(gocv.VideoCaptureAutoExposure, v4l2ExposureManual)
		vc.Set(gocv.VideoCaptureExposure, float64(v))
	})
}

func (c *Capture) setGain(v int) {
	if v == camera.Auto {
		return
	}
	c.withDevice(func(vc device) {
		vc.Set(gocv.VideoCaptureGain, float64(v))
	})
}

func (c *Capture) setWhiteBalance(wb [3]int) {
	c.withDevice(func(vc device) {
		if wb[0] == camera.Auto || wb[2] == camera.Auto {
			vc.Set(gocv.VideoCaptureAutoWB, 1)
			return
		}
		// UVC exposes red and blue only; green is the reference channel.
		vc.Set(gocv.VideoCaptureAutoWB, 0)
		vc.Set(gocv.VideoCaptureWhiteBalanceRedV, float64(wb[0]))
		vc.Set(gocv.VideoCaptureWhiteBalanceBlueU, float64(wb[2]))
	})
}

func (c *Capture) setFPS(fps float64) {
	c.withDevice(func(vc device) {
		vc.Set(gocv.VideoCaptureFPS, fps)
	})
}

func (c *Capture) setResolution(res camera.Resolution) {
	c.withDevice(func(vc device) {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	})
}

// SetExposure implements camera.Controller.
func (c *Capture) SetExposure(ctx context.Context, v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Exposure = v
	c.setExposure(v)
	return nil
}

// SetGain implements camera.Controller.
func (c *Capture) SetGain(ctx context.Context, v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Gain = v
	c.setGain(v)
	return nil
}

// SetWhiteBalance implements camera.Controller.
func (c *Capture) SetWhiteBalance(ctx context.Context, r, g, b int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.WhiteBalance = [3]int{r, g, b}
	c.setWhiteBalance(c.settings.WhiteBalance)
	return nil
}

// SetFPS implements camera.Controller.
func (c *Capture) SetFPS(ctx context.Context, fps float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.FPS = fps
	c.setFPS(fps)
	return nil
}

// SetResolution implements camera.Controller.
func (c *Capture) SetResolution(ctx context.Context, mode int, res camera.Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Mode = mode
	if mode >= 0 && mode < len(camera.Modes) {
		c.settings.HalfRes = res != camera.Modes[mode]
	}
	c.setResolution(res)
	return nil
}

// FramesCaptured returns the number of frames read since start.
func (c *Capture) FramesCaptured() uint64 {
	return c.framesCaptured.Load()
}
