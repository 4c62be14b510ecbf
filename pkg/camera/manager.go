package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-camhost/internal/log"
)

// Controller drives the physical camera. Values passed in are already
// validated; Auto (-1) means automatic control.
type Controller interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	SetExposure(ctx context.Context, v int) error
	SetGain(ctx context.Context, v int) error
	SetWhiteBalance(ctx context.Context, r, g, b int) error
	SetFPS(ctx context.Context, fps float64) error
	SetResolution(ctx context.Context, mode int, res Resolution) error
}

// Manager validates camera parameters and forwards them to a Controller.
// A rejected value leaves the previous one in place.
type Manager struct {
	ctrl   Controller
	logger *slog.Logger

	opMu sync.Mutex // Serializes Open and Close

	mu       sync.RWMutex
	open     bool
	settings Settings

	// Callback when the camera opens or closes
	OnOpenChange func(open bool)
}

// NewManager creates a manager with default settings.
func NewManager(ctrl Controller, logger *slog.Logger) *Manager {
	return &Manager{
		ctrl:     ctrl,
		logger:   log.Or(logger, "camera"),
		settings: DefaultSettings(),
	}
}

// IsOpen reports whether the camera is open.
func (m *Manager) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// Settings returns the last applied parameters.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Open opens the camera. Any failure is reported as ErrCameraBusy and the
// camera stays closed. Opening an open camera is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsOpen() {
		return nil
	}

	if err := m.ctrl.Open(ctx); err != nil {
		m.logger.Warn("camera open failed", "error", err)
		if errors.Is(err, ErrCameraBusy) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCameraBusy, err)
	}

	m.setOpen(true)
	m.logger.Info("camera opened")
	m.replay(ctx)
	return nil
}

// replay pushes the stored settings to a freshly opened camera. A failed
// setting is logged and the camera stays open.
func (m *Manager) replay(ctx context.Context) {
	s := m.Settings()
	steps := []struct {
		param string
		apply func() error
	}{
		{"resolution", func() error { return m.ctrl.SetResolution(ctx, s.Mode, s.Resolution()) }},
		{"fps", func() error { return m.ctrl.SetFPS(ctx, s.FPS) }},
		{"exposure", func() error { return m.ctrl.SetExposure(ctx, s.Exposure) }},
		{"gain", func() error { return m.ctrl.SetGain(ctx, s.Gain) }},
		{"white_balance", func() error {
			return m.ctrl.SetWhiteBalance(ctx, s.WhiteBalance[0], s.WhiteBalance[1], s.WhiteBalance[2])
		}},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			m.logger.Warn("setting not applied on open", "param", step.param, "error", err)
		}
	}
}

// forward applies a validated setting through the controller. While the
// camera is closed and its controller unreachable, the value is only
// stored and reaches the camera on the next Open.
func (m *Manager) forward(param string, apply func() error) error {
	err := apply()
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) && !m.IsOpen() {
		m.logger.Debug("camera not connected, setting deferred to open", "param", param)
		return nil
	}
	return fmt.Errorf("set %s: %w", param, err)
}

// Close closes the camera. Closing a closed camera is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.IsOpen() {
		return nil
	}
	if err := m.ctrl.Close(ctx); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	m.setOpen(false)
	m.logger.Info("camera closed")
	return nil
}

// Observe records an open state reported by the camera itself.
func (m *Manager) Observe(open bool) {
	if m.IsOpen() != open {
		m.setOpen(open)
	}
}

func (m *Manager) setOpen(open bool) {
	m.mu.Lock()
	changed := m.open != open
	m.open = open
	callback := m.OnOpenChange
	m.mu.Unlock()

	if changed && callback != nil {
		callback(open)
	}
}

// SetExposure sets exposure (0-100 or Auto).
func (m *Manager) SetExposure(ctx context.Context, v int) error {
	if err := ValidateExposure(v); err != nil {
		return err
	}
	if err := m.forward("exposure", func() error { return m.ctrl.SetExposure(ctx, v) }); err != nil {
		return err
	}
	m.update(func(s *Settings) { s.Exposure = v })
	return nil
}

// SetGain sets gain (0-79 or Auto).
func (m *Manager) SetGain(ctx context.Context, v int) error {
	if err := ValidateGain(v); err != nil {
		return err
	}
	if err := m.forward("gain", func() error { return m.ctrl.SetGain(ctx, v) }); err != nil {
		return err
	}
	m.update(func(s *Settings) { s.Gain = v })
	return nil
}

// SetWhiteBalance sets the red, green and blue gains (0-4095 or Auto each).
// All three are validated before any is applied.
func (m *Manager) SetWhiteBalance(ctx context.Context, r, g, b int) error {
	if err := ValidateWhiteBalance(r, g, b); err != nil {
		return err
	}
	if err := m.forward("white_balance", func() error { return m.ctrl.SetWhiteBalance(ctx, r, g, b) }); err != nil {
		return err
	}
	m.update(func(s *Settings) { s.WhiteBalance = [3]int{r, g, b} })
	return nil
}

// SetFPS sets the frame rate (0 < fps <= 30).
func (m *Manager) SetFPS(ctx context.Context, fps float64) error {
	if err := ValidateFPS(fps); err != nil {
		return err
	}
	if err := m.forward("fps", func() error { return m.ctrl.SetFPS(ctx, fps) }); err != nil {
		return err
	}
	m.update(func(s *Settings) { s.FPS = fps })
	return nil
}

// SetResolution selects a sensor mode. Half resolution is refused for
// modes 0, 1 and 4.
func (m *Manager) SetResolution(ctx context.Context, mode int, halfRes bool) error {
	res, err := ResolutionFor(mode, halfRes)
	if err != nil {
		return err
	}
	if err := m.forward("resolution", func() error { return m.ctrl.SetResolution(ctx, mode, res) }); err != nil {
		return err
	}
	m.update(func(s *Settings) {
		s.Mode = mode
		s.HalfRes = halfRes
	})
	m.logger.Info("resolution set", "mode", mode, "resolution", res.String())
	return nil
}

func (m *Manager) update(fn func(s *Settings)) {
	m.mu.Lock()
	fn(&m.settings)
	m.mu.Unlock()
}
