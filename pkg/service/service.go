// Package service is the camera host's operation surface. A Service owns
// the frame cache, the stream registry, the intrinsics store and the marker
// detector, and is handed to the transport layer at startup.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
	"github.com/teslashibe/go-camhost/pkg/source"
	"github.com/teslashibe/go-camhost/pkg/stream"
)

// FrameStep is the bytes per pixel group of captured frames (BGRA).
const FrameStep = 4

// DetectionPublisher receives every successful detection.
type DetectionPublisher interface {
	PublishDetection(det marker.Detection)
}

// Options configures a Service.
type Options struct {
	Camera     string  // camera name, for status and logs
	MarkerSize float64 // meters; 0 uses marker.DefaultSize
	AutoOpen   bool    // open the camera before detecting if closed
	Logger     *slog.Logger
}

// Service wires the camera host components together.
type Service struct {
	name     string
	autoOpen bool
	logger   *slog.Logger
	started  time.Time

	cache    *frame.Cache
	intr     *intrinsics.Store
	registry *stream.Registry
	size     *marker.Size
	detector *marker.Detector
	camera   *camera.Manager

	acker     source.CalibrationAcker
	publisher DetectionPublisher
}

// New creates a service driving ctrl. If ctrl also implements
// source.CalibrationAcker it is told when calibration has been captured.
func New(ctrl camera.Controller, finder marker.Finder, solver marker.PoseSolver, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		name:     opts.Camera,
		autoOpen: opts.AutoOpen,
		logger:   logger.With("camera", opts.Camera),
		started:  time.Now(),
		intr:     intrinsics.NewStore(),
		size:     marker.NewSize(opts.MarkerSize),
	}

	s.registry = stream.NewRegistry(s.logger)
	s.cache = frame.NewCache(func(f *frame.Frame) {
		s.registry.Broadcast(f)
	})
	s.detector = marker.NewDetector(s.cache, s.intr, s.size, finder, solver, s.logger)
	s.camera = camera.NewManager(ctrl, s.logger)
	s.camera.OnOpenChange = s.onOpenChange
	s.setExpectedHeader()

	if acker, ok := ctrl.(source.CalibrationAcker); ok {
		s.acker = acker
	}
	return s
}

// SetPublisher sets where successful detections are sent.
func (s *Service) SetPublisher(p DetectionPublisher) {
	s.publisher = p
}

// Name returns the camera name.
func (s *Service) Name() string {
	return s.name
}

// Registry returns the stream registry.
func (s *Service) Registry() *stream.Registry {
	return s.registry
}

// Camera returns the camera manager.
func (s *Service) Camera() *camera.Manager {
	return s.camera
}

func (s *Service) onOpenChange(open bool) {
	if open {
		return
	}
	// A new session may run at another resolution: drop the stale frame and
	// the automatic calibration.
	s.cache.Clear()
	s.intr.Reset()
}

// =============================================================================
// source.Sink
// =============================================================================

// HandleFrame publishes a captured frame to the cache and all subscribers.
func (s *Service) HandleFrame(f *frame.Frame) {
	s.cache.Set(f)
}

// HandleCameraInfo stores the first calibration of a session and
// acknowledges it to the source.
func (s *Service) HandleCameraInfo(info intrinsics.CameraInfo) {
	if !s.intr.SetFromCalibration(info) {
		s.logger.Debug("calibration ignored, intrinsics already set", "source", s.intr.Source())
		return
	}

	in, _ := s.intr.Get()
	s.logger.Info("intrinsics captured from calibration",
		"fx", in.Fx(), "fy", in.Fy(), "cx", in.Cx(), "cy", in.Cy())

	if s.acker != nil {
		if err := s.acker.AckCalibration(); err != nil {
			s.logger.Warn("calibration ack failed", "error", err)
		}
	}
}

// HandleStatus records the open state the camera reports.
func (s *Service) HandleStatus(open bool) {
	s.camera.Observe(open)
}

// =============================================================================
// Camera control
// =============================================================================

// CameraOpen reports whether the camera is open.
func (s *Service) CameraOpen() bool {
	return s.camera.IsOpen()
}

// OpenCamera opens the camera; fails with camera.ErrCameraBusy.
func (s *Service) OpenCamera(ctx context.Context) error {
	return s.camera.Open(ctx)
}

// CloseCamera closes the camera.
func (s *Service) CloseCamera(ctx context.Context) error {
	return s.camera.Close(ctx)
}

// SetExposure sets exposure (0-100 or camera.Auto).
func (s *Service) SetExposure(ctx context.Context, v int) error {
	return s.camera.SetExposure(ctx, v)
}

// SetGain sets gain (0-79 or camera.Auto).
func (s *Service) SetGain(ctx context.Context, v int) error {
	return s.camera.SetGain(ctx, v)
}

// SetWhiteBalance sets the red, green and blue gains (0-4095 or camera.Auto).
func (s *Service) SetWhiteBalance(ctx context.Context, r, g, b int) error {
	return s.camera.SetWhiteBalance(ctx, r, g, b)
}

// SetFPS sets the frame rate (0 < fps <= 30).
func (s *Service) SetFPS(ctx context.Context, fps float64) error {
	return s.camera.SetFPS(ctx, fps)
}

// SetResolution selects a sensor mode, optionally at half resolution.
func (s *Service) SetResolution(ctx context.Context, mode int, halfRes bool) error {
	if err := s.camera.SetResolution(ctx, mode, halfRes); err != nil {
		return err
	}
	s.setExpectedHeader()
	return nil
}

// setExpectedHeader publishes the geometry frames will have at the current
// resolution, so the header is known before the first capture.
func (s *Service) setExpectedHeader() {
	res := s.camera.Settings().Resolution()
	s.cache.SetHeader(frame.Header{Width: res.Width, Height: res.Height, Step: FrameStep})
}

// =============================================================================
// Calibration and markers
// =============================================================================

// SetCameraIntrinsics overrides calibration. Later calibration messages
// are ignored.
func (s *Service) SetCameraIntrinsics(in intrinsics.Intrinsics) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.intr.SetManual(in)
	s.logger.Info("intrinsics set manually", "fx", in.Fx(), "fy", in.Fy())
	return nil
}

// CameraIntrinsics returns the current calibration or marker.ErrNoIntrinsics.
func (s *Service) CameraIntrinsics() (intrinsics.Intrinsics, error) {
	in, ok := s.intr.Get()
	if !ok {
		return intrinsics.Intrinsics{}, marker.ErrNoIntrinsics
	}
	return in, nil
}

// IntrinsicsSource reports where the current calibration came from.
func (s *Service) IntrinsicsSource() intrinsics.Source {
	return s.intr.Source()
}

// SetMarkerSize sets the marker edge length in meters.
func (s *Service) SetMarkerSize(size float64) error {
	return s.size.Set(size)
}

// MarkerSize returns the marker edge length in meters.
func (s *Service) MarkerSize() float64 {
	return s.size.Get()
}

// DetectMarkers finds markers in the latest frame. With auto-open enabled
// a closed camera is opened first.
func (s *Service) DetectMarkers(ctx context.Context) (marker.Detection, error) {
	if err := ctx.Err(); err != nil {
		return marker.Detection{}, err
	}
	if s.autoOpen && !s.camera.IsOpen() {
		if err := s.camera.Open(ctx); err != nil {
			return marker.Detection{}, err
		}
	}

	det, err := s.detector.Detect()
	if err != nil {
		s.logger.Debug("detection failed", "error", err)
		return marker.Detection{}, err
	}

	if s.publisher != nil {
		s.publisher.PublishDetection(det)
	}
	return det, nil
}

// =============================================================================
// Images and streams
// =============================================================================

// CurrentImage returns the latest frame or marker.ErrNoFrame.
func (s *Service) CurrentImage() (*frame.Frame, error) {
	f, ok := s.cache.Get()
	if !ok {
		return nil, marker.ErrNoFrame
	}
	return f, nil
}

// ImageHeader returns the geometry of the latest frame.
func (s *Service) ImageHeader() frame.Header {
	return s.cache.Header()
}

// ConnectStream registers a subscriber endpoint.
func (s *Service) ConnectStream(key stream.Key, ep stream.Endpoint) {
	s.registry.Connect(key, ep)
}

// DisconnectStream removes a subscriber endpoint. Unknown keys are ignored.
func (s *Service) DisconnectStream(key stream.Key) {
	s.registry.Disconnect(key)
}

// DisconnectConnection removes every stream a client connection opened.
func (s *Service) DisconnectConnection(connectionID string) {
	s.registry.DisconnectConnection(connectionID)
}

// Shutdown closes every stream and the camera.
func (s *Service) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()
	return s.camera.Close(ctx)
}
