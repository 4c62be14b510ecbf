package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
	"github.com/teslashibe/go-camhost/pkg/stream"
)

type fakeController struct {
	mu      sync.Mutex
	openErr error
	acks    int
}

func (c *fakeController) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openErr
}
func (c *fakeController) Close(ctx context.Context) error               { return nil }
func (c *fakeController) SetExposure(ctx context.Context, v int) error  { return nil }
func (c *fakeController) SetGain(ctx context.Context, v int) error      { return nil }
func (c *fakeController) SetFPS(ctx context.Context, fps float64) error { return nil }
func (c *fakeController) SetWhiteBalance(ctx context.Context, r, g, b int) error {
	return nil
}
func (c *fakeController) SetResolution(ctx context.Context, mode int, res camera.Resolution) error {
	return nil
}

func (c *fakeController) AckCalibration() error {
	c.mu.Lock()
	c.acks++
	c.mu.Unlock()
	return nil
}

type fakeFinder struct{ found []marker.Candidate }

func (f fakeFinder) Find(p frame.Planes) ([]marker.Candidate, error) { return f.found, nil }

type fakeSolver struct{}

func (fakeSolver) Solve(c [4]marker.Point, size float64, in intrinsics.Intrinsics) ([3]float64, [3]float64, error) {
	return [3]float64{}, [3]float64{0, 0, size}, nil
}

type chanEndpoint struct {
	frames chan *frame.Frame
}

func (e *chanEndpoint) Send(f *frame.Frame) error {
	e.frames <- f
	return nil
}
func (e *chanEndpoint) Close() error { return nil }

type recordingPublisher struct {
	mu   sync.Mutex
	dets []marker.Detection
}

func (p *recordingPublisher) PublishDetection(det marker.Detection) {
	p.mu.Lock()
	p.dets = append(p.dets, det)
	p.mu.Unlock()
}

var calibration = intrinsics.CameraInfo{
	K:   [9]float64{400, 0, 330, 0, 400, 210, 0, 0, 1},
	ROI: intrinsics.ROI{XOffset: 10, YOffset: 10},
}

func testFrame() *frame.Frame {
	return &frame.Frame{Width: 2, Height: 1, Step: 4, Data: []byte{10, 20, 30, 99, 40, 50, 60, 99}}
}

func newTestService(ctrl *fakeController, found []marker.Candidate) *Service {
	return New(ctrl, fakeFinder{found}, fakeSolver{}, Options{Camera: "left_hand_camera", AutoOpen: true})
}

func TestService_FrameFlow(t *testing.T) {
	s := newTestService(&fakeController{}, nil)

	if _, err := s.CurrentImage(); !errors.Is(err, marker.ErrNoFrame) {
		t.Errorf("CurrentImage before capture error = %v", err)
	}

	ep := &chanEndpoint{frames: make(chan *frame.Frame, 1)}
	key := stream.Key{ConnectionID: "c1", Index: 0}
	s.ConnectStream(key, ep)

	f := testFrame()
	s.HandleFrame(f)

	got, err := s.CurrentImage()
	if err != nil || got != f {
		t.Fatalf("CurrentImage = %v, %v", got, err)
	}
	if h := s.ImageHeader(); h != (frame.Header{Width: 2, Height: 1, Step: 4}) {
		t.Errorf("ImageHeader = %+v", h)
	}

	select {
	case sent := <-ep.frames:
		if sent != f {
			t.Error("subscriber received a different frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the frame")
	}

	s.DisconnectStream(key)
	s.DisconnectStream(key)
	if s.Registry().Len() != 0 {
		t.Error("stream should be disconnected")
	}
}

func TestService_CalibrationAckedOnce(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestService(ctrl, nil)

	s.HandleCameraInfo(calibration)
	s.HandleCameraInfo(calibration)

	if ctrl.acks != 1 {
		t.Errorf("acks = %d, want 1", ctrl.acks)
	}
	in, err := s.CameraIntrinsics()
	if err != nil {
		t.Fatal(err)
	}
	if in.Cx() != 320 || in.Cy() != 200 {
		t.Errorf("principal point = (%v, %v), want (320, 200)", in.Cx(), in.Cy())
	}
	if s.IntrinsicsSource() != intrinsics.SourceCalibration {
		t.Errorf("source = %v", s.IntrinsicsSource())
	}
}

func TestService_ManualIntrinsics(t *testing.T) {
	s := newTestService(&fakeController{}, nil)

	if _, err := s.CameraIntrinsics(); !errors.Is(err, marker.ErrNoIntrinsics) {
		t.Errorf("CameraIntrinsics error = %v", err)
	}

	bad := intrinsics.Intrinsics{}
	if err := s.SetCameraIntrinsics(bad); !errors.Is(err, intrinsics.ErrInvalidIntrinsics) {
		t.Errorf("SetCameraIntrinsics(zero) error = %v", err)
	}

	manual := intrinsics.Intrinsics{K: [9]float64{500, 0, 1, 0, 500, 2, 0, 0, 1}}
	if err := s.SetCameraIntrinsics(manual); err != nil {
		t.Fatal(err)
	}
	s.HandleCameraInfo(calibration)

	in, _ := s.CameraIntrinsics()
	if in.Fx() != 500 {
		t.Errorf("manual intrinsics overwritten: fx = %v", in.Fx())
	}
}

func TestService_DetectPreconditions(t *testing.T) {
	s := newTestService(&fakeController{}, nil)
	ctx := context.Background()

	s.HandleFrame(testFrame())
	if _, err := s.DetectMarkers(ctx); !errors.Is(err, marker.ErrNoIntrinsics) {
		t.Errorf("detect before intrinsics error = %v", err)
	}
	if !s.CameraOpen() {
		t.Error("detection should auto-open the camera")
	}

	s.HandleCameraInfo(calibration)
	det, err := s.DetectMarkers(ctx)
	if err != nil {
		t.Fatalf("DetectMarkers error: %v", err)
	}
	if !det.Empty() {
		t.Error("expected no markers")
	}
}

func TestService_DetectPublishes(t *testing.T) {
	s := newTestService(&fakeController{}, []marker.Candidate{{ID: 4}})
	pub := &recordingPublisher{}
	s.SetPublisher(pub)

	s.HandleCameraInfo(calibration)
	s.HandleFrame(testFrame())
	if err := s.SetMarkerSize(0.08); err != nil {
		t.Fatal(err)
	}

	det, err := s.DetectMarkers(context.Background())
	if err != nil {
		t.Fatalf("DetectMarkers error: %v", err)
	}
	if det.Len() != 1 || det.IDs[0] != 4 || det.Tvecs[0][2] != 0.08 {
		t.Errorf("detection = %+v", det)
	}
	if len(pub.dets) != 1 {
		t.Errorf("published %d detections, want 1", len(pub.dets))
	}
}

func TestService_AutoOpenBusy(t *testing.T) {
	ctrl := &fakeController{openErr: errors.New("exclusive access")}
	s := newTestService(ctrl, nil)

	_, err := s.DetectMarkers(context.Background())
	if !errors.Is(err, camera.ErrCameraBusy) {
		t.Errorf("DetectMarkers error = %v, want ErrCameraBusy", err)
	}
	if s.CameraOpen() {
		t.Error("camera should stay closed")
	}
}

func TestService_DetectCanceled(t *testing.T) {
	s := newTestService(&fakeController{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.DetectMarkers(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestService_CloseClearsSession(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestService(ctrl, nil)
	ctx := context.Background()

	if err := s.OpenCamera(ctx); err != nil {
		t.Fatal(err)
	}
	s.HandleFrame(testFrame())
	s.HandleCameraInfo(calibration)

	if err := s.CloseCamera(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CurrentImage(); !errors.Is(err, marker.ErrNoFrame) {
		t.Error("frame should be cleared on close")
	}
	if _, err := s.CameraIntrinsics(); !errors.Is(err, marker.ErrNoIntrinsics) {
		t.Error("automatic intrinsics should be cleared on close")
	}
	if s.ImageHeader().Width != 2 {
		t.Error("header should survive close")
	}

	// Next session calibrates and acks again.
	s.HandleCameraInfo(calibration)
	if ctrl.acks != 2 {
		t.Errorf("acks = %d, want 2", ctrl.acks)
	}
}

func TestService_SourceStatus(t *testing.T) {
	s := newTestService(&fakeController{}, nil)

	s.HandleStatus(true)
	if !s.CameraOpen() {
		t.Error("status should mark the camera open")
	}
	s.HandleFrame(testFrame())
	s.HandleStatus(false)
	if s.CameraOpen() {
		t.Error("status should mark the camera closed")
	}
	if _, err := s.CurrentImage(); err == nil {
		t.Error("frame should be cleared when the source reports closed")
	}
}

func TestService_Setters(t *testing.T) {
	s := newTestService(&fakeController{}, nil)
	ctx := context.Background()

	if err := s.SetExposure(ctx, 101); !errors.Is(err, camera.ErrInvalidParameter) {
		t.Errorf("SetExposure(101) error = %v", err)
	}
	if err := s.SetGain(ctx, camera.Auto); err != nil {
		t.Errorf("SetGain(auto) error = %v", err)
	}
	if err := s.SetWhiteBalance(ctx, 1, 2, 3); err != nil {
		t.Errorf("SetWhiteBalance error = %v", err)
	}
	if err := s.SetFPS(ctx, 12.5); err != nil {
		t.Errorf("SetFPS error = %v", err)
	}
	if err := s.SetResolution(ctx, 4, true); !errors.Is(err, camera.ErrInvalidParameter) {
		t.Errorf("SetResolution(4, half) error = %v", err)
	}
	if err := s.SetMarkerSize(-1); !errors.Is(err, marker.ErrInvalidSize) {
		t.Errorf("SetMarkerSize(-1) error = %v", err)
	}
	if s.MarkerSize() != marker.DefaultSize {
		t.Errorf("MarkerSize = %v", s.MarkerSize())
	}

	st := s.Status()
	if st.Camera != "left_hand_camera" || st.Settings.FPS != 12.5 || st.Settings.WhiteBalance != [3]int{1, 2, 3} {
		t.Errorf("status = %+v", st)
	}
}

func TestService_HeaderBeforeFirstFrame(t *testing.T) {
	s := newTestService(&fakeController{}, nil)

	def := camera.DefaultSettings().Resolution()
	if h := s.ImageHeader(); h != (frame.Header{Width: def.Width, Height: def.Height, Step: FrameStep}) {
		t.Errorf("initial header = %+v, want %v step 4", h, def)
	}

	if err := s.SetResolution(context.Background(), 2, true); err != nil {
		t.Fatal(err)
	}
	if h := s.ImageHeader(); h != (frame.Header{Width: 320, Height: 200, Step: 4}) {
		t.Errorf("header after SetResolution = %+v, want 320x200 step 4", h)
	}

	if err := s.SetResolution(context.Background(), 0, true); err == nil {
		t.Fatal("half resolution at mode 0 should fail")
	}
	if h := s.ImageHeader(); h.Width != 320 {
		t.Errorf("rejected resolution changed the header: %+v", h)
	}
}
