package marker

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

type fakeFrames struct{ f *frame.Frame }

func (s fakeFrames) Get() (*frame.Frame, bool) { return s.f, s.f != nil }

type fakeIntrinsics struct {
	in intrinsics.Intrinsics
	ok bool
}

func (s fakeIntrinsics) Get() (intrinsics.Intrinsics, bool) { return s.in, s.ok }

type fakeFinder struct {
	found   []Candidate
	err     error
	entered chan struct{}
	release chan struct{}
	planes  frame.Planes
}

func (f *fakeFinder) Find(p frame.Planes) ([]Candidate, error) {
	f.planes = p
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	return f.found, f.err
}

// scaleSolver reports the marker size as the z translation.
type scaleSolver struct {
	mu    sync.Mutex
	sizes []float64
}

func (s *scaleSolver) Solve(corners [4]Point, size float64, in intrinsics.Intrinsics) (rvec, tvec [3]float64, err error) {
	s.mu.Lock()
	s.sizes = append(s.sizes, size)
	s.mu.Unlock()
	return [3]float64{corners[0].X, 0, 0}, [3]float64{0, 0, size}, nil
}

var testK = intrinsics.Intrinsics{K: [9]float64{400, 0, 320, 0, 400, 200, 0, 0, 1}}

func bgraFrame() *frame.Frame {
	return &frame.Frame{Width: 2, Height: 1, Step: 4, Data: []byte{10, 20, 30, 99, 40, 50, 60, 99}, Seq: 7}
}

func TestDetect_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		frames  fakeFrames
		intr    fakeIntrinsics
		wantErr error
	}{
		{"no intrinsics", fakeFrames{bgraFrame()}, fakeIntrinsics{}, ErrNoIntrinsics},
		{"no intrinsics and no frame", fakeFrames{}, fakeIntrinsics{}, ErrNoIntrinsics},
		{"no frame", fakeFrames{}, fakeIntrinsics{testK, true}, ErrNoFrame},
		{
			"malformed frame",
			fakeFrames{&frame.Frame{Width: 2, Height: 1, Step: 4, Data: []byte{1, 2, 3}}},
			fakeIntrinsics{testK, true},
			frame.ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &fakeFinder{}
			d := NewDetector(tt.frames, tt.intr, nil, finder, &scaleSolver{}, nil)

			_, err := d.Detect()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Detect() error = %v, want %v", err, tt.wantErr)
			}
			if d.GetStats().Errors != 1 {
				t.Error("error should be counted")
			}
		})
	}
}

func TestDetect_NoMarkers(t *testing.T) {
	d := NewDetector(fakeFrames{bgraFrame()}, fakeIntrinsics{testK, true}, nil, &fakeFinder{}, &scaleSolver{}, nil)

	det, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if !det.Empty() {
		t.Errorf("expected empty detection, got %d markers", det.Len())
	}
	if det.IDs == nil || det.Rvecs == nil || det.Tvecs == nil {
		t.Error("empty detection should have empty, non-nil sequences")
	}
	if det.FrameSeq != 7 {
		t.Errorf("FrameSeq = %d, want 7", det.FrameSeq)
	}
}

func TestDetect_PassesPlanes(t *testing.T) {
	finder := &fakeFinder{}
	d := NewDetector(fakeFrames{bgraFrame()}, fakeIntrinsics{testK, true}, nil, finder, &scaleSolver{}, nil)

	if _, err := d.Detect(); err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	p := finder.planes
	if p.Width != 2 || p.Height != 1 {
		t.Fatalf("planes size = %dx%d", p.Width, p.Height)
	}
	if p.B[0] != 10 || p.G[1] != 50 || p.R[1] != 60 {
		t.Errorf("unexpected planes B=%v G=%v R=%v", p.B, p.G, p.R)
	}
}

func TestDetect_IndexAligned(t *testing.T) {
	finder := &fakeFinder{found: []Candidate{
		{ID: 3, Corners: [4]Point{{X: 1}}},
		{ID: 11, Corners: [4]Point{{X: 2}}},
		{ID: 5, Corners: [4]Point{{X: 3}}},
	}}
	size := NewSize(0.05)
	d := NewDetector(fakeFrames{bgraFrame()}, fakeIntrinsics{testK, true}, size, finder, &scaleSolver{}, nil)

	det, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if det.Len() != 3 || len(det.Rvecs) != 3 || len(det.Tvecs) != 3 || len(det.Corners) != 3 {
		t.Fatalf("sequences not aligned: %+v", det)
	}
	for i, want := range []int{3, 11, 5} {
		if det.IDs[i] != want {
			t.Errorf("IDs[%d] = %d, want %d", i, det.IDs[i], want)
		}
		if det.Rvecs[i][0] != float64(i+1) {
			t.Errorf("Rvecs[%d] belongs to another marker", i)
		}
	}

	_, tvec, ok := det.Find(11)
	if !ok || tvec[2] != 0.05 {
		t.Errorf("Find(11) = %v, %v", tvec, ok)
	}
	if _, _, ok := det.Find(99); ok {
		t.Error("Find should miss unknown ids")
	}
}

func TestDetect_FinderError(t *testing.T) {
	finder := &fakeFinder{err: errors.New("boom")}
	d := NewDetector(fakeFrames{bgraFrame()}, fakeIntrinsics{testK, true}, nil, finder, &scaleSolver{}, nil)

	if _, err := d.Detect(); err == nil {
		t.Error("expected finder error")
	}
}

func TestDetect_SizeReadAtStart(t *testing.T) {
	finder := &fakeFinder{
		found:   []Candidate{{ID: 1}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	size := NewSize(0.05)
	d := NewDetector(fakeFrames{bgraFrame()}, fakeIntrinsics{testK, true}, size, finder, &scaleSolver{}, nil)

	type result struct {
		det Detection
		err error
	}
	done := make(chan result, 1)
	go func() {
		det, err := d.Detect()
		done <- result{det, err}
	}()

	select {
	case <-finder.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detection never reached the finder")
	}
	if err := size.Set(0.10); err != nil {
		t.Fatal(err)
	}
	close(finder.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Detect error: %v", res.err)
	}
	if res.det.Size != 0.05 {
		t.Errorf("Size = %v, want 0.05", res.det.Size)
	}
	if res.det.Tvecs[0][2] != 0.05 {
		t.Errorf("pose scale = %v, want 0.05", res.det.Tvecs[0][2])
	}

	// The next call sees the new value.
	finder.entered = nil
	det, err := d.Detect()
	if err != nil {
		t.Fatal(err)
	}
	if det.Size != 0.10 {
		t.Errorf("Size = %v, want 0.10", det.Size)
	}
}

func TestSize(t *testing.T) {
	s := NewSize(0)
	if s.Get() != DefaultSize {
		t.Errorf("invalid initial size should fall back to default, got %v", s.Get())
	}

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := s.Set(bad); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Set(%v) error = %v, want ErrInvalidSize", bad, err)
		}
	}
	if s.Get() != DefaultSize {
		t.Error("rejected Set must keep the previous value")
	}

	if err := s.Set(0.12); err != nil || s.Get() != 0.12 {
		t.Errorf("Set(0.12) = %v, Get = %v", err, s.Get())
	}
}

func TestObjectPoints(t *testing.T) {
	pts := ObjectPoints(0.1)
	want := [4][3]float64{{-0.05, 0.05, 0}, {0.05, 0.05, 0}, {0.05, -0.05, 0}, {-0.05, -0.05, 0}}
	if pts != want {
		t.Errorf("ObjectPoints = %v, want %v", pts, want)
	}
}
