// Package marker finds fiducial markers in the latest camera frame and
// estimates their pose relative to the camera.
package marker

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

// FrameSource provides the frame to run detection on.
type FrameSource interface {
	Get() (*frame.Frame, bool)
}

// IntrinsicsSource provides the calibration for the pose solve.
type IntrinsicsSource interface {
	Get() (intrinsics.Intrinsics, bool)
}

// Finder locates markers in a color image given as B, G, R planes.
type Finder interface {
	Find(p frame.Planes) ([]Candidate, error)
}

// PoseSolver estimates the pose of one square marker of edge length size.
type PoseSolver interface {
	Solve(corners [4]Point, size float64, in intrinsics.Intrinsics) (rvec, tvec [3]float64, err error)
}

// Detector runs the detection pipeline:
//
//  1. check that intrinsics and a frame are available
//  2. split the interleaved buffer into B, G, R planes
//  3. find markers (the Finder converts to grayscale)
//  4. solve each marker's pose with the marker size read at step 1
//
// Only snapshots of the frame and intrinsics are taken; no lock is held
// while computing.
type Detector struct {
	frames FrameSource
	intr   IntrinsicsSource
	size   *Size
	finder Finder
	solver PoseSolver
	logger *slog.Logger

	// Stats
	runs    atomic.Uint64
	errors  atomic.Uint64
	markers atomic.Uint64
}

// NewDetector creates a detector. logger may be nil.
func NewDetector(frames FrameSource, intr IntrinsicsSource, size *Size, finder Finder, solver PoseSolver, logger *slog.Logger) *Detector {
	if size == nil {
		size = NewSize(DefaultSize)
	}
	return &Detector{
		frames: frames,
		intr:   intr,
		size:   size,
		finder: finder,
		solver: solver,
		logger: log.Or(logger, "marker"),
	}
}

// Size returns the marker size the detector reads at the start of each call.
func (d *Detector) Size() *Size {
	return d.size
}

// Detect runs one detection on the most recent frame. Finding no markers
// is not an error.
func (d *Detector) Detect() (Detection, error) {
	start := time.Now()
	d.runs.Add(1)

	det, err := d.detect()
	if err != nil {
		d.errors.Add(1)
		return Detection{}, err
	}
	det.Duration = time.Since(start)
	d.markers.Add(uint64(det.Len()))

	d.logger.Debug("detection complete",
		"markers", det.Len(), "frame_seq", det.FrameSeq, "size", det.Size, "duration", det.Duration)
	return det, nil
}

func (d *Detector) detect() (Detection, error) {
	size := d.size.Get()

	in, ok := d.intr.Get()
	if !ok {
		return Detection{}, ErrNoIntrinsics
	}
	f, ok := d.frames.Get()
	if !ok {
		return Detection{}, ErrNoFrame
	}

	planes, err := frame.SplitPlanes(f)
	if err != nil {
		return Detection{}, err
	}

	found, err := d.finder.Find(planes)
	if err != nil {
		return Detection{}, fmt.Errorf("find markers: %w", err)
	}

	det := newDetection(size, f.Seq, len(found))
	for _, c := range found {
		rvec, tvec, err := d.solver.Solve(c.Corners, size, in)
		if err != nil {
			return Detection{}, fmt.Errorf("marker %d: %w", c.ID, err)
		}
		det.IDs = append(det.IDs, c.ID)
		det.Rvecs = append(det.Rvecs, rvec)
		det.Tvecs = append(det.Tvecs, tvec)
		det.Corners = append(det.Corners, c.Corners)
	}
	return det, nil
}

// Stats contains detector statistics
type Stats struct {
	Runs    uint64  `json:"runs"`
	Errors  uint64  `json:"errors"`
	Markers uint64  `json:"markers"`
	Size    float64 `json:"marker_size"`
}

// GetStats returns detector statistics
func (d *Detector) GetStats() Stats {
	return Stats{
		Runs:    d.runs.Load(),
		Errors:  d.errors.Load(),
		Markers: d.markers.Load(),
		Size:    d.size.Get(),
	}
}
