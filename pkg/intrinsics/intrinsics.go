// Package intrinsics stores camera calibration: the 3x3 camera matrix and
// the lens distortion coefficients used by pose estimation.
package intrinsics

import (
	"errors"
	"fmt"
)

// ErrInvalidIntrinsics is returned for a camera matrix that cannot be used.
var ErrInvalidIntrinsics = errors.New("intrinsics: invalid camera matrix")

// Intrinsics holds the camera matrix K (row-major) and distortion D.
type Intrinsics struct {
	K [9]float64 `json:"k" yaml:"k"`
	D []float64  `json:"d" yaml:"d"`
}

// ROI is the sensor window the camera was calibrated against.
type ROI struct {
	XOffset int `json:"x_offset" yaml:"x_offset"`
	YOffset int `json:"y_offset" yaml:"y_offset"`
	Width   int `json:"width" yaml:"width"`
	Height  int `json:"height" yaml:"height"`
}

// CameraInfo is one calibration message as delivered by the camera driver.
type CameraInfo struct {
	K   [9]float64 `json:"k"`
	D   []float64  `json:"d"`
	ROI ROI        `json:"roi"`
}

// FromCameraInfo shifts the principal point by the ROI offset.
func FromCameraInfo(info CameraInfo) Intrinsics {
	in := Intrinsics{K: info.K, D: append([]float64(nil), info.D...)}
	in.K[2] -= float64(info.ROI.XOffset)
	in.K[5] -= float64(info.ROI.YOffset)
	return in
}

// Fx returns the horizontal focal length in pixels.
func (in Intrinsics) Fx() float64 { return in.K[0] }

// Fy returns the vertical focal length in pixels.
func (in Intrinsics) Fy() float64 { return in.K[4] }

// Cx returns the principal point x coordinate.
func (in Intrinsics) Cx() float64 { return in.K[2] }

// Cy returns the principal point y coordinate.
func (in Intrinsics) Cy() float64 { return in.K[5] }

// Validate rejects matrices that would make the pose solve degenerate.
func (in Intrinsics) Validate() error {
	if in.K[0] <= 0 || in.K[4] <= 0 {
		return fmt.Errorf("%w: focal lengths must be positive (fx=%g fy=%g)", ErrInvalidIntrinsics, in.K[0], in.K[4])
	}
	if in.K[8] == 0 {
		return fmt.Errorf("%w: K[8] must be non-zero", ErrInvalidIntrinsics)
	}
	switch len(in.D) {
	case 0, 4, 5, 8, 12, 14:
	default:
		return fmt.Errorf("%w: %d distortion coefficients", ErrInvalidIntrinsics, len(in.D))
	}
	return nil
}

// Clone returns a deep copy.
func (in Intrinsics) Clone() Intrinsics {
	out := in
	out.D = append([]float64(nil), in.D...)
	return out
}
