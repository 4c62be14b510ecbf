package marker

import "errors"

// DefaultDictionary is the classic ArUco marker set.
const DefaultDictionary = "original"

// Sentinel errors for detection preconditions.
var (
	// ErrNoIntrinsics is returned when detection runs before calibration.
	ErrNoIntrinsics = errors.New("marker: camera intrinsics not available")

	// ErrNoFrame is returned when detection runs before the first capture.
	ErrNoFrame = errors.New("marker: no frame captured yet")

	// ErrInvalidSize is returned for a non-positive marker edge length.
	ErrInvalidSize = errors.New("marker: size must be a positive number of meters")

	// ErrPose is returned when the pose solve fails for a detected marker.
	ErrPose = errors.New("marker: pose estimation failed")

	// ErrUnknownDictionary is returned for an unrecognized dictionary name.
	ErrUnknownDictionary = errors.New("marker: unknown dictionary")
)
