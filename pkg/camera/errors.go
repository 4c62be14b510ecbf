package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors for camera control.
var (
	// ErrCameraBusy is returned when the camera cannot be opened, e.g.
	// because another process holds it.
	ErrCameraBusy = errors.New("camera: resource busy")

	// ErrInvalidParameter is returned for setter arguments out of range.
	ErrInvalidParameter = errors.New("camera: invalid parameter")

	// ErrNotConnected is returned when no camera controller is reachable.
	ErrNotConnected = errors.New("camera: not connected")
)

// ValidationError describes a rejected setter argument.
type ValidationError struct {
	Param string
	Value float64
	Min   float64
	Max   float64

	// Reason overrides the range message when set.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("camera: invalid %s %v: %s", e.Param, e.Value, e.Reason)
	}
	return fmt.Sprintf("camera: invalid %s %v: must be between %v and %v or auto (%d)",
		e.Param, e.Value, e.Min, e.Max, Auto)
}

// Unwrap returns ErrInvalidParameter.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameter
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
