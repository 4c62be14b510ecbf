// Package source connects the host to the camera that produces frames:
// either a robot streaming over a websocket, or a local capture device.
package source

import (
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

// Sink receives everything a source produces. Calls may come from any
// goroutine.
type Sink interface {
	// HandleFrame is called once per captured frame.
	HandleFrame(f *frame.Frame)

	// HandleCameraInfo is called with each calibration message.
	HandleCameraInfo(info intrinsics.CameraInfo)

	// HandleStatus is called when the camera reports being opened or closed.
	HandleStatus(open bool)
}

// CalibrationAcker is implemented by sources that keep sending calibration
// until told it was captured.
type CalibrationAcker interface {
	AckCalibration() error
}
