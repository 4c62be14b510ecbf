// Package api holds the JSON shapes the camera host serves that clients
// decode. It depends only on plain data packages, so a client can import it
// without pulling in OpenCV.
package api

import (
	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
	"github.com/teslashibe/go-camhost/pkg/stream"
)

// Status is a point-in-time snapshot of the service.
type Status struct {
	Camera           string            `json:"camera"`
	CameraOpen       bool              `json:"camera_open"`
	Settings         camera.Settings   `json:"settings"`
	Resolution       camera.Resolution `json:"resolution"`
	Header           frame.Header      `json:"header"`
	HasFrame         bool              `json:"has_frame"`
	FrameSeq         uint64            `json:"frame_seq"`
	IntrinsicsSource intrinsics.Source `json:"intrinsics_source"`
	MarkerSize       float64           `json:"marker_size"`
	Stream           stream.Stats      `json:"stream"`
	Detector         marker.Stats      `json:"detector"`
	Uptime           string            `json:"uptime"`
}
