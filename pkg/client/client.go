// Package client is a Go client for the camera host's HTTP and stream API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/teslashibe/go-camhost/internal/httpc"
	"github.com/teslashibe/go-camhost/pkg/api"
	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
	"github.com/teslashibe/go-camhost/pkg/protocol"
)

// Client talks to one camera host.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:8090) using the
// shared HTTP client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    httpc.Client,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return httpc.DoJSON(ctx, c.HTTP, method, c.BaseURL+path, in, out)
}

// Health reports the host's health payload.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status returns the host's status snapshot.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var st api.Status
	err := c.do(ctx, http.MethodGet, "/api/camera", nil, &st)
	return st, err
}

// Open opens the camera.
func (c *Client) Open(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/camera/open", nil, nil)
}

// Close closes the camera.
func (c *Client) Close(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/camera/close", nil, nil)
}

// SetExposure sets exposure (0-100 or camera.Auto).
func (c *Client) SetExposure(ctx context.Context, v int) error {
	return c.do(ctx, http.MethodPut, "/api/camera/exposure", map[string]int{"value": v}, nil)
}

// SetGain sets gain (0-79 or camera.Auto).
func (c *Client) SetGain(ctx context.Context, v int) error {
	return c.do(ctx, http.MethodPut, "/api/camera/gain", map[string]int{"value": v}, nil)
}

// SetWhiteBalance sets the red, green and blue gains.
func (c *Client) SetWhiteBalance(ctx context.Context, r, g, b int) error {
	body := map[string]int{"red": r, "green": g, "blue": b}
	return c.do(ctx, http.MethodPut, "/api/camera/white_balance", body, nil)
}

// SetFPS sets the frame rate.
func (c *Client) SetFPS(ctx context.Context, fps float64) error {
	return c.do(ctx, http.MethodPut, "/api/camera/fps", map[string]float64{"fps": fps}, nil)
}

// SetResolution selects a sensor mode and returns the resulting resolution.
func (c *Client) SetResolution(ctx context.Context, mode int, halfRes bool) (camera.Resolution, error) {
	var res camera.Resolution
	body := map[string]interface{}{"mode": mode, "half_res": halfRes}
	err := c.do(ctx, http.MethodPut, "/api/camera/resolution", body, &res)
	return res, err
}

// Intrinsics returns the current calibration.
func (c *Client) Intrinsics(ctx context.Context) (intrinsics.Intrinsics, error) {
	var in intrinsics.Intrinsics
	err := c.do(ctx, http.MethodGet, "/api/intrinsics", nil, &in)
	return in, err
}

// SetIntrinsics overrides the calibration.
func (c *Client) SetIntrinsics(ctx context.Context, in intrinsics.Intrinsics) error {
	return c.do(ctx, http.MethodPut, "/api/intrinsics", in, nil)
}

// MarkerSize returns the marker edge length in meters.
func (c *Client) MarkerSize(ctx context.Context) (float64, error) {
	var out struct {
		Size float64 `json:"size"`
	}
	err := c.do(ctx, http.MethodGet, "/api/marker/size", nil, &out)
	return out.Size, err
}

// SetMarkerSize sets the marker edge length in meters.
func (c *Client) SetMarkerSize(ctx context.Context, size float64) error {
	return c.do(ctx, http.MethodPut, "/api/marker/size", map[string]float64{"size": size}, nil)
}

// Detect runs marker detection on the newest frame.
func (c *Client) Detect(ctx context.Context) (marker.Detection, error) {
	var det marker.Detection
	err := c.do(ctx, http.MethodPost, "/api/marker/detect", nil, &det)
	return det, err
}

// Image fetches the newest frame.
func (c *Client) Image(ctx context.Context) (*frame.Frame, error) {
	var fd protocol.FrameData
	if err := c.do(ctx, http.MethodGet, "/api/image", nil, &fd); err != nil {
		return nil, err
	}
	f, err := fd.Frame()
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	f.Seq = fd.FrameID
	return f, nil
}

// ImageHeader returns the geometry of the newest frame.
func (c *Client) ImageHeader(ctx context.Context) (frame.Header, error) {
	var h frame.Header
	err := c.do(ctx, http.MethodGet, "/api/image/header", nil, &h)
	return h, err
}
