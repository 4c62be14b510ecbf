package server

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/protocol"
)

// ValueRequest sets a single integer parameter; -1 selects automatic control.
type ValueRequest struct {
	Value *int `json:"value"`
}

// WhiteBalanceRequest sets the three white balance gains.
type WhiteBalanceRequest struct {
	Red   *int `json:"red"`
	Green *int `json:"green"`
	Blue  *int `json:"blue"`
}

// FPSRequest sets the frame rate.
type FPSRequest struct {
	FPS *float64 `json:"fps"`
}

// ResolutionRequest selects a sensor mode.
type ResolutionRequest struct {
	Mode    *int `json:"mode"`
	HalfRes bool `json:"half_res"`
}

// MarkerSizeRequest sets the marker edge length in meters.
type MarkerSizeRequest struct {
	Size *float64 `json:"size"`
}

// OKResponse acknowledges a command.
type OKResponse struct {
	OK bool `json:"ok"`
}

func parseBody(c *fiber.Ctx, v interface{}) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %q", errBadRequest, field)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"version":     s.version,
		"camera":      s.svc.Name(),
		"camera_open": s.svc.CameraOpen(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

// =============================================================================
// Camera
// =============================================================================

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.svc.Status())
}

func (s *Server) handleCapabilities(c *fiber.Ctx) error {
	return c.JSON(camera.Capabilities())
}

func (s *Server) handleOpen(c *fiber.Ctx) error {
	if err := s.svc.OpenCamera(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	if err := s.svc.CloseCamera(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleExposure(c *fiber.Ctx) error {
	var req ValueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Value == nil {
		return missing("value")
	}
	if err := s.svc.SetExposure(c.UserContext(), *req.Value); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleGain(c *fiber.Ctx) error {
	var req ValueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Value == nil {
		return missing("value")
	}
	if err := s.svc.SetGain(c.UserContext(), *req.Value); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleWhiteBalance(c *fiber.Ctx) error {
	var req WhiteBalanceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Red == nil || req.Green == nil || req.Blue == nil {
		return missing("red, green, blue")
	}
	if err := s.svc.SetWhiteBalance(c.UserContext(), *req.Red, *req.Green, *req.Blue); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleFPS(c *fiber.Ctx) error {
	var req FPSRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.FPS == nil {
		return missing("fps")
	}
	if err := s.svc.SetFPS(c.UserContext(), *req.FPS); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleResolution(c *fiber.Ctx) error {
	var req ResolutionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Mode == nil {
		return missing("mode")
	}
	if err := s.svc.SetResolution(c.UserContext(), *req.Mode, req.HalfRes); err != nil {
		return err
	}
	return c.JSON(s.svc.Camera().Settings().Resolution())
}

// =============================================================================
// Calibration and markers
// =============================================================================

func (s *Server) handleGetIntrinsics(c *fiber.Ctx) error {
	in, err := s.svc.CameraIntrinsics()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"k":      in.K,
		"d":      in.D,
		"source": s.svc.IntrinsicsSource(),
	})
}

func (s *Server) handleSetIntrinsics(c *fiber.Ctx) error {
	var in intrinsics.Intrinsics
	if err := parseBody(c, &in); err != nil {
		return err
	}
	if err := s.svc.SetCameraIntrinsics(in); err != nil {
		return err
	}
	return c.JSON(OKResponse{OK: true})
}

func (s *Server) handleGetMarkerSize(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"size": s.svc.MarkerSize()})
}

func (s *Server) handleSetMarkerSize(c *fiber.Ctx) error {
	var req MarkerSizeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Size == nil {
		return missing("size")
	}
	if err := s.svc.SetMarkerSize(*req.Size); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"size": s.svc.MarkerSize()})
}

func (s *Server) handleDetect(c *fiber.Ctx) error {
	det, err := s.svc.DetectMarkers(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(det)
}

// =============================================================================
// Images and streams
// =============================================================================

// handleImage returns the newest frame as JSON with base64 pixels, or as a
// msgpack packet with ?format=msgpack.
func (s *Server) handleImage(c *fiber.Ctx) error {
	f, err := s.svc.CurrentImage()
	if err != nil {
		return err
	}

	if c.Query("format") == "msgpack" {
		b, err := protocol.EncodeFrame(f)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/msgpack")
		return c.Send(b)
	}

	return c.JSON(protocol.NewFrameData(f))
}

func (s *Server) handleImageHeader(c *fiber.Ctx) error {
	return c.JSON(s.svc.ImageHeader())
}

func (s *Server) handleStreams(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"streams": s.svc.Registry().Keys(),
		"stats":   s.svc.Registry().Stats(),
	})
}

// handleDropConnection closes every stream opened under one connection id.
func (s *Server) handleDropConnection(c *fiber.Ctx) error {
	s.svc.DisconnectConnection(c.Params("conn"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSources(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sources": s.remote.Sources(),
		"stats":   s.remote.GetStats(),
	})
}
