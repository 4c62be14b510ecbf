package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
)

// errBadRequest wraps request bodies that cannot be decoded.
var errBadRequest = errors.New("server: bad request")

// statusFor maps an operation error to an HTTP status code.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, errBadRequest),
		errors.Is(err, camera.ErrInvalidParameter),
		errors.Is(err, marker.ErrInvalidSize),
		errors.Is(err, intrinsics.ErrInvalidIntrinsics):
		return fiber.StatusBadRequest
	case errors.Is(err, marker.ErrNoIntrinsics),
		errors.Is(err, marker.ErrNoFrame):
		return fiber.StatusConflict
	case errors.Is(err, frame.ErrMalformedFrame):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, camera.ErrCameraBusy),
		errors.Is(err, camera.ErrNotConnected):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// handleError is the app's error handler: every failure is {"error": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Warn("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
