// Package server exposes the camera host over HTTP and websockets.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/service"
	"github.com/teslashibe/go-camhost/pkg/source"
)

// Options configures a Server.
type Options struct {
	Version string
	Debug   bool            // request logging
	Remote  *source.Remote  // nil when the camera is local
	Capture *source.Capture // nil when the camera is remote
	Logger  *slog.Logger
}

// Server is the camera host's Fiber app.
type Server struct {
	app     *fiber.App
	svc     *service.Service
	remote  *source.Remote
	capture *source.Capture
	version string
	started time.Time
	logger  *slog.Logger
}

// New creates the app and registers every route.
func New(svc *service.Service, opts Options) *Server {
	s := &Server{
		svc:     svc,
		remote:  opts.Remote,
		capture: opts.Capture,
		version: opts.Version,
		started: time.Now(),
		logger:  log.Or(opts.Logger, "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "camhost",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if opts.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/camera", s.handleStatus)
	api.Post("/camera/open", s.handleOpen)
	api.Post("/camera/close", s.handleClose)
	api.Put("/camera/exposure", s.handleExposure)
	api.Put("/camera/gain", s.handleGain)
	api.Put("/camera/white_balance", s.handleWhiteBalance)
	api.Put("/camera/fps", s.handleFPS)
	api.Put("/camera/resolution", s.handleResolution)
	api.Get("/camera/capabilities", s.handleCapabilities)
	api.Get("/intrinsics", s.handleGetIntrinsics)
	api.Put("/intrinsics", s.handleSetIntrinsics)
	api.Get("/marker/size", s.handleGetMarkerSize)
	api.Put("/marker/size", s.handleSetMarkerSize)
	api.Post("/marker/detect", s.handleDetect)
	api.Get("/image", s.handleImage)
	api.Get("/image/header", s.handleImageHeader)
	api.Get("/streams", s.handleStreams)
	api.Delete("/streams/:conn", s.handleDropConnection)
	if s.remote != nil {
		api.Get("/sources", s.handleSources)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream/:index", websocket.New(s.handleStream))
	if s.remote != nil {
		s.remote.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
