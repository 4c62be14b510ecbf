// camhost: camera host for a robot hand camera.
// Caches the newest frame, streams it to subscribers and detects ArUco markers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-camhost/internal/config"
	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/emitter"
	"github.com/teslashibe/go-camhost/pkg/marker/aruco"
	"github.com/teslashibe/go-camhost/pkg/server"
	"github.com/teslashibe/go-camhost/pkg/service"
	"github.com/teslashibe/go-camhost/pkg/source"
)

var version = "0.1.0"

var (
	configPath = flag.String("config", "camhost.yaml", "Config file (missing is fine)")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	cameraName = flag.String("camera", "", "Camera name (overrides config)")
	sourceKind = flag.String("source", "", "Frame source: remote or local (overrides config)")
	device     = flag.String("device", "", "Local capture device index or path (overrides config)")
	markerSize = flag.Float64("marker-size", 0, "Marker edge length in meters (overrides config)")
	mqttBroker = flag.String("mqtt", "", "MQTT broker for detection events (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	debug      = flag.Bool("debug", false, "Enable request logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)
	logger := log.L()

	// Frame source
	var (
		ctrl    camera.Controller
		remote  *source.Remote
		capture *source.Capture
	)
	switch cfg.Camera.Source {
	case config.SourceLocal:
		capture = source.NewCapture(source.CaptureConfig{
			Device:      cfg.Camera.Device,
			Calibration: cfg.CameraInfo(),
		}, logger)
		ctrl = capture
	default:
		remote = source.NewRemote(source.DefaultCommandTimeout, logger)
		ctrl = remote
	}

	finder, err := aruco.NewFinder(cfg.Marker.Dictionary)
	if err != nil {
		log.Error("marker detector", "error", err)
		os.Exit(1)
	}
	defer finder.Close()

	svc := service.New(ctrl, finder, aruco.PnPSolver{}, service.Options{
		Camera:     cfg.Camera.Name,
		MarkerSize: cfg.Marker.Size,
		AutoOpen:   cfg.Marker.AutoOpen,
		Logger:     logger,
	})
	if sink, ok := ctrl.(interface{ SetSink(source.Sink) }); ok {
		sink.SetSink(svc)
	}

	// Detection events
	var em *emitter.MQTT
	if cfg.MQTT.Broker != "" {
		em = emitter.NewMQTT(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
			Camera:   cfg.Camera.Name,
		}, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := em.Connect(ctx)
		cancel()
		if err != nil {
			log.Warn("mqtt unavailable, detection events disabled", "broker", cfg.MQTT.Broker, "error", err)
			em = nil
		} else {
			em.Start()
			svc.SetPublisher(em)
			log.Info("publishing detections", "topic", em.Topic())
		}
	}

	// An unreachable camera keeps the mode and receives it when opened.
	if err := svc.SetResolution(context.Background(), cfg.Camera.Mode, cfg.Camera.HalfRes); err != nil {
		log.Error("initial resolution", "mode", cfg.Camera.Mode, "half_res", cfg.Camera.HalfRes, "error", err)
		os.Exit(1)
	}

	srv := server.New(svc, server.Options{
		Version: version,
		Debug:   *debug,
		Remote:  remote,
		Capture: capture,
		Logger:  logger,
	})

	log.Info("camhost starting",
		"version", version,
		"camera", cfg.Camera.Name,
		"source", cfg.Camera.Source,
		"addr", cfg.Address(),
		"marker_size", svc.MarkerSize(),
		"dictionary", cfg.Marker.Dictionary)

	go func() {
		if err := srv.Listen(cfg.Address()); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	if err := svc.Shutdown(ctx); err != nil {
		log.Warn("camera shutdown", "error", err)
	}
	if em != nil {
		em.Close()
	}
}

// applyFlags overrides config with flags that were set.
func applyFlags(cfg *config.Config) {
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *cameraName != "" {
		cfg.Camera.Name = *cameraName
	}
	if *sourceKind != "" {
		cfg.Camera.Source = *sourceKind
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *markerSize != 0 {
		cfg.Marker.Size = *markerSize
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
}
