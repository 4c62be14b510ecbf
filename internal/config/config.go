// Package config loads the camera host configuration.
//
// Priority (highest to lowest): CLI flags > environment variables >
// config file > defaults. Flags are applied by the command itself.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-camhost/pkg/camera"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
)

// Source kinds
const (
	SourceRemote = "remote" // robot streams over /ws/source
	SourceLocal  = "local"  // OpenCV capture device
)

// Config represents the complete camera host configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraConfig      `yaml:"camera"`
	Marker      MarkerConfig      `yaml:"marker"`
	Calibration CalibrationConfig `yaml:"calibration"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Name    string `yaml:"name"`   // e.g. left_hand_camera
	Source  string `yaml:"source"` // remote, local
	Device  string `yaml:"device"` // local only: index or path
	Mode    int    `yaml:"mode"`   // sensor resolution mode 0-5
	HalfRes bool   `yaml:"half_res"`
}

// MarkerConfig contains detection settings
type MarkerConfig struct {
	Size       float64 `yaml:"size"` // edge length in meters
	Dictionary string  `yaml:"dictionary"`
	AutoOpen   bool    `yaml:"auto_open"` // open the camera before detecting if closed
}

// CalibrationConfig is the calibration a local source reports. Empty K
// means none.
type CalibrationConfig struct {
	K   []float64      `yaml:"k"`
	D   []float64      `yaml:"d"`
	ROI intrinsics.ROI `yaml:"roi"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8090},
		Camera: CameraConfig{
			Name:   "left_hand_camera",
			Source: SourceRemote,
			Device: "0",
			Mode:   camera.DefaultMode,
		},
		Marker: MarkerConfig{
			Size:       marker.DefaultSize,
			Dictionary: marker.DefaultDictionary,
			AutoOpen:   true,
		},
		MQTT: MQTTConfig{Topic: "camhost", ClientID: "camhost"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	port := os.Getenv("CAMHOST_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if p, err := strconv.Atoi(port); err == nil {
		c.Server.Port = p
	}
	if name := os.Getenv("CAMHOST_CAMERA"); name != "" {
		c.Camera.Name = name
	}
	if level := os.Getenv("CAMHOST_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Camera.Name == "" {
		errs = append(errs, "camera.name is required")
	}
	switch c.Camera.Source {
	case SourceRemote, SourceLocal:
	default:
		errs = append(errs, fmt.Sprintf("camera.source must be %s or %s", SourceRemote, SourceLocal))
	}
	if _, err := camera.ResolutionFor(c.Camera.Mode, c.Camera.HalfRes); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Marker.Size <= 0 {
		errs = append(errs, "marker.size must be positive")
	}
	if n := len(c.Calibration.K); n != 0 && n != 9 {
		errs = append(errs, fmt.Sprintf("calibration.k must have 9 values, got %d", n))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// CameraInfo returns the configured calibration, or nil if none.
func (c *Config) CameraInfo() *intrinsics.CameraInfo {
	if len(c.Calibration.K) != 9 {
		return nil
	}
	info := &intrinsics.CameraInfo{
		D:   append([]float64(nil), c.Calibration.D...),
		ROI: c.Calibration.ROI,
	}
	copy(info.K[:], c.Calibration.K)
	return info
}
