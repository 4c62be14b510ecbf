// Package protocol defines the messages exchanged between the camera host,
// the robot-side camera source, and stream subscribers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Source → Host messages
	TypeFrame      MessageType = "frame"       // Raw camera frame
	TypeCameraInfo MessageType = "camera_info" // Calibration
	TypeStatus     MessageType = "status"      // Camera state / command reply

	// Host → Source messages
	TypeControl        MessageType = "control"         // Camera control command
	TypeCalibrationAck MessageType = "calibration_ack" // Stop sending camera_info

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all JSON WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Source → Host Message Types
// =============================================================================

// FrameData contains one raw interleaved frame
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Step    int    `json:"step"` // bytes per pixel group, B G R first
	Data    string `json:"data"` // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// CameraInfoData contains calibration as published by the camera driver
type CameraInfoData struct {
	K   [9]float64 `json:"k"`
	D   []float64  `json:"d"`
	ROI ROIData    `json:"roi"`
}

// ROIData is the calibrated sensor window
type ROIData struct {
	XOffset int `json:"x_offset"`
	YOffset int `json:"y_offset"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// StatusData reports camera state. RequestID is set when the status
// answers a control command.
type StatusData struct {
	Open      bool   `json:"open"`
	Busy      bool   `json:"busy,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// =============================================================================
// Host → Source Message Types
// =============================================================================

// Control commands
const (
	CommandOpen         = "open"
	CommandClose        = "close"
	CommandExposure     = "exposure"
	CommandGain         = "gain"
	CommandWhiteBalance = "white_balance"
	CommandFPS          = "fps"
	CommandResolution   = "resolution"
)

// ControlCommand asks the source to change camera state
type ControlCommand struct {
	RequestID string  `json:"request_id"`
	Command   string  `json:"command"`
	Value     int     `json:"value,omitempty"`  // exposure, gain
	Values    [3]int  `json:"values,omitempty"` // white balance r, g, b
	FPS       float64 `json:"fps,omitempty"`
	Mode      int     `json:"mode,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}

// CalibrationAck tells the source its calibration was captured
type CalibrationAck struct {
	Applied bool `json:"applied"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
