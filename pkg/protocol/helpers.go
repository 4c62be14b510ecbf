package protocol

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameData wraps a raw frame for JSON, base64 encoding its pixels.
func NewFrameData(f *frame.Frame) FrameData {
	return FrameData{
		Width:   f.Width,
		Height:  f.Height,
		Step:    f.Step,
		Data:    base64.StdEncoding.EncodeToString(f.Data),
		FrameID: f.Seq,
	}
}

// NewFrameMessage creates a frame message from a raw frame
func NewFrameMessage(f *frame.Frame) (*Message, error) {
	return NewMessage(TypeFrame, NewFrameData(f))
}

// NewCameraInfoMessage creates a calibration message
func NewCameraInfoMessage(info intrinsics.CameraInfo) (*Message, error) {
	return NewMessage(TypeCameraInfo, CameraInfoData{
		K: info.K,
		D: info.D,
		ROI: ROIData{
			XOffset: info.ROI.XOffset,
			YOffset: info.ROI.YOffset,
			Width:   info.ROI.Width,
			Height:  info.ROI.Height,
		},
	})
}

// NewStatusMessage creates a status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewControlMessage creates a control command message
func NewControlMessage(cmd ControlCommand) (*Message, error) {
	return NewMessage(TypeControl, cmd)
}

// NewCalibrationAckMessage creates a calibration acknowledgement
func NewCalibrationAckMessage() (*Message, error) {
	return NewMessage(TypeCalibrationAck, CalibrationAck{Applied: true})
}

// NewPingMessage creates a ping message stamped with the sender's clock
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Frame decodes the base64 payload into a validated frame.
func (f *FrameData) Frame() (*frame.Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", frame.ErrMalformedFrame, err)
	}
	out := &frame.Frame{Width: f.Width, Height: f.Height, Step: f.Step, Data: raw}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCameraInfo extracts calibration from a message
func (m *Message) GetCameraInfo() (*intrinsics.CameraInfo, error) {
	var data CameraInfoData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &intrinsics.CameraInfo{
		K: data.K,
		D: data.D,
		ROI: intrinsics.ROI{
			XOffset: data.ROI.XOffset,
			YOffset: data.ROI.YOffset,
			Width:   data.ROI.Width,
			Height:  data.ROI.Height,
		},
	}, nil
}

// GetStatusData extracts status from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetControlCommand extracts a control command from a message
func (m *Message) GetControlCommand() (*ControlCommand, error) {
	var data ControlCommand
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
