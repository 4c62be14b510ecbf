package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 2, Height: 1, Step: 4},
		},
		{
			name:    "control message",
			msgType: TypeControl,
			data:    ControlCommand{Command: CommandExposure, Value: 50},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeStatus,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	f := &frame.Frame{Width: 2, Height: 1, Step: 4, Data: []byte{10, 20, 30, 99, 40, 50, 60, 99}, Seq: 9}

	msg, err := NewFrameMessage(f)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeFrame {
		t.Fatalf("type = %v", parsed.Type)
	}
	data, err := parsed.GetFrameData()
	if err != nil {
		t.Fatal(err)
	}
	if data.FrameID != 9 {
		t.Errorf("FrameID = %d, want 9", data.FrameID)
	}

	got, err := data.Frame()
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if string(got.Data) != string(f.Data) || got.Step != 4 {
		t.Errorf("frame = %+v", got)
	}
}

func TestNewFrameData(t *testing.T) {
	f := &frame.Frame{Width: 1, Height: 1, Step: 4, Data: []byte{1, 2, 3, 4}, Seq: 9}
	fd := NewFrameData(f)
	if fd.FrameID != 9 || fd.Data != "AQIDBA==" {
		t.Errorf("NewFrameData() = %+v", fd)
	}
	back, err := fd.Frame()
	if err != nil || !bytes.Equal(back.Data, f.Data) {
		t.Errorf("Frame() = %+v, %v", back, err)
	}
}

func TestFrameData_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data FrameData
	}{
		{"bad base64", FrameData{Width: 1, Height: 1, Step: 3, Data: "!!!"}},
		{"short payload", FrameData{Width: 2, Height: 2, Step: 4, Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.data.Frame(); !errors.Is(err, frame.ErrMalformedFrame) {
				t.Errorf("Frame() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestCameraInfoMessage(t *testing.T) {
	info := intrinsics.CameraInfo{
		K:   [9]float64{400, 0, 320, 0, 400, 200, 0, 0, 1},
		D:   []float64{0.1, 0.2, 0, 0, 0},
		ROI: intrinsics.ROI{XOffset: 8, YOffset: 4, Width: 640, Height: 400},
	}

	msg, err := NewCameraInfoMessage(info)
	if err != nil {
		t.Fatal(err)
	}
	got, err := msg.GetCameraInfo()
	if err != nil {
		t.Fatal(err)
	}
	if got.K != info.K || got.ROI != info.ROI || len(got.D) != 5 {
		t.Errorf("camera info = %+v", got)
	}
}

func TestStatusAndControl(t *testing.T) {
	msg, _ := NewStatusMessage(StatusData{Open: true, RequestID: "r1"})
	status, err := msg.GetStatusData()
	if err != nil || !status.Open || status.RequestID != "r1" {
		t.Errorf("status = %+v, err = %v", status, err)
	}

	msg, _ = NewControlMessage(ControlCommand{RequestID: "r2", Command: CommandWhiteBalance, Values: [3]int{1, 2, 3}})
	cmd, err := msg.GetControlCommand()
	if err != nil || cmd.Command != CommandWhiteBalance || cmd.Values != [3]int{1, 2, 3} {
		t.Errorf("command = %+v, err = %v", cmd, err)
	}
}

func TestPongLatency(t *testing.T) {
	msg, err := NewPongMessage("p", 1000, 1025)
	if err != nil {
		t.Fatal(err)
	}
	pong, err := msg.GetPongData()
	if err != nil {
		t.Fatal(err)
	}
	if pong.LatencyMs != 25 {
		t.Errorf("LatencyMs = %d, want 25", pong.LatencyMs)
	}
}

func TestPingStamped(t *testing.T) {
	msg, err := NewPingMessage("p")
	if err != nil {
		t.Fatal(err)
	}
	ping, err := msg.GetPingData()
	if err != nil {
		t.Fatal(err)
	}
	if ping.ID != "p" || ping.Timestamp == 0 {
		t.Errorf("ping = %+v", ping)
	}
}

func TestParseMessageInvalid(t *testing.T) {
	if _, err := ParseMessage([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestFramePacket(t *testing.T) {
	captured := time.UnixMilli(1700000000123)
	f := &frame.Frame{Width: 2, Height: 1, Step: 4, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Seq: 3, Captured: captured}

	b, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	got, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if got.Seq != 3 || got.Width != 2 || string(got.Data) != string(f.Data) {
		t.Errorf("decoded = %+v", got)
	}
	if !got.Captured.Equal(captured) {
		t.Errorf("Captured = %v, want %v", got.Captured, captured)
	}

	if _, err := DecodeFrame([]byte{0xc1}); !errors.Is(err, frame.ErrMalformedFrame) {
		t.Errorf("garbage should be malformed, got %v", err)
	}
}

func TestDecodeFrame_OverflowingGeometry(t *testing.T) {
	b, err := msgpack.Marshal(&FramePacket{Width: math.MaxInt/4 + 1, Height: 1, Step: 4, Data: []byte{1, 2, 3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrame(b); !errors.Is(err, frame.ErrMalformedFrame) {
		t.Errorf("DecodeFrame() error = %v, want ErrMalformedFrame", err)
	}
}
