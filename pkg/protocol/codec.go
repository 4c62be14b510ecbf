package protocol

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-camhost/pkg/frame"
)

// FramePacket is the binary (msgpack) form of a frame, used on the source
// ingest socket and on subscriber streams.
type FramePacket struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Step   int    `msgpack:"step"`
	TS     int64  `msgpack:"ts"` // Unix milliseconds of capture
	Data   []byte `msgpack:"data"`
}

// EncodeFrame packs f as msgpack.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	p := FramePacket{
		Seq:    f.Seq,
		Width:  f.Width,
		Height: f.Height,
		Step:   f.Step,
		Data:   f.Data,
	}
	if !f.Captured.IsZero() {
		p.TS = f.Captured.UnixMilli()
	}
	b, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// DecodeFrame unpacks and validates a msgpack frame.
func DecodeFrame(b []byte) (*frame.Frame, error) {
	var p FramePacket
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", frame.ErrMalformedFrame, err)
	}
	f := &frame.Frame{
		Width:  p.Width,
		Height: p.Height,
		Step:   p.Step,
		Data:   p.Data,
		Seq:    p.Seq,
	}
	if p.TS != 0 {
		f.Captured = time.UnixMilli(p.TS)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
