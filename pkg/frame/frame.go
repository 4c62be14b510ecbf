// Package frame holds the camera image type and the single-slot cache that
// always contains the most recent capture.
package frame

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedFrame is returned when a buffer does not match its declared
// geometry.
var ErrMalformedFrame = errors.New("frame: malformed frame")

// Frame is one captured image in interleaved byte layout.
// Each pixel is a group of Step bytes; the first three are B, G, R.
// A Frame is immutable once published: never modify Data after Set.
type Frame struct {
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Step   int    `json:"step" msgpack:"step"` // bytes per pixel group
	Data   []byte `json:"data" msgpack:"data"`

	// Assigned by the cache on publish
	Seq      uint64    `json:"seq" msgpack:"seq"`
	Captured time.Time `json:"captured" msgpack:"captured"`
}

// Header describes frame geometry without the pixel data.
type Header struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Step   int `json:"step"`
}

// Header returns the frame geometry.
func (f *Frame) Header() Header {
	return Header{Width: f.Width, Height: f.Height, Step: f.Step}
}

// Pixels returns width*height.
func (f *Frame) Pixels() int {
	return f.Width * f.Height
}

// Validate checks that the buffer length matches step*width*height and that
// each pixel group has room for the three color samples.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	if f.Step < 3 {
		return fmt.Errorf("%w: step %d < 3", ErrMalformedFrame, f.Step)
	}
	// Geometry whose byte count does not fit an int cannot match any buffer.
	if f.Width > math.MaxInt/f.Height || f.Width*f.Height > math.MaxInt/f.Step {
		return fmt.Errorf("%w: geometry %dx%dx%d overflows", ErrMalformedFrame, f.Width, f.Height, f.Step)
	}
	want := f.Step * f.Width * f.Height
	if len(f.Data) != want {
		return fmt.Errorf("%w: have %d bytes, want %d (%dx%dx%d)",
			ErrMalformedFrame, len(f.Data), want, f.Width, f.Height, f.Step)
	}
	return nil
}
