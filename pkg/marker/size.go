package marker

import (
	"fmt"
	"math"
	"sync/atomic"
)

// DefaultSize is the edge length of the printed markers, in meters.
const DefaultSize = 0.06

// Size is the marker edge length in meters, safe for concurrent use.
// Readers always see one complete value.
type Size struct {
	bits atomic.Uint64
}

// NewSize creates a Size holding v, or DefaultSize if v is not valid.
func NewSize(v float64) *Size {
	s := &Size{}
	if validSize(v) != nil {
		v = DefaultSize
	}
	s.bits.Store(math.Float64bits(v))
	return s
}

// Get returns the current size.
func (s *Size) Get() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Set replaces the size. Detections already running keep the old value.
func (s *Size) Set(v float64) error {
	if err := validSize(v); err != nil {
		return err
	}
	s.bits.Store(math.Float64bits(v))
	return nil
}

func validSize(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSize, v)
	}
	return nil
}
