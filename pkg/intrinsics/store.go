package intrinsics

import "sync"

// Source says where the stored intrinsics came from.
type Source string

const (
	SourceNone        Source = "none"
	SourceCalibration Source = "calibration"
	SourceManual      Source = "manual"
)

// Store holds at most one set of intrinsics.
//
// Automatic calibration is first-wins: once a value is stored, later
// calibration messages are ignored. A manual set always overwrites and
// locks out automatic updates until the process restarts.
type Store struct {
	mu     sync.Mutex
	value  *Intrinsics
	source Source
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{source: SourceNone}
}

// SetFromCalibration applies the ROI correction and stores the result if
// nothing is stored yet and no manual override is active. It reports
// whether the value was applied.
func (s *Store) SetFromCalibration(info CameraInfo) bool {
	in := FromCameraInfo(info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value != nil || s.source == SourceManual {
		return false
	}
	s.value = &in
	s.source = SourceCalibration
	return true
}

// SetManual overwrites any stored value.
func (s *Store) SetManual(in Intrinsics) {
	in = in.Clone()

	s.mu.Lock()
	s.value = &in
	s.source = SourceManual
	s.mu.Unlock()
}

// Get returns a copy of the stored intrinsics, or false if none are set.
func (s *Store) Get() (Intrinsics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == nil {
		return Intrinsics{}, false
	}
	return s.value.Clone(), true
}

// Source reports the origin of the stored value.
func (s *Store) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Reset drops an automatically captured value so the next camera session
// can calibrate again. A manual value is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == SourceCalibration {
		s.value = nil
		s.source = SourceNone
	}
}
