package marker

import "time"

// Point is an image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Candidate is one marker found in an image. Corners are in detector order:
// top-left, top-right, bottom-right, bottom-left.
type Candidate struct {
	ID      int      `json:"id"`
	Corners [4]Point `json:"corners"`
}

// Detection is the result of one detection call. IDs, Rvecs, Tvecs and
// Corners are index-aligned. It is built fresh per call and never cached.
type Detection struct {
	IDs     []int        `json:"ids"`
	Rvecs   [][3]float64 `json:"rvecs"`
	Tvecs   [][3]float64 `json:"tvecs"`
	Corners [][4]Point   `json:"corners"`

	// Context of the call
	Size     float64       `json:"marker_size"`
	FrameSeq uint64        `json:"frame_seq"`
	Duration time.Duration `json:"duration_ns"`
}

func newDetection(size float64, seq uint64, n int) Detection {
	return Detection{
		IDs:      make([]int, 0, n),
		Rvecs:    make([][3]float64, 0, n),
		Tvecs:    make([][3]float64, 0, n),
		Corners:  make([][4]Point, 0, n),
		Size:     size,
		FrameSeq: seq,
	}
}

// Len returns the number of markers found.
func (d Detection) Len() int {
	return len(d.IDs)
}

// Empty reports whether no marker was found.
func (d Detection) Empty() bool {
	return len(d.IDs) == 0
}

// Find returns the pose of the marker with the given id.
func (d Detection) Find(id int) (rvec, tvec [3]float64, ok bool) {
	for i, v := range d.IDs {
		if v == id {
			return d.Rvecs[i], d.Tvecs[i], true
		}
	}
	return rvec, tvec, false
}

// ObjectPoints returns the marker corners in the marker frame for an edge
// length of size, matching the Candidate corner order. The marker lies in
// the z=0 plane centered on the origin.
func ObjectPoints(size float64) [4][3]float64 {
	h := size / 2
	return [4][3]float64{
		{-h, h, 0},
		{h, h, 0},
		{h, -h, 0},
		{-h, -h, 0},
	}
}
