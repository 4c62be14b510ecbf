// Package aruco finds ArUco markers and solves their pose with OpenCV.
package aruco

import (
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camhost/pkg/frame"
	"github.com/teslashibe/go-camhost/pkg/intrinsics"
	"github.com/teslashibe/go-camhost/pkg/marker"
)

// cv::SOLVEPNP_IPPE_SQUARE
const solvePnPIPPESquare = 7

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"original":       gocv.ArucoDictArucoOriginal,
	"4x4_50":         gocv.ArucoDict4x4_50,
	"4x4_100":        gocv.ArucoDict4x4_100,
	"4x4_250":        gocv.ArucoDict4x4_250,
	"4x4_1000":       gocv.ArucoDict4x4_1000,
	"5x5_50":         gocv.ArucoDict5x5_50,
	"5x5_100":        gocv.ArucoDict5x5_100,
	"5x5_250":        gocv.ArucoDict5x5_250,
	"5x5_1000":       gocv.ArucoDict5x5_1000,
	"6x6_50":         gocv.ArucoDict6x6_50,
	"6x6_100":        gocv.ArucoDict6x6_100,
	"6x6_250":        gocv.ArucoDict6x6_250,
	"6x6_1000":       gocv.ArucoDict6x6_1000,
	"apriltag_16h5":  gocv.ArucoDictAprilTag_16h5,
	"apriltag_36h11": gocv.ArucoDictAprilTag_36h11,
}

// ParseDictionary maps a dictionary name such as "original" or "4x4_50"
// (optionally prefixed with "DICT_") to its code.
func ParseDictionary(name string) (gocv.ArucoDictionaryCode, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "dict_")
	key = strings.TrimPrefix(key, "aruco_")
	if key == "" {
		key = marker.DefaultDictionary
	}
	code, ok := dictionaries[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", marker.ErrUnknownDictionary, name)
	}
	return code, nil
}

// Finder detects ArUco markers with OpenCV.
type Finder struct {
	detector gocv.ArucoDetector
	mu       sync.Mutex // Protects the detector
}

// NewFinder creates a finder for the named dictionary.
func NewFinder(dictionary string) (*Finder, error) {
	code, err := ParseDictionary(dictionary)
	if err != nil {
		return nil, err
	}

	dict := gocv.GetPredefinedDictionary(code)
	params := gocv.NewArucoDetectorParameters()

	return &Finder{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}, nil
}

// Find merges the planes into a BGR image, converts it to grayscale
// (BT.601: Y = 0.299R + 0.587G + 0.114B) and runs the marker detector.
// Rejected candidates are discarded.
func (a *Finder) Find(p frame.Planes) ([]marker.Candidate, error) {
	gray, err := grayFromPlanes(p)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	a.mu.Lock()
	corners, ids, _ := a.detector.DetectMarkers(gray)
	a.mu.Unlock()

	found := make([]marker.Candidate, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		c := marker.Candidate{ID: id}
		for j, pt := range corners[i] {
			c.Corners[j] = marker.Point{X: float64(pt.X), Y: float64(pt.Y)}
		}
		found = append(found, c)
	}
	return found, nil
}

// Close releases the detector resources
func (a *Finder) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	return nil
}

func grayFromPlanes(p frame.Planes) (gocv.Mat, error) {
	planes := make([]gocv.Mat, 0, 3)
	defer func() {
		for _, m := range planes {
			m.Close()
		}
	}()

	for _, data := range [][]byte{p.B, p.G, p.R} {
		m, err := gocv.NewMatFromBytes(p.Height, p.Width, gocv.MatTypeCV8UC1, data)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("plane to mat: %w", err)
		}
		planes = append(planes, m)
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.Merge(planes, &bgr); err != nil {
		return gocv.Mat{}, fmt.Errorf("merge planes: %w", err)
	}

	gray := gocv.NewMat()
	if err := gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("grayscale conversion: %w", err)
	}
	if gray.Empty() {
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("grayscale conversion produced an empty image")
	}
	return gray, nil
}

// PnPSolver estimates marker pose with cv::solvePnP using IPPE_SQUARE.
type PnPSolver struct{}

// Solve returns the rotation (Rodrigues) and translation of the marker in
// the camera frame. The translation has the same unit as size.
func (PnPSolver) Solve(corners [4]marker.Point, size float64, in intrinsics.Intrinsics) (rvec, tvec [3]float64, err error) {
	obj := marker.ObjectPoints(size)
	objPts := make([]gocv.Point3f, 4)
	imgPts := make([]gocv.Point2f, 4)
	for i := 0; i < 4; i++ {
		objPts[i] = gocv.Point3f{X: float32(obj[i][0]), Y: float32(obj[i][1]), Z: float32(obj[i][2])}
		imgPts[i] = gocv.Point2f{X: float32(corners[i].X), Y: float32(corners[i].Y)}
	}

	objVec := gocv.NewPoint3fVectorFromPoints(objPts)
	defer objVec.Close()
	imgVec := gocv.NewPoint2fVectorFromPoints(imgPts)
	defer imgVec.Close()

	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer k.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k.SetDoubleAt(r, c, in.K[r*3+c])
		}
	}

	d := gocv.NewMat()
	if len(in.D) > 0 {
		d.Close()
		d = gocv.NewMatWithSize(1, len(in.D), gocv.MatTypeCV64F)
		for i, v := range in.D {
			d.SetDoubleAt(0, i, v)
		}
	}
	defer d.Close()

	rv := gocv.NewMat()
	defer rv.Close()
	tv := gocv.NewMat()
	defer tv.Close()

	if !gocv.SolvePnP(objVec, imgVec, k, d, &rv, &tv, false, solvePnPIPPESquare) {
		return rvec, tvec, marker.ErrPose
	}
	if rv.Total() < 3 || tv.Total() < 3 {
		return rvec, tvec, marker.ErrPose
	}
	for i := 0; i < 3; i++ {
		rvec[i] = rv.GetDoubleAt(i, 0)
		tvec[i] = tv.GetDoubleAt(i, 0)
	}
	return rvec, tvec, nil
}
