// Package camera validates camera control parameters and forwards them to
// whichever controller drives the physical camera.
package camera

// Auto asks the camera to control a parameter itself.
const Auto = -1

// Vendor ranges for the robot head/hand cameras.
const (
	ExposureMin     = 0
	ExposureMax     = 100
	GainMin         = 0
	GainMax         = 79
	WhiteBalanceMin = 0
	WhiteBalanceMax = 4095
	FPSMax          = 30.0
)

// Settings holds the last applied value of every camera parameter.
type Settings struct {
	Exposure     int     `json:"exposure"`
	Gain         int     `json:"gain"`
	WhiteBalance [3]int  `json:"white_balance"` // red, green, blue
	FPS          float64 `json:"fps"`
	Mode         int     `json:"mode"`
	HalfRes      bool    `json:"half_res"`
}

// DefaultSettings returns auto exposure, gain and white balance at the
// lowest resolution mode.
func DefaultSettings() Settings {
	return Settings{
		Exposure:     Auto,
		Gain:         Auto,
		WhiteBalance: [3]int{Auto, Auto, Auto},
		FPS:          FPSMax,
		Mode:         DefaultMode,
	}
}

// Resolution returns the output size for the current mode.
func (s Settings) Resolution() Resolution {
	r, _ := ResolutionFor(s.Mode, s.HalfRes)
	return r
}

func checkRange(param string, v, min, max int) error {
	if v == Auto || (v >= min && v <= max) {
		return nil
	}
	return &ValidationError{Param: param, Value: float64(v), Min: float64(min), Max: float64(max)}
}

// ValidateExposure checks an exposure value.
func ValidateExposure(v int) error {
	return checkRange("exposure", v, ExposureMin, ExposureMax)
}

// ValidateGain checks a gain value.
func ValidateGain(v int) error {
	return checkRange("gain", v, GainMin, GainMax)
}

// ValidateWhiteBalance checks all three channels.
func ValidateWhiteBalance(r, g, b int) error {
	if err := checkRange("white_balance_red", r, WhiteBalanceMin, WhiteBalanceMax); err != nil {
		return err
	}
	if err := checkRange("white_balance_green", g, WhiteBalanceMin, WhiteBalanceMax); err != nil {
		return err
	}
	return checkRange("white_balance_blue", b, WhiteBalanceMin, WhiteBalanceMax)
}

// ValidateFPS requires 0 < fps <= 30.
func ValidateFPS(fps float64) error {
	if fps > 0 && fps <= FPSMax {
		return nil
	}
	return &ValidationError{Param: "fps", Value: fps, Min: 0, Max: FPSMax, Reason: "must be greater than 0 and at most 30"}
}
