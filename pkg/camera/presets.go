package camera

import "fmt"

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DefaultMode is the smallest sensor mode.
const DefaultMode = 5

// Modes lists the sensor resolution modes by index.
var Modes = []Resolution{
	{1280, 800},
	{960, 600},
	{640, 400},
	{480, 300},
	{384, 240},
	{320, 200},
}

// noHalfRes marks modes the sensor cannot bin by two.
var noHalfRes = map[int]bool{0: true, 1: true, 4: true}

// ResolutionFor returns the output size for mode, halved when halfRes is set.
func ResolutionFor(mode int, halfRes bool) (Resolution, error) {
	if mode < 0 || mode >= len(Modes) {
		return Resolution{}, &ValidationError{Param: "mode", Value: float64(mode), Min: 0, Max: float64(len(Modes) - 1),
			Reason: fmt.Sprintf("must be between 0 and %d", len(Modes)-1)}
	}
	r := Modes[mode]
	if halfRes {
		if noHalfRes[mode] {
			return Resolution{}, &ValidationError{Param: "mode", Value: float64(mode),
				Reason: fmt.Sprintf("half resolution is not available at %s", r)}
		}
		r = Resolution{Width: r.Width / 2, Height: r.Height / 2}
	}
	return r, nil
}

// Capabilities returns the camera parameter ranges.
func Capabilities() map[string]interface{} {
	modes := make([]string, len(Modes))
	for i, r := range Modes {
		modes[i] = r.String()
	}
	return map[string]interface{}{
		"auto":              Auto,
		"exposure":          [2]int{ExposureMin, ExposureMax},
		"gain":              [2]int{GainMin, GainMax},
		"white_balance":     [2]int{WhiteBalanceMin, WhiteBalanceMax},
		"max_fps":           FPSMax,
		"modes":             modes,
		"no_half_res_modes": []int{0, 1, 4},
	}
}
