package optimize

import (
	"math"

	"golang.org/x/image/draw"
)

// Lanczos3 is a windowed-sinc resampling kernel with a support of 3.
var Lanczos3 = &draw.Kernel{Support: 3, At: lanczos3}

func lanczos3(t float64) float64 {
	if t < 0 {
		t = -t
	}
	if t >= 3 {
		return 0
	}
	return sinc(t) * sinc(t/3)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	x *= math.Pi
	return math.Sin(x) / x
}
