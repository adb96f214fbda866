package hrv

import "math"

// RMSSD returns the root mean square of successive differences of series.
// ok is false when fewer than two intervals are available.
func RMSSD(series []float64) (value float64, ok bool) {
	if len(series) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(series); i++ {
		d := series[i] - series[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)-1)), true
}

// Estimate corrects series with the given filter settings and computes its RMSSD.
func Estimate(series []float64, window int, threshold float64) (float64, bool) {
	return RMSSD(Correct(series, window, threshold))
}
