// Package hrv holds the signal processing for RR interval series: artifact
// correction, RMSSD and the buffers the acquisition session keeps.
package hrv

import (
	"math"
	"slices"
)

const (
	DefaultWindow    = 5
	DefaultThreshold = 150.0 // ms
)

// Correct returns a copy of series where every value that lies more than
// threshold ms away from the median of its neighbourhood [i-window, i+window]
// (clamped to the slice) is replaced by that median. Other values pass through.
func Correct(series []float64, window int, threshold float64) []float64 {
	out := slices.Clone(series)
	if len(series) < 2 {
		return out
	}
	if window < 0 {
		window = 0
	}

	scratch := make([]float64, 0, 2*window+1)
	for i, v := range series {
		lo := max(i-window, 0)
		hi := min(i+window, len(series)-1)

		scratch = append(scratch[:0], series[lo:hi+1]...)
		m := median(scratch)
		if math.Abs(v-m) > threshold {
			out[i] = m
		}
	}
	return out
}

// median sorts values in place.
func median(values []float64) float64 {
	slices.Sort(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
