package hrv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrect_CleanSeriesUnchanged(t *testing.T) {
	series := []float64{812, 798, 805, 830, 817, 790, 801, 822, 809, 795, 811, 826}
	got := Correct(series, DefaultWindow, DefaultThreshold)
	require.Equal(t, series, got)
}

func TestCorrect_ClampsSingleOutlier(t *testing.T) {
	series := []float64{800, 810, 1400, 790, 805}
	got := Correct(series, DefaultWindow, DefaultThreshold)

	// whole slice is the clamped window: sorted 790 800 805 810 1400
	require.Equal(t, []float64{800, 810, 805, 790, 805}, got)
	require.Equal(t, 1400.0, series[2], "input must not be mutated")
}

func TestCorrect_EvenWindowUsesMeanOfMiddle(t *testing.T) {
	// window 1 at index 0 covers [0,1]: median (500+900)/2 = 700, |500-700| > 150
	got := Correct([]float64{500, 900, 880, 890}, 1, 150)
	require.Equal(t, 700.0, got[0])
	require.Equal(t, []float64{900, 880, 890}, got[1:])
}

func TestCorrect_ShortSeries(t *testing.T) {
	require.Empty(t, Correct(nil, DefaultWindow, DefaultThreshold))
	require.Equal(t, []float64{1200}, Correct([]float64{1200}, DefaultWindow, DefaultThreshold))
}

func TestCorrect_Deterministic(t *testing.T) {
	series := []float64{700, 1500, 710, 690, 300, 705, 720, 715}
	a := Correct(series, DefaultWindow, DefaultThreshold)
	b := Correct(series, DefaultWindow, DefaultThreshold)
	require.Equal(t, a, b)
}

func TestRMSSD(t *testing.T) {
	v, ok := RMSSD([]float64{800, 810, 790})
	require.True(t, ok)
	require.InDelta(t, math.Sqrt(250), v, 1e-9)
	require.InDelta(t, 15.81, v, 0.01)
}

func TestRMSSD_InsufficientData(t *testing.T) {
	for _, series := range [][]float64{nil, {}, {812}} {
		v, ok := RMSSD(series)
		require.False(t, ok)
		require.Zero(t, v)
		require.False(t, math.IsNaN(v))
	}
}

func TestEstimate_UsesCorrectedSeries(t *testing.T) {
	raw := []float64{800, 810, 1400, 790, 805}
	want, _ := RMSSD([]float64{800, 810, 805, 790, 805})
	got, ok := Estimate(raw, DefaultWindow, DefaultThreshold)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestSeries_EvictsOldest(t *testing.T) {
	s := NewSeries(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Push(v)
	}
	require.Equal(t, 3, s.Len())
	require.Equal(t, []float64{3, 4, 5}, s.Values())

	vals := s.Values()
	vals[0] = 99
	require.Equal(t, []float64{3, 4, 5}, s.Values(), "Values must return a copy")

	s.Reset()
	require.Zero(t, s.Len())
}

func TestStabilizer_GrowsUntilSealed(t *testing.T) {
	s := NewStabilizer()
	for i := 0; i < 400; i++ {
		s.Push(float64(i))
	}
	require.Equal(t, 400, s.Len())
	require.False(t, s.Sealed())

	s.Seal()
	s.Push(400)
	s.Push(401)
	require.Equal(t, 400, s.Len())
	vals := s.Values()
	require.Equal(t, 2.0, vals[0])
	require.Equal(t, 401.0, vals[len(vals)-1])

	s.Reset()
	require.False(t, s.Sealed())
	require.Zero(t, s.Len())
}

func TestStabilizer_SealFloor(t *testing.T) {
	s := NewStabilizer()
	s.Seal()
	s.Push(800)
	s.Push(810)
	s.Push(820)
	require.Equal(t, []float64{810, 820}, s.Values())
}
