package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSMA_WarmupMask(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)

	require.True(t, math.IsNaN(out[0]))
	require.True(t, math.IsNaN(out[1]))
	require.InDelta(t, 2.0, out[2], 1e-12)
	require.InDelta(t, 3.0, out[3], 1e-12)
	require.InDelta(t, 4.0, out[4], 1e-12)
}

func TestEMA_WarmupMask(t *testing.T) {
	out := EMA([]float64{1, 2, 3, 4, 5}, 3)

	require.True(t, math.IsNaN(out[1]))
	// Seeded with the simple average, then k=0.5 smoothing.
	require.InDelta(t, 2.0, out[2], 1e-12)
	require.InDelta(t, 3.0, out[3], 1e-12)
	require.InDelta(t, 4.0, out[4], 1e-12)
}

func TestATR_WarmupMask(t *testing.T) {
	high, low, close := trendFixture()
	out := ATR(high, low, close, 1)

	require.True(t, math.IsNaN(out[0]))
	require.InDelta(t, 2.0, out[1], 1e-12)
	require.InDelta(t, 5.0, out[4], 1e-12) // gap-down bar widens the true range
	require.InDelta(t, 6.0, out[7], 1e-12)
}

func TestStdDev(t *testing.T) {
	out := StdDev([]float64{1, 2, 3, 4, 5}, 3)

	require.True(t, math.IsNaN(out[1]))
	require.InDelta(t, math.Sqrt(2.0/3.0), out[2], 1e-12)
}

func TestHL2(t *testing.T) {
	out := HL2([]float64{2, 4}, []float64{1, 2})
	require.Equal(t, []float64{1.5, 3}, out)
}

func TestNormalizedVolatility(t *testing.T) {
	input := make([]float64, 80)
	for i := range input {
		input[i] = float64(i % 2)
	}

	out := NormalizedVolatility(input, 3)

	// NaN until the deviation window plus its normalisation window fill.
	require.True(t, math.IsNaN(out[50]))
	require.False(t, math.IsNaN(out[51]))

	// An alternating series has constant deviation, so the normalised
	// value settles at one.
	require.InDelta(t, 1.0, out[60], 1e-9)
	require.InDelta(t, 1.0, out[79], 1e-9)
}
