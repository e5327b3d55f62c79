package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	require.Zero(t, Mean(nil))
	require.InDelta(t, 2, Mean([]float64{1, 2, 3}), 1e-9)
}

func TestWinRate(t *testing.T) {
	require.Zero(t, WinRate(nil))
	require.InDelta(t, 75, WinRate([]float64{10, 5, 1, -3}), 1e-9)
}

func TestPayoff(t *testing.T) {
	// Average win 30, average loss 10.
	require.InDelta(t, 3, Payoff([]float64{20, 40, -10}), 1e-9)
	// No losses falls back to the cap.
	require.InDelta(t, 10, Payoff([]float64{1, 2}), 1e-9)
}

func TestProfitFactor(t *testing.T) {
	require.InDelta(t, 2, ProfitFactor([]float64{30, 10, -20}), 1e-9)
	require.InDelta(t, 10, ProfitFactor([]float64{5}), 1e-9)
}

func TestSharpe(t *testing.T) {
	require.Zero(t, Sharpe([]float64{0.01}, 252))
	require.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}, 252), "zero variance has no ratio")

	returns := []float64{0.02, -0.01, 0.03, 0.01, -0.02}
	got := Sharpe(returns, 252)
	require.Greater(t, got, 0.0)
	// Hand-computed: mean 0.006, sample std 0.020736...
	require.InDelta(t, 0.006/0.0207364413533277*math.Sqrt(252), got, 1e-6)
}

func TestMaxDrawdown(t *testing.T) {
	require.Zero(t, MaxDrawdown(nil))
	require.Zero(t, MaxDrawdown([]float64{100, 110, 120}))
	// Peak 120 to trough 90 is a 25% decline.
	require.InDelta(t, 0.25, MaxDrawdown([]float64{100, 120, 90, 110}), 1e-9)
}

func TestBootstrapBounds(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ci := Bootstrap(values, Mean, 200, 0.95)
	require.LessOrEqual(t, ci.Lower, ci.Mean)
	require.GreaterOrEqual(t, ci.Upper, ci.Mean)
	require.Greater(t, ci.StdDev, 0.0)
}

func TestBootstrapEmpty(t *testing.T) {
	require.Zero(t, Bootstrap(nil, Mean, 100, 0.95))
}
