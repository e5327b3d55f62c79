package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// The kernel wraps go-talib and masks its zero-filled warmup region with
// NaN so strategies can tell "no data yet" from a real zero.

func nanMask(values []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

// ATR calculates the Average True Range. The first period entries are
// NaN while the window fills.
func ATR(high, low, close []float64, period int) []float64 {
	return nanMask(talib.Atr(high, low, close, period), period)
}

// EMA calculates the Exponential Moving Average.
func EMA(input []float64, period int) []float64 {
	return nanMask(talib.Ema(input, period), period-1)
}

// SMA calculates the Simple Moving Average.
func SMA(input []float64, period int) []float64 {
	return nanMask(talib.Sma(input, period), period-1)
}

// StdDev calculates the rolling standard deviation.
func StdDev(input []float64, period int) []float64 {
	return nanMask(talib.StdDev(input, period, 1.0), period-1)
}

// HL2 returns the bar midpoint series.
func HL2(high, low []float64) []float64 {
	out := make([]float64, len(high))
	for i := range high {
		out[i] = (high[i] + low[i]) / 2
	}
	return out
}

// volatilityBasePeriod is the smoothing window the rolling deviation is
// normalised against.
const volatilityBasePeriod = 50

// NormalizedVolatility measures the rolling deviation of input against
// its own recent average, so regimes compare across instruments. NaN
// until both windows fill.
func NormalizedVolatility(input []float64, window int) []float64 {
	std := talib.StdDev(input, window, 1.0)
	base := talib.Sma(std, volatilityBasePeriod)

	out := make([]float64, len(input))
	lookback := window + volatilityBasePeriod - 2
	for i := range out {
		if i < lookback || base[i] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = std[i] / base[i]
	}
	return out
}
