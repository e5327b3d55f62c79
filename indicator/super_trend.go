package indicator

import "github.com/markcheno/go-talib"

// SuperTrend direction labels.
const (
	TrendUp   = 1
	TrendDown = -1
)

// SuperTrendResult holds the per-bar direction and band levels of one
// SuperTrend computation. Line is the active band: the final lower band
// in an uptrend, the final upper band in a downtrend.
type SuperTrendResult struct {
	Trend []int
	Line  []float64
	Upper []float64
	Lower []float64
}

// FlippedUp reports a down-to-up direction change on the last bar.
func (r SuperTrendResult) FlippedUp() bool {
	n := len(r.Trend)
	return n >= 2 && r.Trend[n-2] == TrendDown && r.Trend[n-1] == TrendUp
}

// FlippedDown reports an up-to-down direction change on the last bar.
func (r SuperTrendResult) FlippedDown() bool {
	n := len(r.Trend)
	return n >= 2 && r.Trend[n-2] == TrendUp && r.Trend[n-1] == TrendDown
}

// SuperTrend calculates the SuperTrend indicator over high, low, and
// close prices. Band locking follows the standard rule: a final band
// only moves toward price unless the prior close breached it.
//
// Parameters:
//   - atrPeriod: period for the Average True Range
//   - factor: multiplier applied to the ATR around the hl2 midline
func SuperTrend(high, low, close []float64, atrPeriod int, factor float64) SuperTrendResult {
	length := len(close)
	result := SuperTrendResult{
		Trend: make([]int, length),
		Line:  make([]float64, length),
		Upper: make([]float64, length),
		Lower: make([]float64, length),
	}
	if length == 0 {
		return result
	}

	atr := talib.Atr(high, low, close, atrPeriod)

	basicUpperBand := make([]float64, length)
	basicLowerBand := make([]float64, length)
	finalUpperBand := result.Upper
	finalLowerBand := result.Lower
	superTrend := result.Line

	// Skip first element since we need previous values
	for i := 1; i < length; i++ {
		median := (high[i] + low[i]) / 2.0
		basicUpperBand[i] = median + atr[i]*factor
		basicLowerBand[i] = median - atr[i]*factor

		// The upper band may only descend unless the prior close broke it
		if basicUpperBand[i] < finalUpperBand[i-1] || close[i-1] > finalUpperBand[i-1] {
			finalUpperBand[i] = basicUpperBand[i]
		} else {
			finalUpperBand[i] = finalUpperBand[i-1]
		}

		// The lower band may only ascend unless the prior close broke it
		if basicLowerBand[i] > finalLowerBand[i-1] || close[i-1] < finalLowerBand[i-1] {
			finalLowerBand[i] = basicLowerBand[i]
		} else {
			finalLowerBand[i] = finalLowerBand[i-1]
		}

		// The active band switches when close crosses it
		if finalUpperBand[i-1] == superTrend[i-1] {
			if close[i] > finalUpperBand[i] {
				superTrend[i] = finalLowerBand[i]
				result.Trend[i] = TrendUp
			} else {
				superTrend[i] = finalUpperBand[i]
				result.Trend[i] = TrendDown
			}
		} else {
			if close[i] < finalLowerBand[i] {
				superTrend[i] = finalUpperBand[i]
				result.Trend[i] = TrendDown
			} else {
				superTrend[i] = finalLowerBand[i]
				result.Trend[i] = TrendUp
			}
		}
	}

	return result
}
