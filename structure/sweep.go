package structure

import "github.com/raykavin/duotrade/core"

// Sweep is a stop hunt: a wick punched through a swing level that the
// bar could not hold, closing back inside. A sweep of lows is bullish
// context, of highs bearish.
type Sweep struct {
	Bullish bool
	Level   float64 // the swept swing level
	Wick    float64 // the wick extreme beyond it
	Index   int
}

// detectSweeps walks the window and records every wick that reached at
// least distance beyond the most recent confirmed swing and closed back
// inside. Sweeps are returned in chronological order.
func detectSweeps(w *core.Dataframe, swings []Swing, distance float64) []Sweep {
	if distance <= 0 {
		return nil
	}

	var sweeps []Sweep
	for i := 0; i < w.Len(); i++ {
		high, low, ok := swingLevelsBefore(swings, i)
		if !ok {
			continue
		}

		if low > 0 && w.Low[i] <= low-distance && w.Close[i] > low {
			sweeps = append(sweeps, Sweep{Bullish: true, Level: low, Wick: w.Low[i], Index: i})
		}
		if high > 0 && w.High[i] >= high+distance && w.Close[i] < high {
			sweeps = append(sweeps, Sweep{Bullish: false, Level: high, Wick: w.High[i], Index: i})
		}
	}
	return sweeps
}

// swingLevelsBefore returns the most recent confirmed swing high and low
// strictly before bar i. Zero means no swing of that kind exists yet.
func swingLevelsBefore(swings []Swing, i int) (high, low float64, ok bool) {
	for j := len(swings) - 1; j >= 0; j-- {
		if swings[j].Index >= i {
			continue
		}
		if swings[j].High && high == 0 {
			high = swings[j].Price
		}
		if !swings[j].High && low == 0 {
			low = swings[j].Price
		}
		if high != 0 && low != 0 {
			break
		}
	}
	return high, low, high != 0 || low != 0
}
