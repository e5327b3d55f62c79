package structure

// Swing is a confirmed fractal turning point.
type Swing struct {
	Index int
	Price float64
	High  bool // swing high when true, swing low otherwise
}

// findSwings locates fractal swings: a bar whose high is strictly above
// the highs of fractal bars on each side is a swing high, symmetric for
// lows. The last fractal bars cannot confirm and are never scanned, so
// a swing is only ever reported with full right-side context.
func findSwings(high, low []float64, fractal int) []Swing {
	var swings []Swing

	for i := fractal; i < len(high)-fractal; i++ {
		isHigh := true
		isLow := true
		for j := i - fractal; j <= i+fractal; j++ {
			if j == i {
				continue
			}
			if high[j] >= high[i] {
				isHigh = false
			}
			if low[j] <= low[i] {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, Swing{Index: i, Price: high[i], High: true})
		}
		if isLow {
			swings = append(swings, Swing{Index: i, Price: low[i], High: false})
		}
	}

	return swings
}

// lastTwo returns the two most recent swings of one kind, newest last.
func lastTwo(swings []Swing, wantHigh bool) (prev, last Swing, ok bool) {
	var found []Swing
	for i := len(swings) - 1; i >= 0 && len(found) < 2; i-- {
		if swings[i].High == wantHigh {
			found = append(found, swings[i])
		}
	}
	if len(found) < 2 {
		return Swing{}, Swing{}, false
	}
	return found[1], found[0], true
}

// classifyTrend derives the trend from swing ordering: higher highs with
// higher lows read bullish, lower highs with lower lows read bearish,
// anything else is neutral.
func classifyTrend(swings []Swing) TrendDirection {
	prevHigh, lastHigh, okHigh := lastTwo(swings, true)
	prevLow, lastLow, okLow := lastTwo(swings, false)
	if !okHigh || !okLow {
		return TrendNeutral
	}

	hh := lastHigh.Price > prevHigh.Price
	hl := lastLow.Price > prevLow.Price
	lh := lastHigh.Price < prevHigh.Price
	ll := lastLow.Price < prevLow.Price

	switch {
	case hh && hl:
		return TrendBullish
	case lh && ll:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// classifyEvent labels the latest structural break of the most recent
// confirmed swing levels and the direction it broke toward. A close
// beyond a swing in the trend direction is a break of structure;
// against it, or out of a neutral regime, a change of character.
func classifyEvent(swings []Swing, close []float64, trend TrendDirection) (EventType, bool, float64, float64) {
	var lastHigh, lastLow float64
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].High && lastHigh == 0 {
			lastHigh = swings[i].Price
		}
		if !swings[i].High && lastLow == 0 {
			lastLow = swings[i].Price
		}
		if lastHigh != 0 && lastLow != 0 {
			break
		}
	}
	if len(close) == 0 || (lastHigh == 0 && lastLow == 0) {
		return EventNone, false, lastHigh, lastLow
	}

	last := close[len(close)-1]
	switch {
	case lastHigh != 0 && last > lastHigh:
		if trend == TrendBullish {
			return EventBOS, true, lastHigh, lastLow
		}
		return EventCHoCH, true, lastHigh, lastLow
	case lastLow != 0 && last < lastLow:
		if trend == TrendBearish {
			return EventBOS, false, lastHigh, lastLow
		}
		return EventCHoCH, false, lastHigh, lastLow
	}
	return EventNone, false, lastHigh, lastLow
}
