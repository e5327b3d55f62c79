package structure

import (
	"math"
	"sort"

	"github.com/raykavin/duotrade/core"
)

// OrderBlock is the last opposite-coloured bar before an impulsive swing
// reversal. Price returning into the zone is read as institutional
// interest defending it.
type OrderBlock struct {
	Bullish  bool
	Top      float64
	Bottom   float64
	Index    int
	Strength float64
}

// Contains reports whether price sits inside the block.
func (ob OrderBlock) Contains(price float64) bool {
	return price >= ob.Bottom && price <= ob.Top
}

// detectOrderBlocks marks one block per confirmed swing: for a swing low
// the last bearish bar at or before it, for a swing high the last
// bullish bar. Strength is the confirming displacement over ATR.
// Blocks older than maxAge or closed through are dropped. The result is
// ordered strongest first, ties broken by recency.
func detectOrderBlocks(w *core.Dataframe, swings []Swing, atr []float64, fractal, maxAge int) []OrderBlock {
	n := w.Len()
	var blocks []OrderBlock

	for _, sw := range swings {
		confirm := sw.Index + fractal
		if confirm >= n {
			continue
		}

		block, ok := blockForSwing(w, sw)
		if !ok {
			continue
		}

		// Displacement of the impulse that confirmed the swing.
		var displacement float64
		if sw.High {
			displacement = sw.Price - w.Close[confirm]
		} else {
			displacement = w.Close[confirm] - sw.Price
		}
		if displacement <= 0 {
			continue
		}
		if a := atr[confirm]; a > 0 && !math.IsNaN(a) {
			block.Strength = displacement / a
		}

		blocks = append(blocks, block)
	}

	active := blocks[:0]
	for _, b := range blocks {
		if n-b.Index > maxAge {
			continue
		}
		if tradedThrough(w, b) {
			continue
		}
		active = append(active, b)
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Strength != active[j].Strength {
			return active[i].Strength > active[j].Strength
		}
		return active[i].Index > active[j].Index
	})
	return active
}

// blockForSwing walks back from the swing for the last bar coloured
// against the reversal.
func blockForSwing(w *core.Dataframe, sw Swing) (OrderBlock, bool) {
	for i := sw.Index; i >= 0 && sw.Index-i <= 10; i-- {
		bearish := w.Close[i] < w.Open[i]
		bullish := w.Close[i] > w.Open[i]

		if !sw.High && bearish {
			// Demand block under an upward reversal.
			return OrderBlock{Bullish: true, Top: w.High[i], Bottom: w.Low[i], Index: i}, true
		}
		if sw.High && bullish {
			// Supply block above a downward reversal.
			return OrderBlock{Bullish: false, Top: w.High[i], Bottom: w.Low[i], Index: i}, true
		}
	}
	return OrderBlock{}, false
}

// tradedThrough reports whether a later close invalidated the zone.
func tradedThrough(w *core.Dataframe, b OrderBlock) bool {
	for i := b.Index + 1; i < w.Len(); i++ {
		if b.Bullish && w.Close[i] < b.Bottom {
			return true
		}
		if !b.Bullish && w.Close[i] > b.Top {
			return true
		}
	}
	return false
}
