package structure

import "github.com/raykavin/duotrade/core"

// FVG is a three-bar imbalance. A bullish gap sits between the first
// bar's high and the third bar's low; price trading back into the zone
// fills it, permanently.
type FVG struct {
	Bullish bool
	Top     float64
	Bottom  float64

	// Index of the middle bar of the pattern.
	Index int
}

// Size returns the gap height in price units.
func (g FVG) Size() float64 { return g.Top - g.Bottom }

// Contains reports whether price sits inside the gap.
func (g FVG) Contains(price float64) bool {
	return price >= g.Bottom && price <= g.Top
}

// Near reports whether price is inside the gap or within margin gap
// heights of its edges.
func (g FVG) Near(price, margin float64) bool {
	if g.Contains(price) {
		return true
	}
	pad := g.Size() * margin
	return price >= g.Bottom-pad && price <= g.Top+pad
}

// detectFVGs scans the window for three-bar gaps at least minSize tall
// and returns only the ones no later bar has traded into. Fill checks
// run against every bar after the pattern, so a gap the market jumped
// straight through never survives the scan.
func detectFVGs(w *core.Dataframe, minSize float64) []FVG {
	n := w.Len()
	var active []FVG

	for i := 0; i+2 < n; i++ {
		if gap, ok := gapAt(w, i, minSize); ok && !gapFilled(w, gap) {
			active = append(active, gap)
		}
	}

	// Newest first.
	for l, r := 0, len(active)-1; l < r; l, r = l+1, r-1 {
		active[l], active[r] = active[r], active[l]
	}
	return active
}

func gapAt(w *core.Dataframe, i int, minSize float64) (FVG, bool) {
	// Bullish: the third bar's low never reached back to the first
	// bar's high.
	if w.Low[i+2] > w.High[i] {
		gap := FVG{Bullish: true, Top: w.Low[i+2], Bottom: w.High[i], Index: i + 1}
		if gap.Size() >= minSize {
			return gap, true
		}
	}

	// Bearish: the third bar's high never reached back to the first
	// bar's low.
	if w.High[i+2] < w.Low[i] {
		gap := FVG{Bullish: false, Top: w.Low[i], Bottom: w.High[i+2], Index: i + 1}
		if gap.Size() >= minSize {
			return gap, true
		}
	}

	return FVG{}, false
}

// gapFilled reports whether any bar after the pattern crossed into the
// zone. Crossing entirely through counts as filled.
func gapFilled(w *core.Dataframe, g FVG) bool {
	for j := g.Index + 2; j < w.Len(); j++ {
		if g.Bullish && w.Low[j] <= g.Top {
			return true
		}
		if !g.Bullish && w.High[j] >= g.Bottom {
			return true
		}
	}
	return false
}
