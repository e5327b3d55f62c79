package structure

import (
	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/indicator"
)

// TrendDirection represents the market structure trend
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// EventType labels the latest structural break
type EventType string

const (
	EventNone  EventType = ""
	EventBOS   EventType = "BOS"
	EventCHoCH EventType = "CHOCH"
)

// Summary is the full structural read of a bar window: trend state,
// the latest break, and the active zones confluence checks run against.
type Summary struct {
	Trend     TrendDirection
	LastEvent EventType

	// LastEventBullish is the direction of LastEvent: true for a close
	// above the last swing high, false for one below the last swing low.
	// Meaningless when LastEvent is EventNone.
	LastEventBullish bool

	// LastHigh and LastLow are the most recent confirmed swing levels.
	LastHigh float64
	LastLow  float64

	Swings      []Swing
	OrderBlocks []OrderBlock // active only, newest first
	Gaps        []FVG        // active only, newest first
	Sweeps      []Sweep

	// ATR at the last bar, for stop construction.
	ATR float64
}

// Config bounds the structural scan.
type Config struct {
	// Lookback is the window scanned for swings, blocks, and gaps.
	Lookback int
	// Fractal is how many strictly lower neighbours a swing needs on
	// each side. A swing confirms only once Fractal bars exist after it.
	Fractal int
	// FVGMinSize discards gaps narrower than this, in price units.
	FVGMinSize float64
	// SweepDistance is how far beyond a swing a wick must reach to count
	// as a liquidity sweep, in price units.
	SweepDistance float64
	// ATRPeriod feeds block strength scoring and the summary ATR.
	ATRPeriod int
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = 100
	}
	if c.Fractal <= 0 {
		c.Fractal = 2
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	return c
}

// Analyzer extracts market structure from a dataframe. A scan is a pure
// recomputation over the window; no state is carried between bars, so
// gap fill status always reflects the bars actually seen.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with defaults applied.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// MinBars is the smallest window a scan needs to say anything.
func (a *Analyzer) MinBars() int {
	return a.cfg.Fractal*2 + 1
}

// Scan reads the most recent Lookback bars of df and returns the
// structural summary. Returns nil when the window is too small.
func (a *Analyzer) Scan(df *core.Dataframe) *Summary {
	if df.Len() < a.MinBars() {
		return nil
	}

	w := df.Sample(a.cfg.Lookback)
	atr := indicator.ATR(w.High, w.Low, w.Close, a.cfg.ATRPeriod)

	swings := findSwings(w.High, w.Low, a.cfg.Fractal)
	s := &Summary{Swings: swings}

	s.Trend = classifyTrend(swings)
	s.LastEvent, s.LastEventBullish, s.LastHigh, s.LastLow = classifyEvent(swings, w.Close, s.Trend)

	s.OrderBlocks = detectOrderBlocks(&w, swings, atr, a.cfg.Fractal, a.cfg.Lookback)
	s.Gaps = detectFVGs(&w, a.cfg.FVGMinSize)
	s.Sweeps = detectSweeps(&w, swings, a.cfg.SweepDistance)

	if n := len(atr); n > 0 {
		s.ATR = atr[n-1]
	}
	return s
}
