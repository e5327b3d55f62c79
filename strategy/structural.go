package strategy

import (
	"fmt"
	"math"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/structure"
)

// sweepRecencyBars is how far back a liquidity sweep still counts as
// recent context for a new entry.
const sweepRecencyBars = 10

// fvgNearMargin lets price sit just past a gap's edge, as a fraction of
// the gap height, and still count the confluence.
const fvgNearMargin = 0.25

// atrStopFloor is the minimum stop distance in ATRs. Structural stops
// tighter than this get widened to it.
const atrStopFloor = 1.5

// StructuralConfig parametrises the market-structure strategy.
type StructuralConfig struct {
	Base

	LookbackCandles int
	Fractal         int
	ATRPeriod       int

	FVGMinSize         float64
	LiquiditySweepPips float64

	// PipSize converts LiquiditySweepPips into price units. Wiring sets
	// it from the instrument's SymbolInfo.
	PipSize float64

	UseMarketStructure bool
	UseOrderBlocks     bool
	UseFVG             bool
	UseLiquiditySweeps bool

	// MinConfluence is how many enabled families must align before an
	// entry, between 2 and 4.
	MinConfluence int
}

// Validate extends the base checks with structural bounds.
func (c StructuralConfig) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if c.LookbackCandles < 10 {
		return &core.ConfigError{Field: "lookback_candles", Detail: "lookback_candles below 10"}
	}
	if c.MinConfluence < 2 || c.MinConfluence > 4 {
		return &core.ConfigError{Field: "min_confluence", Detail: fmt.Sprintf("min_confluence %d outside [2, 4]", c.MinConfluence)}
	}
	enabled := 0
	for _, on := range []bool{c.UseMarketStructure, c.UseOrderBlocks, c.UseFVG, c.UseLiquiditySweeps} {
		if on {
			enabled++
		}
	}
	if enabled < c.MinConfluence {
		return &core.ConfigError{Field: "min_confluence", Detail: fmt.Sprintf("min_confluence %d exceeds the %d enabled families", c.MinConfluence, enabled)}
	}
	return nil
}

// Structural trades confluences of market structure: trend alignment,
// active order blocks, unfilled fair value gaps, and liquidity sweeps.
// An entry requires a non-neutral trend plus MinConfluence agreeing
// families; the stop hides beyond the protective zone with an ATR floor.
type Structural struct {
	cfg      StructuralConfig
	analyzer *structure.Analyzer
	summary  *structure.Summary
}

// NewStructural builds the strategy after validating its parameters.
func NewStructural(cfg StructuralConfig) (*Structural, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	analyzer := structure.NewAnalyzer(structure.Config{
		Lookback:      cfg.LookbackCandles,
		Fractal:       cfg.Fractal,
		FVGMinSize:    cfg.FVGMinSize,
		SweepDistance: cfg.LiquiditySweepPips * cfg.PipSize,
		ATRPeriod:     cfg.ATRPeriod,
	})
	return &Structural{cfg: cfg, analyzer: analyzer}, nil
}

// Name implements core.Strategy.
func (s *Structural) Name() string { return "STRUCT" }

// Timeframe implements core.Strategy.
func (s *Structural) Timeframe() core.Timeframe { return s.cfg.Timeframe }

// WarmupPeriod implements core.Strategy.
func (s *Structural) WarmupPeriod() int {
	warmup := s.cfg.LookbackCandles
	if p := s.cfg.ATRPeriod * 2; p > warmup {
		warmup = p
	}
	return warmup
}

// Indicators rescans the window's structure and publishes the swing
// levels for charts.
func (s *Structural) Indicators(df *core.Dataframe) {
	s.summary = s.analyzer.Scan(df)
	if s.summary == nil {
		return
	}

	n := df.Len()
	highs := make(core.Series[float64], n)
	lows := make(core.Series[float64], n)
	for i := range highs {
		highs[i] = s.summary.LastHigh
		lows[i] = s.summary.LastLow
	}
	df.Metadata["swing_high"] = highs
	df.Metadata["swing_low"] = lows
}

// OnBar counts the aligned confluence families and emits a signal when
// enough agree and the trend is resolved.
func (s *Structural) OnBar(df *core.Dataframe) (*core.Signal, error) {
	if df.Len() < s.WarmupPeriod() {
		return nil, nil
	}
	sum := s.summary
	if sum == nil {
		sum = s.analyzer.Scan(df)
		s.summary = sum
	}
	if sum == nil || sum.Trend == structure.TrendNeutral {
		return nil, nil
	}

	side := core.SideBuy
	bullish := sum.Trend == structure.TrendBullish
	if !bullish {
		side = core.SideSell
	}

	price := df.Close.Last(0)
	count := 0
	var reasons []byte

	block, inBlock := s.alignedBlock(sum, bullish, price)
	if s.cfg.UseMarketStructure && s.structureAligned(sum, bullish) {
		count++
		reasons = append(reasons, 'S')
	}
	if s.cfg.UseOrderBlocks && inBlock {
		count++
		reasons = append(reasons, 'B')
	}
	if s.cfg.UseFVG && s.alignedGap(sum, bullish, price) {
		count++
		reasons = append(reasons, 'G')
	}
	sweep, swept := s.recentSweep(sum, bullish, df.Len())
	if s.cfg.UseLiquiditySweeps && swept {
		count++
		reasons = append(reasons, 'L')
	}

	if count < s.cfg.MinConfluence {
		return nil, nil
	}

	stop := s.placeStop(df, sum, bullish, price, block, inBlock, sweep, swept)
	confidence := math.Min(100, float64(count)*25)
	reason := fmt.Sprintf("%s confluence %d/%d [%s]", sum.Trend, count, s.cfg.MinConfluence, reasons)
	metadata := map[string]float64{
		"confluence": float64(count),
		"atr":        sum.ATR,
	}

	return buildSignal(s.cfg.Base, s.Name(), df, side, stop, confidence, reason, metadata), nil
}

// structureAligned requires the latest break to point the trade's way:
// a continuation break in the trend direction, or the change of
// character that broke toward it. An opposing break is never a
// confluence, whatever the trend reads.
func (s *Structural) structureAligned(sum *structure.Summary, bullish bool) bool {
	if sum.LastEvent == structure.EventNone {
		return false
	}
	return sum.LastEventBullish == bullish
}

// alignedBlock finds the strongest active order block of the trade's
// direction containing price.
func (s *Structural) alignedBlock(sum *structure.Summary, bullish bool, price float64) (structure.OrderBlock, bool) {
	for _, b := range sum.OrderBlocks {
		if b.Bullish == bullish && b.Contains(price) {
			return b, true
		}
	}
	return structure.OrderBlock{}, false
}

// alignedGap reports whether price sits in, or just past, an active gap
// of the trade's direction.
func (s *Structural) alignedGap(sum *structure.Summary, bullish bool, price float64) bool {
	for _, g := range sum.Gaps {
		if g.Bullish == bullish && g.Near(price, fvgNearMargin) {
			return true
		}
	}
	return false
}

// recentSweep finds an aligned liquidity sweep within the last few bars
// of the window.
func (s *Structural) recentSweep(sum *structure.Summary, bullish bool, windowLen int) (structure.Sweep, bool) {
	horizon := windowLen
	if horizon > s.cfg.LookbackCandles {
		horizon = s.cfg.LookbackCandles
	}
	for i := len(sum.Sweeps) - 1; i >= 0; i-- {
		sw := sum.Sweeps[i]
		if sw.Bullish != bullish {
			continue
		}
		if horizon-sw.Index <= sweepRecencyBars {
			return sw, true
		}
	}
	return structure.Sweep{}, false
}

// placeStop hides the stop beyond the protective order block boundary or
// the sweep wick, whichever is farther, and never closer than the ATR
// floor scaled by the configured multiplier.
func (s *Structural) placeStop(df *core.Dataframe, sum *structure.Summary, bullish bool, price float64, block structure.OrderBlock, inBlock bool, sweep structure.Sweep, swept bool) float64 {
	floorMult := atrStopFloor
	if s.cfg.SLMultiplier > 0 {
		floorMult = atrStopFloor * s.cfg.SLMultiplier
	}
	minDist := floorMult * sum.ATR
	if math.IsNaN(minDist) || minDist <= 0 {
		minDist = price * 0.002
	}

	if bullish {
		stop := price - minDist
		if inBlock && block.Bottom < stop {
			stop = block.Bottom
		}
		if swept && sweep.Wick < stop {
			stop = sweep.Wick
		}
		return stop
	}

	stop := price + minDist
	if inBlock && block.Top > stop {
		stop = block.Top
	}
	if swept && sweep.Wick > stop {
		stop = sweep.Wick
	}
	return stop
}
