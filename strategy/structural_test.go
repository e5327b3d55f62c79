package strategy

import (
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/structure"
	"github.com/stretchr/testify/require"
)

func structuralConfig() StructuralConfig {
	return StructuralConfig{
		Base: Base{
			Symbol:       "EURUSD",
			Timeframe:    core.TimeframeH1,
			RiskPercent:  1,
			RRRatio:      2,
			SLMultiplier: 1,
			MagicNumber:  20240302,
		},
		LookbackCandles:    16,
		Fractal:            2,
		ATRPeriod:          5,
		FVGMinSize:         0.1,
		LiquiditySweepPips: 20,
		PipSize:            0.01,
		UseMarketStructure: true,
		UseOrderBlocks:     true,
		UseFVG:             true,
		UseLiquiditySweeps: false,
		MinConfluence:      2,
	}
}

func structFrame(t *testing.T, open, high, low, close []float64) *core.Dataframe {
	t.Helper()
	df := core.NewDataframe("EURUSD")
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := range close {
		df.Push(core.Bar{
			Symbol: "EURUSD", Time: start.Add(time.Duration(i) * time.Hour),
			Open: open[i], High: high[i], Low: low[i], Close: close[i],
			TickVolume: 100, Complete: true,
		})
	}
	return df
}

// bosWithGapFrame is a bullish sequence: swing low 10.0 (bar 2), swing
// high 13.0 (bar 6), higher low 11.0 (bar 8), higher high 14.8 (bar 9),
// then an impulse leaving an unfilled bullish gap between 14.0 and 15.0
// (bars 12-14) and a final close at 15.2 breaking the last swing high.
func bosWithGapFrame(t *testing.T) *core.Dataframe {
	open := []float64{11.0, 11.2, 10.6, 10.2, 10.9, 11.4, 12.3, 12.0, 11.7, 11.9, 14.5, 13.8, 13.5, 13.9, 15.0, 15.2}
	high := []float64{11.5, 11.3, 10.8, 11.0, 11.6, 12.5, 13.0, 12.8, 12.0, 14.8, 14.6, 14.2, 14.0, 15.1, 15.3, 15.3}
	low := []float64{10.8, 10.4, 10.0, 10.1, 10.8, 11.3, 11.8, 11.5, 11.0, 11.2, 13.6, 13.0, 13.4, 13.8, 15.0, 15.05}
	close := []float64{11.2, 10.6, 10.2, 10.9, 11.4, 12.3, 12.0, 11.7, 11.9, 14.5, 13.8, 13.5, 13.9, 15.0, 15.2, 15.2}
	return structFrame(t, open, high, low, close)
}

// neutralFrame oscillates between identical peaks and troughs, so the
// swing ordering resolves neither bullish nor bearish.
func neutralFrame(t *testing.T) *core.Dataframe {
	open := make([]float64, 16)
	high := make([]float64, 16)
	low := make([]float64, 16)
	close := make([]float64, 16)
	for i := 0; i < 16; i++ {
		switch i % 4 {
		case 0:
			open[i], high[i], low[i], close[i] = 11.0, 12.0, 10.9, 11.8
		case 1:
			open[i], high[i], low[i], close[i] = 11.8, 11.9, 11.0, 11.2
		case 2:
			open[i], high[i], low[i], close[i] = 11.2, 11.3, 10.0, 10.4
		case 3:
			open[i], high[i], low[i], close[i] = 10.4, 11.1, 10.3, 11.0
		}
	}
	return structFrame(t, open, high, low, close)
}

func TestStructuralConfigValidate(t *testing.T) {
	cfg := structuralConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.MinConfluence = 5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MinConfluence = 1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.UseMarketStructure = false
	bad.UseOrderBlocks = false
	bad.UseFVG = false
	bad.MinConfluence = 2
	require.Error(t, bad.Validate(), "confluence threshold above enabled families")

	bad = cfg
	bad.LookbackCandles = 5
	require.Error(t, bad.Validate())
}

func TestStructuralEmitsOnBullishConfluence(t *testing.T) {
	s, err := NewStructural(structuralConfig())
	require.NoError(t, err)

	df := bosWithGapFrame(t)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.NotNil(t, signal)

	require.Equal(t, core.SideBuy, signal.Side)
	require.InDelta(t, 15.2, signal.Entry, 1e-9)
	require.Less(t, signal.Stop, signal.Entry)
	require.NoError(t, signal.Validate())
	require.GreaterOrEqual(t, signal.Metadata["confluence"], 2.0)
}

func TestStructuralNeutralTrendBlocksSignal(t *testing.T) {
	s, err := NewStructural(structuralConfig())
	require.NoError(t, err)

	df := neutralFrame(t)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal, "neutral structure must not trade regardless of confluence")
}

func TestStructuralConfluenceBelowThreshold(t *testing.T) {
	cfg := structuralConfig()
	cfg.MinConfluence = 3
	cfg.UseLiquiditySweeps = true
	s, err := NewStructural(cfg)
	require.NoError(t, err)

	df := bosWithGapFrame(t)
	s.Indicators(df)

	// Structure and gap align but no block holds price and no sweep is
	// recent: two confluences cannot clear a threshold of three.
	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal)
}

func TestStructuralInsufficientBars(t *testing.T) {
	s, err := NewStructural(structuralConfig())
	require.NoError(t, err)

	df := structFrame(t,
		[]float64{1, 1, 1},
		[]float64{2, 2, 2},
		[]float64{0.5, 0.5, 0.5},
		[]float64{1.5, 1.5, 1.5},
	)
	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal)
}

func TestStructuralStopHonoursATRFloor(t *testing.T) {
	s, err := NewStructural(structuralConfig())
	require.NoError(t, err)

	df := bosWithGapFrame(t)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.NotNil(t, signal)

	atr := signal.Metadata["atr"]
	require.Greater(t, atr, 0.0)
	require.GreaterOrEqual(t, signal.Entry-signal.Stop, atrStopFloor*atr-1e-9)
}

func TestStructuralAlignmentRequiresBreakDirection(t *testing.T) {
	s, err := NewStructural(structuralConfig())
	require.NoError(t, err)

	// A bullish change of character inside a bearish trend points away
	// from a sell and must not count toward one.
	sum := &structure.Summary{
		Trend:            structure.TrendBearish,
		LastEvent:        structure.EventCHoCH,
		LastEventBullish: true,
		LastHigh:         1.2000,
		LastLow:          1.1900,
	}
	require.False(t, s.structureAligned(sum, false))
	require.True(t, s.structureAligned(sum, true))

	// A continuation break of the swing low keeps the sell confluence.
	sum.LastEvent = structure.EventBOS
	sum.LastEventBullish = false
	require.True(t, s.structureAligned(sum, false))
	require.False(t, s.structureAligned(sum, true))

	// No break, no confluence.
	sum.LastEvent = structure.EventNone
	require.False(t, s.structureAligned(sum, false))
	require.False(t, s.structureAligned(sum, true))
}
