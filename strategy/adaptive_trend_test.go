package strategy

import (
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/stretchr/testify/require"
)

func adaptiveConfig() AdaptiveTrendConfig {
	return AdaptiveTrendConfig{
		Base: Base{
			Symbol:      "EURUSD",
			Timeframe:   core.TimeframeH1,
			RiskPercent: 1,
			RRRatio:     2,
			MagicNumber: 20240301,
		},
		MinFactor:        1,
		MaxFactor:        3,
		FactorStep:       1,
		ATRPeriod:        14,
		PerfAlpha:        10,
		ClusterChoice:    ClusterBest,
		VolumeMAPeriod:   20,
		VolumeMultiplier: 2,
		TrailActivation:  1,
	}
}

// declineThenSpike builds a long one-percent-per-bar decline followed by
// a single thirty-percent up bar on heavy volume. The jump clears every
// factor's locked upper band, so each SuperTrend in the sweep flips up
// on the final bar.
func declineThenSpike(t *testing.T, declineBars int) *core.Dataframe {
	t.Helper()

	df := core.NewDataframe("EURUSD")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < declineBars; i++ {
		next := price * 0.99
		df.Push(core.Bar{
			Symbol: "EURUSD", Time: start.Add(time.Duration(i) * time.Hour),
			Open: price, High: price, Low: next, Close: next,
			TickVolume: 100, Complete: true,
		})
		price = next
	}
	df.Push(core.Bar{
		Symbol: "EURUSD", Time: start.Add(time.Duration(declineBars) * time.Hour),
		Open: price, High: price * 1.3, Low: price, Close: price * 1.3,
		TickVolume: 1000, Complete: true,
	})
	return df
}

func TestAdaptiveTrendConfigValidate(t *testing.T) {
	cfg := adaptiveConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.FactorStep = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MaxFactor = 0.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.ClusterChoice = "middling"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.RiskPercent = 0
	require.Error(t, bad.Validate())
}

func TestAdaptiveTrendEmitsBuyOnVolumeBackedFlip(t *testing.T) {
	s, err := NewAdaptiveTrend(adaptiveConfig())
	require.NoError(t, err)

	df := declineThenSpike(t, 120)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.NotNil(t, signal)

	require.Equal(t, core.SideBuy, signal.Side)
	require.InDelta(t, df.Close.Last(0), signal.Entry, 1e-9)
	require.Less(t, signal.Stop, signal.Entry)
	require.Greater(t, signal.TargetMain, signal.Entry)
	require.NoError(t, signal.Validate())
	require.Contains(t, signal.Metadata, "factor")
	require.Contains(t, signal.Metadata, "perf")
}

func TestAdaptiveTrendVolumeFilterRejectsFlip(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.VolumeMultiplier = 20 // demands volume the spike bar cannot supply
	s, err := NewAdaptiveTrend(cfg)
	require.NoError(t, err)

	df := declineThenSpike(t, 120)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal, "flip on thin volume must not trade")
}

func TestAdaptiveTrendInsufficientBars(t *testing.T) {
	s, err := NewAdaptiveTrend(adaptiveConfig())
	require.NoError(t, err)

	df := declineThenSpike(t, 40)
	s.Indicators(df)

	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal)
}

func TestAdaptiveTrendNoFlipNoSignal(t *testing.T) {
	s, err := NewAdaptiveTrend(adaptiveConfig())
	require.NoError(t, err)

	// Pure decline, no reversal: every factor stays in a downtrend.
	df := declineThenSpike(t, 120)
	df.Time = df.Time[:len(df.Time)-1]
	df.Open = df.Open[:len(df.Open)-1]
	df.High = df.High[:len(df.High)-1]
	df.Low = df.Low[:len(df.Low)-1]
	df.Close = df.Close[:len(df.Close)-1]
	df.TickVolume = df.TickVolume[:len(df.TickVolume)-1]
	df.LastUpdate = df.Time[len(df.Time)-1]

	s.Indicators(df)
	signal, err := s.OnBar(df)
	require.NoError(t, err)
	require.Nil(t, signal)
}

func TestAdaptiveTrendDeterministic(t *testing.T) {
	df := declineThenSpike(t, 120)

	s1, err := NewAdaptiveTrend(adaptiveConfig())
	require.NoError(t, err)
	s2, err := NewAdaptiveTrend(adaptiveConfig())
	require.NoError(t, err)

	e1 := s1.evaluate(df)
	e2 := s2.evaluate(df)

	require.True(t, e1.sufficient)
	require.Equal(t, e1.factor, e2.factor)
	require.Equal(t, e1.perf, e2.perf)
	require.Equal(t, e1.centroids, e2.centroids)
}

func TestAdaptiveTrendTrailStopOnlyTightens(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.UseTrailing = true
	s, err := NewAdaptiveTrend(cfg)
	require.NoError(t, err)

	df := declineThenSpike(t, 120)
	s.Indicators(df)
	require.True(t, s.eval.sufficient)

	entry := df.Close.Last(0)
	line := s.eval.chosen.Line[len(s.eval.chosen.Line)-1]

	// Stop already at the band: no proposal.
	trade := &core.DualTrade{Side: core.SideBuy, Entry: entry, SharedStop: line}
	_, ok := s.TrailStop(df, trade)
	require.False(t, ok)

	// Stop below the band and price well past activation: propose the band.
	trade = &core.DualTrade{Side: core.SideBuy, Entry: entry * 0.7, SharedStop: line * 0.5}
	stop, ok := s.TrailStop(df, trade)
	require.True(t, ok)
	require.InDelta(t, line, stop, 1e-9)
}
