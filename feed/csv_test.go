package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
	"github.com/stretchr/testify/require"
)

var feedStart = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func m5Bars(n int) []core.Bar {
	bars := make([]core.Bar, 0, n)
	for i := 0; i < n; i++ {
		price := 1.10000 + float64(i)*0.00010
		bars = append(bars, core.Bar{
			Symbol: "EURUSD", Time: feedStart.Add(time.Duration(i) * 5 * time.Minute),
			Open: price, High: price + 0.00020, Low: price - 0.00020, Close: price + 0.00010,
			TickVolume: float64(100 + i), Complete: true,
		})
	}
	return bars
}

func writeCSV(t *testing.T, bars []core.Bar, header bool) string {
	t.Helper()
	var sb strings.Builder
	if header {
		sb.WriteString("time,open,high,low,close,volume\n")
	}
	for _, b := range bars {
		sb.WriteString(strings.Join(b.ToSlice(5), ","))
		sb.WriteString("\n")
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestCSVFeedRoundTrip(t *testing.T) {
	bars := m5Bars(12)
	path := writeCSV(t, bars, true)

	f, err := NewCSVFeed(core.TimeframeM5, SymbolFile{Symbol: "EURUSD", Path: path, Timeframe: core.TimeframeM5})
	require.NoError(t, err)

	got, err := f.BarsByLimit(context.Background(), "EURUSD", core.TimeframeM5, 12)
	require.NoError(t, err)
	require.Len(t, got, 12)
	require.Equal(t, bars[0].Time, got[0].Time)
	require.InDelta(t, bars[3].High, got[3].High, 1e-9)
	require.InDelta(t, bars[11].TickVolume, got[11].TickVolume, 1e-9)
	require.True(t, got[0].Complete)
}

func TestCSVFeedHeaderless(t *testing.T) {
	bars := m5Bars(4)
	path := writeCSV(t, bars, false)

	f, err := NewCSVFeed(core.TimeframeM5, SymbolFile{Symbol: "EURUSD", Path: path, Timeframe: core.TimeframeM5})
	require.NoError(t, err)

	got, err := f.BarsByLimit(context.Background(), "EURUSD", core.TimeframeM5, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.InDelta(t, bars[2].Close, got[2].Close, 1e-9)
}

func TestCSVFeedBarsByPeriod(t *testing.T) {
	bars := m5Bars(12)
	path := writeCSV(t, bars, true)
	f, err := NewCSVFeed(core.TimeframeM5, SymbolFile{Symbol: "EURUSD", Path: path, Timeframe: core.TimeframeM5})
	require.NoError(t, err)

	got, err := f.BarsByPeriod(context.Background(), "EURUSD",
		core.TimeframeM5, bars[2].Time, bars[5].Time)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, bars[2].Time, got[0].Time)
	require.Equal(t, bars[5].Time, got[3].Time)
}

func TestCSVFeedInsufficientData(t *testing.T) {
	path := writeCSV(t, m5Bars(3), true)
	f, err := NewCSVFeed(core.TimeframeM5, SymbolFile{Symbol: "EURUSD", Path: path, Timeframe: core.TimeframeM5})
	require.NoError(t, err)

	_, err = f.BarsByLimit(context.Background(), "EURUSD", core.TimeframeM5, 10)
	require.ErrorIs(t, err, ErrInsufficientData)
	_, err = f.BarsByLimit(context.Background(), "GBPUSD", core.TimeframeM5, 1)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestResampleM5ToM15(t *testing.T) {
	// Twelve M5 bars starting on an M15 boundary make exactly four M15
	// bars.
	bars := m5Bars(12)
	out, err := Resample(bars, core.TimeframeM5, core.TimeframeM15)
	require.NoError(t, err)
	require.Len(t, out, 4)

	first := out[0]
	require.Equal(t, feedStart, first.Time)
	require.InDelta(t, bars[0].Open, first.Open, 1e-9)
	require.InDelta(t, bars[2].Close, first.Close, 1e-9)
	require.InDelta(t, bars[2].High, first.High, 1e-9) // highs rise with the index
	require.InDelta(t, bars[0].Low, first.Low, 1e-9)
	require.InDelta(t, bars[0].TickVolume+bars[1].TickVolume+bars[2].TickVolume, first.TickVolume, 1e-9)
}

func TestResampleDropsPartialTail(t *testing.T) {
	// Eleven M5 bars leave the last M15 bucket one bar short.
	out, err := Resample(m5Bars(11), core.TimeframeM5, core.TimeframeM15)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestResampleRejectsDownsampling(t *testing.T) {
	_, err := Resample(m5Bars(3), core.TimeframeM5, core.TimeframeM1)
	require.Error(t, err)
}

// sliceFeeder serves a fixed bar slice, for downloader tests.
type sliceFeeder struct{ bars []core.Bar }

func (s *sliceFeeder) BarsByPeriod(_ context.Context, _ string, _ core.Timeframe, start, end time.Time) ([]core.Bar, error) {
	var out []core.Bar
	for _, b := range s.bars {
		if !b.Time.Before(start) && !b.Time.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *sliceFeeder) BarsByLimit(_ context.Context, _ string, _ core.Timeframe, limit int) ([]core.Bar, error) {
	if len(s.bars) < limit {
		return nil, ErrInsufficientData
	}
	return s.bars[len(s.bars)-limit:], nil
}

func TestDownloadWritesReadableCSV(t *testing.T) {
	// A full day of M5 bars so the day-aligned window covers them.
	dayStart := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, 0, 288)
	for i := 0; i < 288; i++ {
		price := 1.10000 + float64(i%50)*0.00010
		bars = append(bars, core.Bar{
			Symbol: "EURUSD", Time: dayStart.Add(time.Duration(i) * 5 * time.Minute),
			Open: price, High: price + 0.0002, Low: price - 0.0002, Close: price + 0.0001,
			TickVolume: 100, Complete: true,
		})
	}

	path := filepath.Join(t.TempDir(), "eurusd_m5.csv")
	d := NewDownloader(&sliceFeeder{bars: bars}, logger.Discard())
	err := d.Download(context.Background(), "EURUSD", core.TimeframeM5, path,
		WithInterval(dayStart, dayStart.AddDate(0, 0, 1)))
	require.NoError(t, err)

	f, err := NewCSVFeed(core.TimeframeM5, SymbolFile{Symbol: "EURUSD", Path: path, Timeframe: core.TimeframeM5})
	require.NoError(t, err)
	got, err := f.BarsByLimit(context.Background(), "EURUSD", core.TimeframeM5, 288)
	require.NoError(t, err)
	require.Equal(t, bars[0].Time, got[0].Time)
	require.InDelta(t, bars[10].Close, got[10].Close, 1e-9)
}
