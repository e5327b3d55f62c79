// Package feed provides core.Feeder implementations: CSV files for
// backtests and the Binance kline API for crypto history, plus a
// downloader that materialises any feeder into CSV.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/samber/lo"
)

// ErrInsufficientData is returned when there is not enough data to
// fulfill a request.
var ErrInsufficientData = errors.New("insufficient data")

// defaultColumns is the column layout written by the downloader and
// assumed for headerless files.
var defaultColumns = map[string]int{
	"time": 0, "open": 1, "high": 2, "low": 3, "close": 4, "volume": 5,
}

// SymbolFile binds one instrument to its CSV history.
type SymbolFile struct {
	Symbol    string
	Path      string
	Timeframe core.Timeframe
}

// CSVFeed serves bar history loaded from CSV files. Files may carry a
// header row naming the columns; headerless files use the downloader's
// layout. Source bars are resampled when the file timeframe is finer
// than the requested one.
type CSVFeed struct {
	bars map[string][]core.Bar
}

// NewCSVFeed loads every file and resamples each to the target
// timeframe when needed.
func NewCSVFeed(target core.Timeframe, files ...SymbolFile) (*CSVFeed, error) {
	f := &CSVFeed{bars: make(map[string][]core.Bar)}

	for _, file := range files {
		bars, err := readBarsFromCSV(file)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", file.Path, err)
		}
		if file.Timeframe != target {
			bars, err = Resample(bars, file.Timeframe, target)
			if err != nil {
				return nil, fmt.Errorf("resample %s: %w", file.Path, err)
			}
		}
		f.bars[feedKey(file.Symbol, target)] = bars
	}
	return f, nil
}

// BarsByPeriod implements core.Feeder.
func (f *CSVFeed) BarsByPeriod(_ context.Context, symbol string, tf core.Timeframe, start, end time.Time) ([]core.Bar, error) {
	bars, ok := f.bars[feedKey(symbol, tf)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrInsufficientData, symbol, tf)
	}
	return lo.Filter(bars, func(b core.Bar, _ int) bool {
		return !b.Time.Before(start) && !b.Time.After(end)
	}), nil
}

// BarsByLimit implements core.Feeder, returning the most recent bars.
func (f *CSVFeed) BarsByLimit(_ context.Context, symbol string, tf core.Timeframe, limit int) ([]core.Bar, error) {
	bars, ok := f.bars[feedKey(symbol, tf)]
	if !ok || len(bars) < limit {
		return nil, fmt.Errorf("%w: %s %s", ErrInsufficientData, symbol, tf)
	}
	out := make([]core.Bar, limit)
	copy(out, bars[len(bars)-limit:])
	return out, nil
}

func feedKey(symbol string, tf core.Timeframe) string {
	return fmt.Sprintf("%s--%s", symbol, tf)
}

func readBarsFromCSV(file SymbolFile) ([]core.Bar, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrInsufficientData
	}

	columns, hasHeader := parseColumns(lines[0])
	if hasHeader {
		lines = lines[1:]
	}

	bars := make([]core.Bar, 0, len(lines))
	for _, line := range lines {
		bar, err := parseBarFromLine(line, columns, file.Symbol)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseColumns decides whether the first row is a header. A numeric
// first cell means data starts immediately and the default layout
// applies.
func parseColumns(row []string) (map[string]int, bool) {
	if _, err := strconv.Atoi(row[0]); err == nil {
		return defaultColumns, false
	}
	columns := make(map[string]int, len(row))
	for i, name := range row {
		columns[name] = i
	}
	return columns, true
}

func parseBarFromLine(line []string, columns map[string]int, symbol string) (core.Bar, error) {
	timestamp, err := strconv.ParseInt(line[columns["time"]], 10, 64)
	if err != nil {
		return core.Bar{}, err
	}

	bar := core.Bar{
		Symbol:   symbol,
		Time:     time.Unix(timestamp, 0).UTC(),
		Complete: true,
	}
	if bar.Open, err = strconv.ParseFloat(line[columns["open"]], 64); err != nil {
		return core.Bar{}, err
	}
	if bar.High, err = strconv.ParseFloat(line[columns["high"]], 64); err != nil {
		return core.Bar{}, err
	}
	if bar.Low, err = strconv.ParseFloat(line[columns["low"]], 64); err != nil {
		return core.Bar{}, err
	}
	if bar.Close, err = strconv.ParseFloat(line[columns["close"]], 64); err != nil {
		return core.Bar{}, err
	}
	if bar.TickVolume, err = strconv.ParseFloat(line[columns["volume"]], 64); err != nil {
		return core.Bar{}, err
	}
	return bar, nil
}

// Resample aggregates bars into a coarser timeframe by open-time
// bucket. The final bucket is kept only when its source bars fill the
// whole period.
func Resample(bars []core.Bar, source, target core.Timeframe) ([]core.Bar, error) {
	srcDur, err := source.Duration()
	if err != nil {
		return nil, err
	}
	tgtDur, err := target.Duration()
	if err != nil {
		return nil, err
	}
	if tgtDur < srcDur {
		return nil, fmt.Errorf("cannot resample %s down to %s", source, target)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	out := make([]core.Bar, 0, len(bars)/int(tgtDur/srcDur)+1)
	var current core.Bar
	inBucket := false

	for _, b := range bars {
		bucket := target.Truncate(b.Time)
		if !inBucket || !current.Time.Equal(bucket) {
			if inBucket {
				out = append(out, current)
			}
			current = core.Bar{
				Symbol: b.Symbol, Time: bucket,
				Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
				TickVolume: b.TickVolume, Complete: true,
			}
			inBucket = true
			continue
		}
		if b.High > current.High {
			current.High = b.High
		}
		if b.Low < current.Low {
			current.Low = b.Low
		}
		current.Close = b.Close
		current.TickVolume += b.TickVolume
	}

	// The trailing bucket counts only when its last source bar closes
	// the period.
	last := bars[len(bars)-1]
	if last.Time.Add(srcDur).Equal(current.Time.Add(tgtDur)) {
		out = append(out, current)
	}
	return out, nil
}
