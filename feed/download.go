package feed

import (
	"context"
	"encoding/csv"
	"os"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
	"github.com/schollz/progressbar/v3"
)

// batchSize bounds how many bars one feeder request asks for.
const batchSize = 500

// csvHeaders is the column layout of downloaded files, matching what
// CSVFeed reads back.
var csvHeaders = []string{"time", "open", "high", "low", "close", "volume"}

// Downloader materialises a feeder's history into a CSV file the
// backtester can replay.
type Downloader struct {
	feeder core.Feeder
	log    logger.Logger
}

// NewDownloader builds a downloader over any feeder.
func NewDownloader(feeder core.Feeder, log logger.Logger) Downloader {
	return Downloader{feeder: feeder, log: log}
}

// Parameters defines the time range for a download.
type Parameters struct {
	Start     time.Time
	End       time.Time
	Precision int
}

// Option configures download parameters.
type Option func(*Parameters)

// WithInterval sets explicit start and end times.
func WithInterval(start, end time.Time) Option {
	return func(p *Parameters) {
		p.Start = start
		p.End = end
	}
}

// WithDays downloads the trailing number of days.
func WithDays(days int) Option {
	return func(p *Parameters) {
		p.Start = time.Now().AddDate(0, 0, -days)
		p.End = time.Now()
	}
}

// WithPrecision sets the decimal places written for prices.
func WithPrecision(digits int) Option {
	return func(p *Parameters) { p.Precision = digits }
}

// Download fetches the symbol's bars batch by batch and writes them to
// outputPath. Defaults to the trailing month at 5 decimal places.
func (d Downloader) Download(ctx context.Context, symbol string, tf core.Timeframe, outputPath string, options ...Option) error {
	now := time.Now()
	params := &Parameters{
		Start:     now.AddDate(0, -1, 0),
		End:       now,
		Precision: 5,
	}
	for _, option := range options {
		option(params)
	}
	normalizeRange(params)

	interval, err := tf.Duration()
	if err != nil {
		return err
	}
	barCount := int(params.End.Sub(params.Start)/interval) + 1

	file, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d.log.Infof("downloading %d bars of %s for %s", barCount, tf, symbol)

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeaders); err != nil {
		return err
	}

	progress := progressbar.Default(int64(barCount))
	missing := 0

	for batchStart := params.Start; batchStart.Before(params.End); batchStart = batchStart.Add(interval * batchSize) {
		batchEnd := batchStart.Add(interval*batchSize - time.Second)
		lastBatch := false
		if !batchEnd.Before(params.End) {
			batchEnd = params.End
			lastBatch = true
		}

		bars, err := d.feeder.BarsByPeriod(ctx, symbol, tf, batchStart, batchEnd)
		if err != nil {
			return err
		}
		for _, bar := range bars {
			if err := writer.Write(bar.ToSlice(params.Precision)); err != nil {
				return err
			}
		}

		if !lastBatch && len(bars) < batchSize {
			missing += batchSize - len(bars)
		}
		if err := progress.Add(len(bars)); err != nil {
			d.log.Warnf("update progressbar fail: %v", err)
		}
	}

	if err := progress.Close(); err != nil {
		d.log.Warnf("close progressbar fail: %v", err)
	}
	if missing > 0 {
		d.log.Warnf("%d missing bars in %s history", missing, symbol)
	}

	writer.Flush()
	return writer.Error()
}

// normalizeRange aligns the download window to day boundaries and
// clamps the end to now.
func normalizeRange(p *Parameters) {
	p.Start = time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, time.UTC)
	now := time.Now()
	if p.End.After(now) {
		p.End = now
	} else {
		p.End = time.Date(p.End.Year(), p.End.Month(), p.End.Day(), 0, 0, 0, 0, time.UTC)
	}
}
