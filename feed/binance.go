package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/raykavin/duotrade/core"
)

// binanceIntervals maps terminal timeframe names to Binance kline
// interval strings.
var binanceIntervals = map[core.Timeframe]string{
	core.TimeframeM1:  "1m",
	core.TimeframeM5:  "5m",
	core.TimeframeM15: "15m",
	core.TimeframeM30: "30m",
	core.TimeframeH1:  "1h",
	core.TimeframeH4:  "4h",
	core.TimeframeD1:  "1d",
}

// Binance serves historical klines from the Binance spot API. Public
// kline endpoints work with empty credentials.
type Binance struct {
	client *binance.Client
}

// NewBinance builds the feeder. Credentials may be empty for history
// downloads.
func NewBinance(apiKey, secretKey string) *Binance {
	return &Binance{client: binance.NewClient(apiKey, secretKey)}
}

// BarsByPeriod implements core.Feeder.
func (b *Binance) BarsByPeriod(ctx context.Context, symbol string, tf core.Timeframe, start, end time.Time) ([]core.Bar, error) {
	interval, ok := binanceIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	data, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixNano() / int64(time.Millisecond)).
		EndTime(end.UnixNano() / int64(time.Millisecond)).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	bars := make([]core.Bar, 0, len(data))
	for _, k := range data {
		bars = append(bars, convertKline(symbol, k))
	}
	return bars, nil
}

// BarsByLimit implements core.Feeder. The forming kline is dropped so
// only closed bars come back.
func (b *Binance) BarsByLimit(ctx context.Context, symbol string, tf core.Timeframe, limit int) ([]core.Bar, error) {
	interval, ok := binanceIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	// +1 to account for the incomplete kline at the tail.
	data, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	bars := make([]core.Bar, 0, len(data))
	for i, k := range data {
		if i == len(data)-1 {
			break
		}
		bars = append(bars, convertKline(symbol, k))
	}
	return bars, nil
}

func convertKline(symbol string, k *binance.Kline) core.Bar {
	bar := core.Bar{
		Symbol:   symbol,
		Time:     time.Unix(0, k.OpenTime*int64(time.Millisecond)).UTC(),
		Complete: true,
	}
	bar.Open, _ = strconv.ParseFloat(k.Open, 64)
	bar.High, _ = strconv.ParseFloat(k.High, 64)
	bar.Low, _ = strconv.ParseFloat(k.Low, 64)
	bar.Close, _ = strconv.ParseFloat(k.Close, 64)
	bar.TickVolume, _ = strconv.ParseFloat(k.Volume, 64)
	return bar
}
