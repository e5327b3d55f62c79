package core

import (
	"fmt"
	"strconv"
	"time"
)

// Bar is a closed candle at a fixed timeframe.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64

	// TickVolume is the broker tick count for the period. Retail terminals
	// rarely expose real volume, so every volume-based rule runs on ticks.
	TickVolume float64

	Complete bool
}

// HL2 returns the bar midpoint used by volatility band indicators.
func (b Bar) HL2() float64 { return (b.High + b.Low) / 2 }

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool { return b.Close < b.Open }

// Range returns the full high-low extent of the bar.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	if b.Close > b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// IsEmpty checks if the bar contains no significant data.
func (b Bar) IsEmpty() bool {
	return b.Symbol == "" && b.Open == 0 && b.Close == 0 && b.TickVolume == 0
}

// ToSlice converts a bar to a string slice for CSV serialization
// with the specified decimal precision.
func (b Bar) ToSlice(precision int) []string {
	return []string{
		fmt.Sprintf("%d", b.Time.Unix()),
		strconv.FormatFloat(b.Open, 'f', precision, 64),
		strconv.FormatFloat(b.High, 'f', precision, 64),
		strconv.FormatFloat(b.Low, 'f', precision, 64),
		strconv.FormatFloat(b.Close, 'f', precision, 64),
		strconv.FormatFloat(b.TickVolume, 'f', 0, 64),
	}
}

// Before orders bars chronologically, breaking ties by symbol name.
// Multi-symbol replays rely on this to interleave histories.
func (b Bar) Before(other Bar) bool {
	if !b.Time.Equal(other.Time) {
		return b.Time.Before(other.Time)
	}
	return b.Symbol < other.Symbol
}

// Tick is a top-of-book quote snapshot from the gateway.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
}

// Mid returns the quote midpoint.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Spread returns the ask-bid distance in price units.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }
