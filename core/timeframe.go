package core

import (
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Timeframe is a terminal-style bar period identifier.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// durationSpec maps terminal names to the duration grammar understood by
// the parser ("5m", "4h", "1d").
var durationSpec = map[Timeframe]string{
	TimeframeM1:  "1m",
	TimeframeM5:  "5m",
	TimeframeM15: "15m",
	TimeframeM30: "30m",
	TimeframeH1:  "1h",
	TimeframeH4:  "4h",
	TimeframeD1:  "1d",
}

// Valid reports whether tf is a recognised timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := durationSpec[tf]
	return ok
}

// Duration returns the bar period length.
func (tf Timeframe) Duration() (time.Duration, error) {
	spec, ok := durationSpec[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return str2duration.ParseDuration(spec)
}

// Truncate aligns t down to the open time of the bar containing it.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	d, err := tf.Duration()
	if err != nil {
		return t
	}
	return t.UTC().Truncate(d)
}

// Stale reports whether a bar opened at barTime is too old to act on at
// the evaluation time now. The allowance is two full periods: the open
// of the last closed bar plus the forming bar.
func (tf Timeframe) Stale(barTime, now time.Time) bool {
	d, err := tf.Duration()
	if err != nil {
		return true
	}
	return now.Sub(barTime) > 2*d
}

// ParseTimeframe validates a configuration string into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", &ConfigError{Field: "timeframe", Detail: fmt.Sprintf("unknown timeframe %q", s)}
	}
	return tf, nil
}
