package core

import (
	"time"
)

// Dataframe is a time series container for OHLCV and custom indicator data
type Dataframe struct {
	Symbol string

	Open       Series[float64]
	High       Series[float64]
	Low        Series[float64]
	Close      Series[float64]
	TickVolume Series[float64]

	Time       []time.Time
	LastUpdate time.Time

	// Custom indicator columns keyed by name
	Metadata map[string]Series[float64]
}

// NewDataframe creates an empty dataframe for a symbol.
func NewDataframe(symbol string) *Dataframe {
	return &Dataframe{
		Symbol:   symbol,
		Metadata: make(map[string]Series[float64]),
	}
}

// Len returns the number of bars held by the dataframe.
func (df *Dataframe) Len() int {
	return len(df.Time)
}

// Push appends a bar to the dataframe or, when the bar carries the same
// open time as the last entry, replaces it in place. Indicator columns are
// not touched; strategies rebuild them on each cycle.
func (df *Dataframe) Push(b Bar) {
	if n := len(df.Time); n > 0 && b.Time.Equal(df.Time[n-1]) {
		df.Open[n-1] = b.Open
		df.High[n-1] = b.High
		df.Low[n-1] = b.Low
		df.Close[n-1] = b.Close
		df.TickVolume[n-1] = b.TickVolume
		df.LastUpdate = b.Time
		return
	}

	df.Open = append(df.Open, b.Open)
	df.High = append(df.High, b.High)
	df.Low = append(df.Low, b.Low)
	df.Close = append(df.Close, b.Close)
	df.TickVolume = append(df.TickVolume, b.TickVolume)
	df.Time = append(df.Time, b.Time)
	df.LastUpdate = b.Time
}

// Reset drops every bar and indicator column, keeping the symbol. Workers
// call it before reloading history from the gateway.
func (df *Dataframe) Reset() {
	df.Open = nil
	df.High = nil
	df.Low = nil
	df.Close = nil
	df.TickVolume = nil
	df.Time = nil
	df.Metadata = make(map[string]Series[float64])
}

// LastBar returns the most recent bar in the frame.
func (df *Dataframe) LastBar() Bar {
	n := len(df.Time)
	return Bar{
		Symbol:     df.Symbol,
		Time:       df.Time[n-1],
		Open:       df.Open[n-1],
		High:       df.High[n-1],
		Low:        df.Low[n-1],
		Close:      df.Close[n-1],
		TickVolume: df.TickVolume[n-1],
		Complete:   true,
	}
}

// Sample returns a subset of the dataframe with the last 'positions' elements
// Used for windowing operations on a dataframe
func (df *Dataframe) Sample(positions int) Dataframe {
	size := len(df.Time)
	start := size - positions

	// Return the entire dataframe if requested sample is larger than dataframe
	if start <= 0 {
		return *df
	}

	sample := Dataframe{
		Symbol:     df.Symbol,
		Open:       df.Open.LastValues(positions),
		High:       df.High.LastValues(positions),
		Low:        df.Low.LastValues(positions),
		Close:      df.Close.LastValues(positions),
		TickVolume: df.TickVolume.LastValues(positions),
		Time:       df.Time[start:],
		LastUpdate: df.LastUpdate,
		Metadata:   make(map[string]Series[float64]),
	}

	// Also copy metadata series
	for key := range df.Metadata {
		sample.Metadata[key] = df.Metadata[key].LastValues(positions)
	}

	return sample
}

// FromBars builds a dataframe from a chronological bar slice.
func FromBars(symbol string, bars []Bar) *Dataframe {
	df := NewDataframe(symbol)
	for _, b := range bars {
		df.Push(b)
	}
	return df
}
