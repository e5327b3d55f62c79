package core

import "math"

// SymbolInfo carries the broker metadata needed to price and size orders
// on an instrument.
type SymbolInfo struct {
	Name         string
	Digits       int
	Point        float64
	ContractSize float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	TickSize     float64
	TickValue    float64

	// CurrencyPair marks instruments priced in pip mechanics (forex).
	// Linear-quote instruments (index and crypto CFDs) leave it false.
	CurrencyPair bool
}

// NewSymbolInfo creates a SymbolInfo instance with validation.
func NewSymbolInfo(name string, digits int, point, contractSize, volMin, volMax, volStep, tickSize, tickValue float64, currencyPair bool) (SymbolInfo, error) {
	info := SymbolInfo{
		Name:         name,
		Digits:       digits,
		Point:        point,
		ContractSize: contractSize,
		VolumeMin:    volMin,
		VolumeMax:    volMax,
		VolumeStep:   volStep,
		TickSize:     tickSize,
		TickValue:    tickValue,
		CurrencyPair: currencyPair,
	}
	return info, info.Validate()
}

// Pip returns the pip size of the instrument. Brokers quoting fractional
// pips (3 or 5 digits) keep the pip one magnitude above the point.
func (s SymbolInfo) Pip() float64 {
	if s.Digits == 3 || s.Digits == 5 {
		return s.Point * 10
	}
	return s.Point
}

// RoundPrice normalizes a price to the instrument's digit count.
func (s SymbolInfo) RoundPrice(price float64) float64 {
	factor := math.Pow(10, float64(s.Digits))
	return math.Round(price*factor) / factor
}

// ClampVolume snaps a volume down to the lot step and clamps it to the
// broker's bounds. A non-positive input returns zero.
func (s SymbolInfo) ClampVolume(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	if s.VolumeStep > 0 {
		volume = math.Floor(volume/s.VolumeStep) * s.VolumeStep
		// Flooring in binary floats leaves residue like 0.30000000000000004.
		volume = math.Round(volume/s.VolumeStep) * s.VolumeStep
	}
	if volume < s.VolumeMin {
		return s.VolumeMin
	}
	if s.VolumeMax > 0 && volume > s.VolumeMax {
		return s.VolumeMax
	}
	return volume
}

// Validate ensures the instrument metadata is usable for sizing.
func (s SymbolInfo) Validate() error {
	if s.Name == "" {
		return ErrSymbolEmpty
	}
	if s.Point <= 0 || s.TickSize <= 0 {
		return ErrInvalidPoint
	}
	if s.VolumeMin <= 0 || s.VolumeStep <= 0 {
		return ErrInvalidVolumeBounds
	}
	if s.ContractSize <= 0 {
		return ErrInvalidContractSize
	}
	return nil
}
