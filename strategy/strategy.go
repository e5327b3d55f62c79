// Package strategy holds the signal generators the per-symbol workers
// run. Strategies are plain values behind the core.Strategy contract;
// order placement, sizing, and scheduling live elsewhere.
package strategy

import (
	"fmt"
	"math"

	"github.com/raykavin/duotrade/core"
)

// Base carries the order and risk parameters every strategy shares.
// Strategy-specific parameter structs embed it.
type Base struct {
	Symbol            string
	Timeframe         core.Timeframe
	RiskPercent       float64
	RRRatio           float64
	SLMultiplier      float64
	MoveSLToBreakeven bool
	UseTrailing       bool
	MagicNumber       int64
	MaxPositions      int
}

// Validate rejects parameter combinations no strategy can trade on.
func (b Base) Validate() error {
	if b.Symbol == "" {
		return &core.ConfigError{Field: "symbol", Detail: "symbol is required"}
	}
	if !b.Timeframe.Valid() {
		return &core.ConfigError{Field: "timeframe", Detail: fmt.Sprintf("unknown timeframe %q", b.Timeframe)}
	}
	if b.RiskPercent <= 0 || b.RiskPercent > 10 {
		return &core.ConfigError{Field: "risk_percent", Detail: fmt.Sprintf("risk_percent %.2f outside (0, 10]", b.RiskPercent)}
	}
	if b.RRRatio < 1 {
		return &core.ConfigError{Field: "rr_ratio", Detail: fmt.Sprintf("rr_ratio %.2f below 1", b.RRRatio)}
	}
	if b.MagicNumber <= 0 {
		return &core.ConfigError{Field: "magic_number", Detail: "magic_number must be positive"}
	}
	return nil
}

// buildSignal assembles a validated signal from an entry decision. The
// main target derives from the stop distance and the configured reward
// ratio. Returns nil when the stop sits on the wrong side or at entry.
func buildSignal(b Base, strategyName string, df *core.Dataframe, side core.Side, stop float64, confidence float64, reason string, metadata map[string]float64) *core.Signal {
	entry := df.Close.Last(0)
	if math.IsNaN(entry) || math.IsNaN(stop) {
		return nil
	}

	s := &core.Signal{
		Symbol:     b.Symbol,
		Side:       side,
		Entry:      entry,
		Stop:       stop,
		Confidence: confidence,
		Reason:     reason,
		Strategy:   strategyName,
		BarTime:    df.LastUpdate,
		Metadata:   metadata,
	}
	s.TargetMain = s.TargetAt(b.RRRatio)

	if err := s.Validate(); err != nil {
		return nil
	}
	return s
}

// clampConfidence grades a raw performance score into [0, 100]. Negative
// scores read as an unproven regime and settle at the midpoint.
func clampConfidence(perf float64) float64 {
	if math.IsNaN(perf) || perf < 0 {
		return 50
	}
	return math.Min(100, perf*10)
}
