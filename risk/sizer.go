// Package risk converts signals into broker volumes and enforces the
// account-level limits that gate new entries.
package risk

import (
	"math"

	"github.com/raykavin/duotrade/core"
)

// minLotOverrunTolerance is how far past the risk budget the minimum
// lot may reach before the signal is rejected instead of rounded up.
const minLotOverrunTolerance = 0.10

// Sizer turns a signal's stop distance into a per-leg lot size from
// account equity and the configured risk percentage.
type Sizer struct {
	// AllowMinLotOverride accepts the broker minimum lot even when it
	// risks more than the budget allows.
	AllowMinLotOverride bool
}

// Sizing is the outcome of a size computation for one leg.
type Sizing struct {
	Lot float64
	// RiskAmount is the budgeted risk in account currency for one leg.
	RiskAmount float64
	// ImpliedRisk is the risk the snapped lot actually carries.
	ImpliedRisk float64
}

// Size computes the lot for one leg of a dual trade. The same volume is
// used for both legs, so the effective exposure of an accepted signal is
// twice the returned risk.
func (s Sizer) Size(equity float64, signal *core.Signal, info core.SymbolInfo, riskPercent float64) (Sizing, error) {
	if equity <= 0 {
		return Sizing{}, &core.SizingError{Symbol: info.Name, Reason: core.SizingReasonBalanceTooSmall}
	}

	riskAmount := equity * riskPercent / 100
	distance := signal.RiskDistance()
	if distance <= 0 {
		return Sizing{}, &core.SizingError{Symbol: info.Name, Reason: "zero stop distance"}
	}

	riskPerLot := RiskPerLot(distance, info)
	if riskPerLot <= 0 {
		return Sizing{}, &core.SizingError{Symbol: info.Name, Reason: "unpriceable instrument"}
	}

	raw := riskAmount / riskPerLot
	lot := info.ClampVolume(raw)
	if lot <= 0 {
		return Sizing{}, &core.SizingError{Symbol: info.Name, Reason: core.SizingReasonBalanceTooSmall, Risk: riskAmount}
	}

	implied := lot * riskPerLot
	if lot == info.VolumeMin && implied > riskAmount*(1+minLotOverrunTolerance) && !s.AllowMinLotOverride {
		return Sizing{}, &core.SizingError{
			Symbol: info.Name,
			Reason: core.SizingReasonBalanceTooSmall,
			Lot:    lot,
			Risk:   implied,
		}
	}

	return Sizing{Lot: lot, RiskAmount: riskAmount, ImpliedRisk: implied}, nil
}

// RiskPerLot prices one full lot's exposure over a stop distance.
// Currency pairs run on tick mechanics; linear-quote instruments on the
// contract size directly.
func RiskPerLot(distance float64, info core.SymbolInfo) float64 {
	if math.IsNaN(distance) || distance <= 0 {
		return 0
	}
	if info.CurrencyPair {
		if info.TickSize <= 0 || info.TickValue <= 0 {
			return 0
		}
		ticksAtRisk := distance / info.TickSize
		return ticksAtRisk * info.TickValue
	}
	return distance * info.ContractSize
}
