package core

import (
	"fmt"
	"strings"
	"time"
)

// DualState labels the lifecycle stage of a paired trade.
type DualState string

const (
	DualStateBothOpen   DualState = "BOTH_OPEN"
	DualStateLeg1Only   DualState = "LEG1_ONLY"
	DualStateLeg2Only   DualState = "LEG2_ONLY"
	DualStateLeg2OnlyBE DualState = "LEG2_ONLY_BE"
	DualStateTerminated DualState = "TERMINATED"
)

// ExitReason explains how a leg left the market.
type ExitReason string

const (
	ExitStop      ExitReason = "STOP"
	ExitTarget    ExitReason = "TARGET"
	ExitBreakeven ExitReason = "BREAKEVEN"
	ExitManual    ExitReason = "MANUAL"
	ExitEndOfData ExitReason = "END_OF_DATA"
)

// Leg is one of the two positions opened for a signal. Leg 1 targets one
// risk unit, leg 2 the configured reward ratio.
type Leg struct {
	Number int // 1 or 2
	Ticket int64
	Volume float64
	Entry  float64
	Target float64

	Closed     bool
	ClosePrice float64
	CloseTime  time.Time
	Profit     float64
	ExitReason ExitReason
}

// DualTrade owns the ticket pair placed for one accepted signal. It is the
// single record the engine mutates while the trade lives: shared stop,
// breakeven promotion, and leg closures all land here. All cross-lookup
// goes through the manager's symbol map; legs never reference each other.
type DualTrade struct {
	ID       int64
	Symbol   string
	Side     Side
	Strategy string
	Magic    int64

	Signal *Signal

	// Entry is the fill price of the runner leg; the breakeven promotion
	// pins leg 2 to its own fill, not to the signal's intent.
	Entry       float64
	SharedStop  float64
	InitialStop float64

	Leg1 Leg
	Leg2 Leg

	// BreakevenApplied is monotonic. Once true it never resets while the
	// trade exists, and the shared stop may not retreat behind entry.
	BreakevenApplied bool

	OpenTime  time.Time
	CloseTime time.Time

	// RiskAmount is the money at risk per leg at open, account currency.
	RiskAmount float64
}

// State derives the lifecycle stage from the leg flags so that no stored
// field can disagree with the observed tickets.
func (t *DualTrade) State() DualState {
	switch {
	case !t.Leg1.Closed && !t.Leg2.Closed:
		return DualStateBothOpen
	case t.Leg1.Closed && !t.Leg2.Closed:
		if t.BreakevenApplied {
			return DualStateLeg2OnlyBE
		}
		return DualStateLeg2Only
	case !t.Leg1.Closed && t.Leg2.Closed:
		return DualStateLeg1Only
	default:
		return DualStateTerminated
	}
}

// Finished reports whether both legs are closed.
func (t *DualTrade) Finished() bool {
	return t.Leg1.Closed && t.Leg2.Closed
}

// OpenLegs returns pointers to the legs still alive at the broker.
func (t *DualTrade) OpenLegs() []*Leg {
	var open []*Leg
	if !t.Leg1.Closed {
		open = append(open, &t.Leg1)
	}
	if !t.Leg2.Closed {
		open = append(open, &t.Leg2)
	}
	return open
}

// LegByTicket resolves a gateway ticket to the owning leg, or nil.
func (t *DualTrade) LegByTicket(ticket int64) *Leg {
	if t.Leg1.Ticket == ticket {
		return &t.Leg1
	}
	if t.Leg2.Ticket == ticket {
		return &t.Leg2
	}
	return nil
}

// Profit sums the realised PnL of both legs.
func (t *DualTrade) Profit() float64 {
	var total float64
	if t.Leg1.Closed {
		total += t.Leg1.Profit
	}
	if t.Leg2.Closed {
		total += t.Leg2.Profit
	}
	return total
}

// R returns the initial risk distance in price units.
func (t *DualTrade) R() float64 {
	if t.Entry > t.InitialStop {
		return t.Entry - t.InitialStop
	}
	return t.InitialStop - t.Entry
}

// String returns a human-readable representation of the trade.
func (t *DualTrade) String() string {
	return fmt.Sprintf("%s %s %s entry=%.5f stop=%.5f legs=[#%d tp=%.5f, #%d tp=%.5f] state=%s",
		t.Strategy, t.Side, t.Symbol, t.Entry, t.SharedStop,
		t.Leg1.Ticket, t.Leg1.Target, t.Leg2.Ticket, t.Leg2.Target, t.State())
}

// LegComment builds the broker comment stamped on a leg's order. Together
// with the magic number it is how the engine recognises its own positions
// after a reconnect.
func LegComment(strategy string, side Side, leg int) string {
	return fmt.Sprintf("%s_%s_RR%d", strings.ToUpper(strategy), side, leg)
}

// ParseLegComment recovers the strategy, side, and leg number from an
// order comment. ok is false for comments not written by this engine.
func ParseLegComment(comment string) (strategy string, side Side, leg int, ok bool) {
	parts := strings.Split(comment, "_")
	if len(parts) < 3 {
		return "", "", 0, false
	}

	switch parts[len(parts)-1] {
	case "RR1":
		leg = 1
	case "RR2":
		leg = 2
	default:
		return "", "", 0, false
	}

	switch Side(parts[len(parts)-2]) {
	case SideBuy:
		side = SideBuy
	case SideSell:
		side = SideSell
	default:
		return "", "", 0, false
	}

	strategy = strings.Join(parts[:len(parts)-2], "_")
	if strategy == "" {
		return "", "", 0, false
	}
	return strategy, side, leg, true
}
