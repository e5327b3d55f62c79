package core

import (
	"fmt"
	"math"
	"time"
)

// Side represents the direction of an order (BUY or SELL)
type Side string

// Order side constants
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the reverse side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is a strategy's request to enter the market. Entry is the close
// of the bar that produced it; the paired targets derive from the stop
// distance, leg1 at one risk unit and leg2 at the configured ratio.
type Signal struct {
	Symbol     string
	Side       Side
	Entry      float64
	Stop       float64
	TargetMain float64

	// Confidence grades the setup from 0 to 100. Informational only;
	// sizing never scales with it.
	Confidence float64

	Reason   string
	Strategy string
	BarTime  time.Time
	Metadata map[string]float64
}

// RiskDistance returns the absolute entry-stop distance, one R.
func (s *Signal) RiskDistance() float64 {
	return math.Abs(s.Entry - s.Stop)
}

// Target1R returns the one-risk-unit target for the first leg.
func (s *Signal) Target1R() float64 {
	if s.Side == SideBuy {
		return s.Entry + s.RiskDistance()
	}
	return s.Entry - s.RiskDistance()
}

// TargetAt returns the target at an arbitrary risk multiple.
func (s *Signal) TargetAt(rr float64) float64 {
	if s.Side == SideBuy {
		return s.Entry + rr*s.RiskDistance()
	}
	return s.Entry - rr*s.RiskDistance()
}

// Validate rejects signals whose stop sits on the wrong side of entry,
// has zero distance, or whose main target contradicts the side.
func (s *Signal) Validate() error {
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("signal %s: unknown side %q", s.Symbol, s.Side)
	}
	if math.IsNaN(s.Entry) || math.IsNaN(s.Stop) || math.IsNaN(s.TargetMain) {
		return fmt.Errorf("signal %s: NaN price", s.Symbol)
	}
	switch s.Side {
	case SideBuy:
		if s.Stop >= s.Entry {
			return fmt.Errorf("signal %s BUY: stop %.5f not below entry %.5f", s.Symbol, s.Stop, s.Entry)
		}
		if s.TargetMain <= s.Entry {
			return fmt.Errorf("signal %s BUY: target %.5f not above entry %.5f", s.Symbol, s.TargetMain, s.Entry)
		}
	case SideSell:
		if s.Stop <= s.Entry {
			return fmt.Errorf("signal %s SELL: stop %.5f not above entry %.5f", s.Symbol, s.Stop, s.Entry)
		}
		if s.TargetMain >= s.Entry {
			return fmt.Errorf("signal %s SELL: target %.5f not below entry %.5f", s.Symbol, s.TargetMain, s.Entry)
		}
	}
	return nil
}

// String returns a human-readable representation of the signal.
func (s *Signal) String() string {
	return fmt.Sprintf("[%s] %s %s entry=%.5f stop=%.5f target=%.5f conf=%.0f (%s)",
		s.Strategy, s.Side, s.Symbol, s.Entry, s.Stop, s.TargetMain, s.Confidence, s.Reason)
}
