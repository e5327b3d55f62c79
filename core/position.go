package core

import (
	"fmt"
	"time"
)

// OrderRequest describes a market order to be sent to the gateway with an
// attached protective stop and target.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Volume    float64
	Stop      float64
	Target    float64
	Magic     int64
	Comment   string
	Deviation int // max slippage in points accepted by the broker
}

// Position is the gateway's view of an open position. The engine keeps
// only the ticket and the last observed snapshot; the broker owns the
// live state.
type Position struct {
	Ticket   int64
	Symbol   string
	Side     Side
	Volume   float64
	Entry    float64
	Stop     float64
	Target   float64
	OpenTime time.Time
	Magic    int64
	Comment  string

	// Profit is the floating PnL in account currency at snapshot time.
	Profit float64
}

// IsBuy returns true if the position is long.
func (p Position) IsBuy() bool { return p.Side == SideBuy }

// IsSell returns true if the position is short.
func (p Position) IsSell() bool { return p.Side == SideSell }

// String returns a human-readable representation of the position.
func (p Position) String() string {
	return fmt.Sprintf("#%d %s %s %.2f @ %.5f sl=%.5f tp=%.5f",
		p.Ticket, p.Side, p.Symbol, p.Volume, p.Entry, p.Stop, p.Target)
}
