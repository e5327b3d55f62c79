package risk

import (
	"fmt"
	"sync"
	"time"
)

// GovernorConfig bounds the whole account, across every symbol.
type GovernorConfig struct {
	MaxDailyLossPercent   float64
	MaxPositionsPerSymbol int
	MaxTotalPositions     int
}

// Governor is the account-wide ledger every worker consults before a new
// entry. It tracks open dual trades, realised and floating PnL for the
// UTC day, and operator halts. Workers push deltas and read snapshots;
// all access is serialised by one mutex.
type Governor struct {
	cfg GovernorConfig

	mu            sync.Mutex
	dayStart      time.Time
	dayOpenEquity float64
	realizedToday float64
	floating      map[string]float64
	openCount     map[string]int
	halted        map[string]bool
	lastEquity    float64
}

// Snapshot is a point-in-time read of the ledger.
type Snapshot struct {
	Day            time.Time
	DayOpenEquity  float64
	RealizedToday  float64
	FloatingPnL    float64
	OpenTotal      int
	DrawdownPct    float64
	TradingAllowed bool
}

// NewGovernor builds a governor with the given bounds. Zero limits mean
// unlimited, except MaxPositionsPerSymbol which defaults to one.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.MaxPositionsPerSymbol <= 0 {
		cfg.MaxPositionsPerSymbol = 1
	}
	return &Governor{
		cfg:       cfg,
		floating:  make(map[string]float64),
		openCount: make(map[string]int),
		halted:    make(map[string]bool),
	}
}

// SetEquity records the latest account equity observation. The first
// observation of a UTC day anchors the daily loss base.
func (g *Governor) SetEquity(equity float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)
	if g.dayOpenEquity == 0 {
		g.dayOpenEquity = equity
	}
	g.lastEquity = equity
}

// RegisterOpen counts a new dual trade against the symbol.
func (g *Governor) RegisterOpen(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCount[symbol]++
}

// RegisterClose releases the symbol's slot and books the realised PnL
// of the finished trade into the daily ledger.
func (g *Governor) RegisterClose(symbol string, pnl float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)
	if g.openCount[symbol] > 0 {
		g.openCount[symbol]--
	}
	delete(g.floating, symbol)
	g.realizedToday += pnl
}

// SetFloating updates the symbol's unrealised PnL contribution.
func (g *Governor) SetFloating(symbol string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.floating[symbol] = pnl
}

// Halt blocks new entries on a symbol until Resume. Used after an
// invariant violation and by operator commands.
func (g *Governor) Halt(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halted[symbol] = true
}

// Resume lifts an operator halt.
func (g *Governor) Resume(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.halted, symbol)
}

// Halted reports whether a symbol is blocked.
func (g *Governor) Halted(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted[symbol]
}

// Allows decides whether the symbol's worker may open a new dual trade
// now. A denial carries the reason for the log.
func (g *Governor) Allows(symbol string, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)

	if g.halted[symbol] {
		return false, fmt.Sprintf("symbol %s halted", symbol)
	}
	if g.openCount[symbol] >= g.cfg.MaxPositionsPerSymbol {
		return false, fmt.Sprintf("symbol %s at max positions (%d)", symbol, g.cfg.MaxPositionsPerSymbol)
	}
	if g.cfg.MaxTotalPositions > 0 && g.totalOpenLocked() >= g.cfg.MaxTotalPositions {
		return false, fmt.Sprintf("account at max total positions (%d)", g.cfg.MaxTotalPositions)
	}
	if dd := g.drawdownPctLocked(); g.cfg.MaxDailyLossPercent > 0 && dd >= g.cfg.MaxDailyLossPercent {
		return false, fmt.Sprintf("daily loss %.2f%% at limit %.2f%%", dd, g.cfg.MaxDailyLossPercent)
	}
	return true, ""
}

// Snapshot reads the current ledger state.
func (g *Governor) Snapshot(now time.Time) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)

	dd := g.drawdownPctLocked()
	return Snapshot{
		Day:            g.dayStart,
		DayOpenEquity:  g.dayOpenEquity,
		RealizedToday:  g.realizedToday,
		FloatingPnL:    g.floatingTotalLocked(),
		OpenTotal:      g.totalOpenLocked(),
		DrawdownPct:    dd,
		TradingAllowed: g.cfg.MaxDailyLossPercent <= 0 || dd < g.cfg.MaxDailyLossPercent,
	}
}

// rollDayLocked resets the daily ledger when a new UTC day begins. Open
// position counts survive the rollover; only the loss base resets.
func (g *Governor) rollDayLocked(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.Equal(g.dayStart) {
		return
	}
	g.dayStart = day
	g.realizedToday = 0
	g.dayOpenEquity = g.lastEquity
}

func (g *Governor) totalOpenLocked() int {
	total := 0
	for _, c := range g.openCount {
		total += c
	}
	return total
}

func (g *Governor) floatingTotalLocked() float64 {
	total := 0.0
	for _, f := range g.floating {
		total += f
	}
	return total
}

// drawdownPctLocked measures realised plus floating losses for the day
// against the day-open equity. Gains read as zero drawdown.
func (g *Governor) drawdownPctLocked() float64 {
	if g.dayOpenEquity <= 0 {
		return 0
	}
	pnl := g.realizedToday + g.floatingTotalLocked()
	if pnl >= 0 {
		return 0
	}
	return -pnl / g.dayOpenEquity * 100
}
