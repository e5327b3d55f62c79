// Package sim implements a synthetic broker gateway driven by a bar
// history. Backtests, demo profiles, and dry runs trade against it with
// the exact gateway contract the live engine uses.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/risk"
)

// ClosedPosition is a terminated position with its realised outcome.
type ClosedPosition struct {
	core.Position
	ClosePrice float64
	CloseTime  time.Time
	Profit     float64
	ExitReason core.ExitReason
}

// Gateway is the simulated broker. One mutex serialises every call;
// fills happen only inside Advance, bar by bar, stop before target.
type Gateway struct {
	mu        sync.Mutex
	connected bool

	balance  float64
	currency string

	symbols map[string]core.SymbolInfo
	history map[string][]core.Bar
	cursor  map[string]int

	nextTicket int64
	positions  map[int64]*core.Position
	closed     []ClosedPosition

	// commission is the round-trip cost per lot, charged on close.
	commission float64
	// slippagePoints worsens every market fill by this many points.
	slippagePoints float64
}

// Option configures the simulated gateway.
type Option func(*Gateway)

// WithBalance seeds the account balance.
func WithBalance(balance float64) Option {
	return func(g *Gateway) { g.balance = balance }
}

// WithCommission sets the per-lot round-trip commission.
func WithCommission(perLot float64) Option {
	return func(g *Gateway) { g.commission = perLot }
}

// WithSlippage worsens market fills by the given number of points.
func WithSlippage(points float64) Option {
	return func(g *Gateway) { g.slippagePoints = points }
}

// WithSymbol registers an instrument and its bar history.
func WithSymbol(info core.SymbolInfo, bars []core.Bar) Option {
	return func(g *Gateway) {
		g.symbols[info.Name] = info
		g.history[info.Name] = bars
		g.cursor[info.Name] = 0
	}
}

// New builds a simulated gateway.
func New(options ...Option) *Gateway {
	g := &Gateway{
		balance:    10000,
		currency:   "USD",
		symbols:    make(map[string]core.SymbolInfo),
		history:    make(map[string][]core.Bar),
		cursor:     make(map[string]int),
		positions:  make(map[int64]*core.Position),
		nextTicket: 1000,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Connect implements core.Gateway.
func (g *Gateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

// Disconnect implements core.Gateway.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

// SymbolInfo implements core.Gateway.
func (g *Gateway) SymbolInfo(_ context.Context, symbol string) (core.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("symbol_info", symbol); err != nil {
		return core.SymbolInfo{}, err
	}
	info, ok := g.symbols[symbol]
	if !ok {
		return core.SymbolInfo{}, core.NewGatewayError(core.GatewayRejected, "symbol_info", symbol, fmt.Errorf("unknown symbol"))
	}
	return info, nil
}

// Account implements core.Gateway. Equity marks open positions to the
// current bar close.
func (g *Gateway) Account(_ context.Context) (core.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("account", ""); err != nil {
		return core.Account{}, err
	}

	equity := g.balance
	for _, p := range g.positions {
		equity += g.floatingLocked(p)
	}
	return core.Account{
		Currency:   g.currency,
		Balance:    g.balance,
		Equity:     equity,
		MarginFree: equity,
	}, nil
}

// Tick implements core.Gateway using the current bar close as both
// sides of the book.
func (g *Gateway) Tick(_ context.Context, symbol string) (core.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("tick", symbol); err != nil {
		return core.Tick{}, err
	}
	bar, ok := g.currentBarLocked(symbol)
	if !ok {
		return core.Tick{}, core.NewGatewayError(core.GatewayRejected, "tick", symbol, fmt.Errorf("no bar data"))
	}
	return core.Tick{Symbol: symbol, Time: bar.Time, Bid: bar.Close, Ask: bar.Close}, nil
}

// Bars implements core.Gateway, returning up to count bars ending at
// the replay cursor, chronological.
func (g *Gateway) Bars(_ context.Context, symbol string, _ core.Timeframe, count int) ([]core.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("bars", symbol); err != nil {
		return nil, err
	}
	bars, ok := g.history[symbol]
	if !ok {
		return nil, core.NewGatewayError(core.GatewayRejected, "bars", symbol, fmt.Errorf("unknown symbol"))
	}

	end := g.cursor[symbol] + 1
	if end > len(bars) {
		end = len(bars)
	}
	start := end - count
	if start < 0 {
		start = 0
	}
	out := make([]core.Bar, end-start)
	copy(out, bars[start:end])
	return out, nil
}

// OpenMarket implements core.Gateway. Fills at the current bar close
// worsened by the configured slippage.
func (g *Gateway) OpenMarket(_ context.Context, req core.OrderRequest) (core.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("open_market", req.Symbol); err != nil {
		return core.Position{}, err
	}

	info, ok := g.symbols[req.Symbol]
	if !ok {
		return core.Position{}, core.NewGatewayError(core.GatewayRejected, "open_market", req.Symbol, fmt.Errorf("unknown symbol"))
	}
	if req.Volume < info.VolumeMin || (info.VolumeMax > 0 && req.Volume > info.VolumeMax) {
		return core.Position{}, core.NewGatewayError(core.GatewayInvalidVolume, "open_market", req.Symbol,
			fmt.Errorf("volume %.2f outside [%.2f, %.2f]", req.Volume, info.VolumeMin, info.VolumeMax))
	}

	bar, ok := g.currentBarLocked(req.Symbol)
	if !ok {
		return core.Position{}, core.NewGatewayError(core.GatewayRejected, "open_market", req.Symbol, fmt.Errorf("no bar data"))
	}

	fill := bar.Close
	if req.Side == core.SideBuy {
		fill += g.slippagePoints * info.Point
	} else {
		fill -= g.slippagePoints * info.Point
	}

	if err := validStops(req.Side, fill, req.Stop, req.Target); err != nil {
		return core.Position{}, core.NewGatewayError(core.GatewayInvalidStops, "open_market", req.Symbol, err)
	}

	g.nextTicket++
	pos := core.Position{
		Ticket:   g.nextTicket,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Volume:   req.Volume,
		Entry:    fill,
		Stop:     req.Stop,
		Target:   req.Target,
		OpenTime: bar.Time,
		Magic:    req.Magic,
		Comment:  req.Comment,
	}
	g.positions[pos.Ticket] = &pos

	snapshot := pos
	return snapshot, nil
}

// ModifyStop implements core.Gateway.
func (g *Gateway) ModifyStop(_ context.Context, ticket int64, stop float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("modify_stop", ""); err != nil {
		return err
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return core.NewGatewayError(core.GatewayRejected, "modify_stop", "", fmt.Errorf("unknown ticket %d", ticket))
	}

	bar, _ := g.currentBarLocked(pos.Symbol)
	if pos.Side == core.SideBuy && stop >= bar.Close || pos.Side == core.SideSell && stop <= bar.Close {
		return core.NewGatewayError(core.GatewayInvalidStops, "modify_stop", pos.Symbol,
			fmt.Errorf("stop %.5f through market %.5f", stop, bar.Close))
	}
	pos.Stop = stop
	return nil
}

// ClosePosition implements core.Gateway, filling at the current close.
func (g *Gateway) ClosePosition(_ context.Context, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("close_position", ""); err != nil {
		return err
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return core.NewGatewayError(core.GatewayRejected, "close_position", "", fmt.Errorf("unknown ticket %d", ticket))
	}
	bar, _ := g.currentBarLocked(pos.Symbol)
	g.closeLocked(pos, bar.Close, bar.Time, core.ExitManual)
	return nil
}

// Positions implements core.Gateway.
func (g *Gateway) Positions(_ context.Context, symbol string, magic int64) ([]core.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureConnected("positions", symbol); err != nil {
		return nil, err
	}

	var out []core.Position
	for _, p := range g.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if magic != 0 && p.Magic != magic {
			continue
		}
		snapshot := *p
		snapshot.Profit = g.floatingLocked(p)
		out = append(out, snapshot)
	}
	return out, nil
}

// Advance moves the replay cursor one bar forward and settles stops and
// targets against the new bar. The stop is always checked first to
// model the worst-case intra-bar path. Returns false when the history
// is exhausted.
func (g *Gateway) Advance(symbol string) (core.Bar, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	bars := g.history[symbol]
	next := g.cursor[symbol] + 1
	if next >= len(bars) {
		return core.Bar{}, false
	}
	g.cursor[symbol] = next
	bar := bars[next]

	for _, p := range g.positions {
		if p.Symbol != symbol {
			continue
		}
		g.settleLocked(p, bar)
	}
	return bar, true
}

// Append extends a symbol's history with bars strictly newer than the
// last known one, returning how many were taken. The demo profile's
// feed pump uses it to stream live bars into the replay machinery;
// call Advance afterwards to settle positions against them.
func (g *Gateway) Append(symbol string, bars []core.Bar) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	history := g.history[symbol]
	var last time.Time
	if len(history) > 0 {
		last = history[len(history)-1].Time
	}

	appended := 0
	for _, bar := range bars {
		if !bar.Time.After(last) {
			continue
		}
		history = append(history, bar)
		last = bar.Time
		appended++
	}
	g.history[symbol] = history
	return appended
}

// CurrentBar returns the bar at the replay cursor.
func (g *Gateway) CurrentBar(symbol string) (core.Bar, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentBarLocked(symbol)
}

// ClosedPositions returns every settled position, chronological.
func (g *Gateway) ClosedPositions() []ClosedPosition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ClosedPosition, len(g.closed))
	copy(out, g.closed)
	return out
}

// Balance returns the realised account balance.
func (g *Gateway) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}

func (g *Gateway) ensureConnected(op, symbol string) error {
	if !g.connected {
		return core.NewGatewayError(core.GatewayNotConnected, op, symbol, nil)
	}
	return nil
}

func (g *Gateway) currentBarLocked(symbol string) (core.Bar, bool) {
	bars, ok := g.history[symbol]
	if !ok || len(bars) == 0 {
		return core.Bar{}, false
	}
	return bars[g.cursor[symbol]], true
}

// settleLocked closes the position if the bar crossed its stop or
// target, stop first.
func (g *Gateway) settleLocked(p *core.Position, bar core.Bar) {
	switch p.Side {
	case core.SideBuy:
		if p.Stop > 0 && bar.Low <= p.Stop {
			g.closeLocked(p, p.Stop, bar.Time, stopReason(p))
			return
		}
		if p.Target > 0 && bar.High >= p.Target {
			g.closeLocked(p, p.Target, bar.Time, core.ExitTarget)
		}
	case core.SideSell:
		if p.Stop > 0 && bar.High >= p.Stop {
			g.closeLocked(p, p.Stop, bar.Time, stopReason(p))
			return
		}
		if p.Target > 0 && bar.Low <= p.Target {
			g.closeLocked(p, p.Target, bar.Time, core.ExitTarget)
		}
	}
}

func (g *Gateway) closeLocked(p *core.Position, price float64, t time.Time, reason core.ExitReason) {
	profit := g.profitLocked(p, price)
	g.balance += profit
	g.closed = append(g.closed, ClosedPosition{
		Position:   *p,
		ClosePrice: price,
		CloseTime:  t,
		Profit:     profit,
		ExitReason: reason,
	})
	delete(g.positions, p.Ticket)
}

func (g *Gateway) floatingLocked(p *core.Position) float64 {
	bar, ok := g.currentBarLocked(p.Symbol)
	if !ok {
		return 0
	}
	return g.profitLocked(p, bar.Close)
}

// profitLocked prices the move from entry to exit with the instrument's
// per-lot value, minus the round-trip commission.
func (g *Gateway) profitLocked(p *core.Position, price float64) float64 {
	info := g.symbols[p.Symbol]
	move := price - p.Entry
	if p.Side == core.SideSell {
		move = -move
	}

	var value float64
	if move >= 0 {
		value = risk.RiskPerLot(move, info) * p.Volume
	} else {
		value = -risk.RiskPerLot(-move, info) * p.Volume
	}
	return value - g.commission*p.Volume
}

// stopReason distinguishes a breakeven exit from a loss when the stop
// was promoted to or past the entry.
func stopReason(p *core.Position) core.ExitReason {
	if p.Side == core.SideBuy && p.Stop >= p.Entry || p.Side == core.SideSell && p.Stop <= p.Entry {
		return core.ExitBreakeven
	}
	return core.ExitStop
}

func validStops(side core.Side, fill, stop, target float64) error {
	switch side {
	case core.SideBuy:
		if stop > 0 && stop >= fill {
			return fmt.Errorf("buy stop %.5f above fill %.5f", stop, fill)
		}
		if target > 0 && target <= fill {
			return fmt.Errorf("buy target %.5f below fill %.5f", target, fill)
		}
	case core.SideSell:
		if stop > 0 && stop <= fill {
			return fmt.Errorf("sell stop %.5f below fill %.5f", stop, fill)
		}
		if target > 0 && target >= fill {
			return fmt.Errorf("sell target %.5f above fill %.5f", target, fill)
		}
	}
	return nil
}
