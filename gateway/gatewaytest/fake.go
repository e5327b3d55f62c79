// Package gatewaytest provides a scripted in-memory gateway for unit
// tests. Failures are injected per operation and every call is
// recorded.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/duotrade/core"
)

// Fake is a programmable core.Gateway. Zero value is not usable; build
// with New.
type Fake struct {
	mu sync.Mutex

	Info    core.SymbolInfo
	Acct    core.Account
	BarData []core.Bar
	Now     time.Time

	nextTicket int64
	positions  map[int64]*core.Position

	// failures maps an operation name to a queue of errors returned
	// before the operation starts succeeding again.
	failures map[string][]error

	// Calls records every operation in order, e.g. "modify_stop(1001)".
	Calls []string
}

// New builds a fake around one instrument.
func New(info core.SymbolInfo, equity float64) *Fake {
	return &Fake{
		Info: info,
		Acct: core.Account{
			Currency:   "USD",
			Balance:    equity,
			Equity:     equity,
			MarginFree: equity,
		},
		nextTicket: 5000,
		positions:  make(map[int64]*core.Position),
		failures:   make(map[string][]error),
	}
}

// FailNext queues errors an operation returns before recovering.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// ClosePositionAt simulates the broker closing a ticket (stop or target
// hit on the terminal side).
func (f *Fake) ClosePositionAt(ticket int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, ticket)
}

// OpenTickets returns the tickets currently alive, for assertions.
func (f *Fake) OpenTickets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for t := range f.positions {
		out = append(out, t)
	}
	return out
}

// PositionByTicket returns a snapshot of one position.
func (f *Fake) PositionByTicket(ticket int64) (core.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[ticket]
	if !ok {
		return core.Position{}, false
	}
	return *p, true
}

func (f *Fake) popFailure(op string) error {
	if queue := f.failures[op]; len(queue) > 0 {
		err := queue[0]
		f.failures[op] = queue[1:]
		return err
	}
	return nil
}

func (f *Fake) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallCount counts recorded calls whose name matches op.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.Calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			count++
		}
	}
	return count
}

// Connect implements core.Gateway.
func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("connect")
	return f.popFailure("connect")
}

// Disconnect implements core.Gateway.
func (f *Fake) Disconnect() error { return nil }

// SymbolInfo implements core.Gateway.
func (f *Fake) SymbolInfo(_ context.Context, symbol string) (core.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("symbol_info(%s)", symbol)
	if err := f.popFailure("symbol_info"); err != nil {
		return core.SymbolInfo{}, err
	}
	return f.Info, nil
}

// Account implements core.Gateway.
func (f *Fake) Account(context.Context) (core.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("account")
	if err := f.popFailure("account"); err != nil {
		return core.Account{}, err
	}
	return f.Acct, nil
}

// Tick implements core.Gateway.
func (f *Fake) Tick(_ context.Context, symbol string) (core.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tick(%s)", symbol)
	price := 0.0
	if n := len(f.BarData); n > 0 {
		price = f.BarData[n-1].Close
	}
	return core.Tick{Symbol: symbol, Time: f.Now, Bid: price, Ask: price}, nil
}

// Bars implements core.Gateway.
func (f *Fake) Bars(_ context.Context, symbol string, _ core.Timeframe, count int) ([]core.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("bars(%s,%d)", symbol, count)
	if err := f.popFailure("bars"); err != nil {
		return nil, err
	}
	bars := f.BarData
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]core.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// OpenMarket implements core.Gateway.
func (f *Fake) OpenMarket(_ context.Context, req core.OrderRequest) (core.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open_market(%s,%s,%.2f)", req.Symbol, req.Side, req.Volume)
	if err := f.popFailure("open_market"); err != nil {
		return core.Position{}, err
	}

	price := 0.0
	if n := len(f.BarData); n > 0 {
		price = f.BarData[n-1].Close
	}

	f.nextTicket++
	pos := core.Position{
		Ticket:   f.nextTicket,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Volume:   req.Volume,
		Entry:    price,
		Stop:     req.Stop,
		Target:   req.Target,
		OpenTime: f.Now,
		Magic:    req.Magic,
		Comment:  req.Comment,
	}
	f.positions[pos.Ticket] = &pos
	return pos, nil
}

// ModifyStop implements core.Gateway.
func (f *Fake) ModifyStop(_ context.Context, ticket int64, stop float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("modify_stop(%d)", ticket)
	if err := f.popFailure("modify_stop"); err != nil {
		return err
	}
	pos, ok := f.positions[ticket]
	if !ok {
		return core.NewGatewayError(core.GatewayRejected, "modify_stop", "", fmt.Errorf("unknown ticket %d", ticket))
	}
	pos.Stop = stop
	return nil
}

// ClosePosition implements core.Gateway.
func (f *Fake) ClosePosition(_ context.Context, ticket int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close_position(%d)", ticket)
	if err := f.popFailure("close_position"); err != nil {
		return err
	}
	if _, ok := f.positions[ticket]; !ok {
		return core.NewGatewayError(core.GatewayRejected, "close_position", "", fmt.Errorf("unknown ticket %d", ticket))
	}
	delete(f.positions, ticket)
	return nil
}

// Positions implements core.Gateway.
func (f *Fake) Positions(_ context.Context, symbol string, magic int64) ([]core.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("positions(%s,%d)", symbol, magic)
	if err := f.popFailure("positions"); err != nil {
		return nil, err
	}

	var out []core.Position
	for _, p := range f.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if magic != 0 && p.Magic != magic {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
