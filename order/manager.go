// Package order owns the dual-order lifecycle: placing the paired
// legs for an accepted signal, reconciling them against the broker,
// promoting the shared stop to breakeven, trailing, and force-closing.
package order

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/risk"
)

// stopEpsilon tolerates broker rounding when comparing the two legs'
// stops against each other.
const stopEpsilon = 1e-7

// Params is the per-symbol configuration the manager applies to every
// trade it opens on that symbol.
type Params struct {
	Strategy          string
	Magic             int64
	MoveSLToBreakeven bool
}

// PollResult is what one reconciliation pass observed.
type PollResult struct {
	// Trade is the live dual trade, nil when none is open.
	Trade *core.DualTrade
	// Finished is set when the trade terminated during this poll.
	Finished *core.DualTrade
	// Floating is the unrealised PnL of the open legs.
	Floating float64
}

// Manager places and tracks one DualTrade per symbol. All cross-lookup
// goes through its symbol map; legs never reference each other. A single
// mutex serialises every mutation, matching the one-worker-per-symbol
// ordering guarantee.
type Manager struct {
	mu sync.Mutex

	gw       core.Gateway
	repo     core.Repository
	notifier core.Notifier
	log      logger.Logger

	params  map[string]Params
	infos   map[string]core.SymbolInfo
	trades  map[string]*core.DualTrade
	results map[string]*TradeSummary

	nextID int64
	dryRun bool
}

// Option configures the manager.
type Option func(*Manager)

// WithRepository enables audit write-through. Persistence failures are
// logged and never block order flow.
func WithRepository(repo core.Repository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithNotifier routes trade events to a sink.
func WithNotifier(n core.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithDryRun makes Open a no-op that logs the would-be trade.
func WithDryRun(dryRun bool) Option {
	return func(m *Manager) { m.dryRun = dryRun }
}

// NewManager builds a dual-order manager over a gateway.
func NewManager(gw core.Gateway, log logger.Logger, options ...Option) *Manager {
	m := &Manager{
		gw:      gw,
		log:     log,
		params:  make(map[string]Params),
		infos:   make(map[string]core.SymbolInfo),
		trades:  make(map[string]*core.DualTrade),
		results: make(map[string]*TradeSummary),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// SetNotifier routes trade events to a sink. Notifiers that hold a
// reference back to the manager are attached here, after construction
// and before workers start.
func (m *Manager) SetNotifier(n core.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Register sets the per-symbol trade parameters. Must be called before
// the first Open on the symbol.
func (m *Manager) Register(symbol string, params Params, info core.SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[symbol] = params
	m.infos[symbol] = info
	if _, ok := m.results[symbol]; !ok {
		m.results[symbol] = NewTradeSummary(symbol)
	}
}

// Trade returns the live dual trade for the symbol, or nil.
func (m *Manager) Trade(symbol string) *core.DualTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[symbol]
}

// Summary returns the symbol's aggregated results.
func (m *Manager) Summary(symbol string) *TradeSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[symbol]
}

// Summaries returns every symbol's results.
func (m *Manager) Summaries() []*TradeSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TradeSummary, 0, len(m.results))
	for _, s := range m.results {
		out = append(out, s)
	}
	return out
}

// Open places the paired legs for a signal: identical side, volume, and
// stop, with the first leg targeting one risk unit and the second the
// configured ratio. If the second leg cannot be placed the first is
// rolled back; the engine never runs a half pair.
func (m *Manager) Open(ctx context.Context, signal *core.Signal, lot float64, riskAmount float64) (*core.DualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := signal.Symbol
	if t, ok := m.trades[symbol]; ok && !t.Finished() {
		return nil, core.ErrTradeOpen
	}
	params, ok := m.params[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not registered", symbol)
	}

	if m.dryRun {
		m.log.WithField("symbol", symbol).Infof("dry-run: would open %s", signal)
		return nil, nil
	}

	leg1Req := core.OrderRequest{
		Symbol:  symbol,
		Side:    signal.Side,
		Volume:  lot,
		Stop:    signal.Stop,
		Target:  signal.Target1R(),
		Magic:   params.Magic,
		Comment: core.LegComment(params.Strategy, signal.Side, 1),
	}
	leg2Req := leg1Req
	leg2Req.Target = signal.TargetMain
	leg2Req.Comment = core.LegComment(params.Strategy, signal.Side, 2)

	pos1, err := m.gw.OpenMarket(ctx, leg1Req)
	if err != nil {
		m.recordRejected(ctx, leg1Req, err)
		return nil, fmt.Errorf("open leg 1: %w", err)
	}

	pos2, err := m.gw.OpenMarket(ctx, leg2Req)
	if err != nil {
		m.recordRejected(ctx, leg2Req, err)
		// Half a pair is not a trade: roll leg 1 back.
		if cerr := m.gw.ClosePosition(ctx, pos1.Ticket); cerr != nil {
			m.log.WithError(cerr).WithField("symbol", symbol).
				Errorf("rollback of leg 1 ticket %d failed, manual intervention required", pos1.Ticket)
		}
		return nil, fmt.Errorf("open leg 2: %w", err)
	}

	m.nextID++
	trade := &core.DualTrade{
		ID:          m.nextID,
		Symbol:      symbol,
		Side:        signal.Side,
		Strategy:    params.Strategy,
		Magic:       params.Magic,
		Signal:      signal,
		Entry:       pos2.Entry,
		SharedStop:  signal.Stop,
		InitialStop: signal.Stop,
		Leg1: core.Leg{
			Number: 1, Ticket: pos1.Ticket, Volume: pos1.Volume,
			Entry: pos1.Entry, Target: pos1.Target,
		},
		Leg2: core.Leg{
			Number: 2, Ticket: pos2.Ticket, Volume: pos2.Volume,
			Entry: pos2.Entry, Target: pos2.Target,
		},
		OpenTime:   pos1.OpenTime,
		RiskAmount: riskAmount,
	}
	m.trades[symbol] = trade

	m.recordOpen(ctx, leg1Req, pos1)
	m.recordOpen(ctx, leg2Req, pos2)

	m.log.WithFields(map[string]any{
		"symbol": symbol,
		"side":   signal.Side,
		"lot":    lot,
	}).Infof("dual trade opened: %s", trade)

	if m.notifier != nil {
		m.notifier.OnTrade(trade)
	}
	return trade, nil
}

// Poll reconciles the symbol's dual trade against the gateway. Leg
// closures are observed by ticket disappearance; the exit price and
// reason are inferred from which level the last bar crossed. When leg 1
// has closed and breakeven promotion is configured, leg 2's stop moves
// to the trade entry exactly once.
func (m *Manager) Poll(ctx context.Context, symbol string, lastBar core.Bar) (PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[symbol]
	if !ok || trade.Finished() {
		return PollResult{}, nil
	}

	positions, err := m.gw.Positions(ctx, symbol, trade.Magic)
	if err != nil {
		return PollResult{Trade: trade}, fmt.Errorf("poll %s: %w", symbol, err)
	}

	alive := make(map[int64]core.Position, len(positions))
	for _, p := range positions {
		alive[p.Ticket] = p
	}

	if err := m.checkSharedStop(trade, alive); err != nil {
		return PollResult{Trade: trade}, err
	}

	m.observeLeg(ctx, trade, &trade.Leg1, alive, lastBar)
	m.observeLeg(ctx, trade, &trade.Leg2, alive, lastBar)

	// Promotion runs after closures are booked: a leg 1 close seen on
	// this poll moves leg 2's stop before the next bar trades.
	m.promoteBreakeven(ctx, trade)

	var floating float64
	for _, p := range alive {
		floating += p.Profit
	}

	res := PollResult{Trade: trade, Floating: floating}
	if trade.Finished() {
		m.finishLocked(trade)
		res.Finished = trade
		res.Trade = nil
		res.Floating = 0
	}
	return res, nil
}

// MaintainTrailing moves the shared stop of the open legs to a more
// protective level proposed by the strategy. Proposals that would
// loosen the stop, or sit behind an applied breakeven, are discarded.
func (m *Manager) MaintainTrailing(ctx context.Context, symbol string, proposal float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[symbol]
	if !ok || trade.Finished() {
		return nil
	}

	if !m.tightens(trade, proposal) {
		return nil
	}

	for _, leg := range trade.OpenLegs() {
		if err := m.gw.ModifyStop(ctx, leg.Ticket, proposal); err != nil {
			if core.IsRejection(err) {
				m.log.WithError(err).WithField("symbol", symbol).Warn("trailing stop rejected, keeping current stop")
				return nil
			}
			return fmt.Errorf("trail %s: %w", symbol, err)
		}
	}
	trade.SharedStop = proposal

	m.log.WithFields(map[string]any{
		"symbol": symbol,
		"stop":   proposal,
	}).Debug("trailing stop advanced")
	return nil
}

// ForceClose closes every open leg at market. Used on shutdown when the
// account is configured to flatten and after invariant violations.
func (m *Manager) ForceClose(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[symbol]
	if !ok || trade.Finished() {
		return nil
	}

	var firstErr error
	now := time.Now().UTC()
	for _, leg := range trade.OpenLegs() {
		if err := m.gw.ClosePosition(ctx, leg.Ticket); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.log.WithError(err).WithField("symbol", symbol).Errorf("force close of ticket %d failed", leg.Ticket)
			continue
		}
		// The interface gives no fill price for a market close; book the
		// shared stop as a conservative estimate.
		m.closeLeg(ctx, trade, leg, trade.SharedStop, now, core.ExitManual)
	}

	if trade.Finished() {
		m.finishLocked(trade)
	}
	return firstErr
}

// Adopt rebuilds dual-trade state from the gateway's open positions
// after a reconnect. Positions are matched by magic number and the
// RR1/RR2 comment convention; anything else is left alone.
func (m *Manager) Adopt(ctx context.Context, symbol string, magic int64) (*core.DualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trades[symbol]; ok && !t.Finished() {
		return t, nil
	}

	positions, err := m.gw.Positions(ctx, symbol, magic)
	if err != nil {
		return nil, fmt.Errorf("adopt %s: %w", symbol, err)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	trade := &core.DualTrade{Symbol: symbol, Magic: magic}
	for _, p := range positions {
		strategy, side, legNo, ok := core.ParseLegComment(p.Comment)
		if !ok {
			continue
		}
		trade.Strategy = strategy
		trade.Side = side
		trade.SharedStop = p.Stop
		trade.InitialStop = p.Stop
		trade.OpenTime = p.OpenTime

		leg := core.Leg{
			Number: legNo, Ticket: p.Ticket, Volume: p.Volume,
			Entry: p.Entry, Target: p.Target,
		}
		switch legNo {
		case 1:
			trade.Leg1 = leg
		case 2:
			trade.Leg2 = leg
			trade.Entry = p.Entry
		}
	}

	if trade.Leg1.Ticket == 0 && trade.Leg2.Ticket == 0 {
		return nil, nil
	}

	// A lone survivor means the other leg closed while we were away.
	if trade.Leg1.Ticket == 0 {
		trade.Leg1.Closed = true
		trade.Entry = trade.Leg2.Entry
		// A stop at or beyond entry is the fingerprint of an applied
		// breakeven promotion.
		if trade.Side == core.SideBuy && trade.SharedStop >= trade.Entry ||
			trade.Side == core.SideSell && trade.SharedStop <= trade.Entry {
			trade.BreakevenApplied = true
		}
	}
	if trade.Leg2.Ticket == 0 {
		trade.Leg2.Closed = true
	}

	m.nextID++
	trade.ID = m.nextID
	m.trades[symbol] = trade

	m.log.WithField("symbol", symbol).Infof("adopted dual trade from broker state: %s", trade)
	return trade, nil
}

// observeLeg books a closure when the leg's ticket has vanished from
// the gateway, inferring price and reason from the last bar. Alive legs
// refresh their observed stop.
func (m *Manager) observeLeg(ctx context.Context, trade *core.DualTrade, leg *core.Leg, alive map[int64]core.Position, lastBar core.Bar) {
	if leg.Closed {
		return
	}

	if p, ok := alive[leg.Ticket]; ok {
		if math.Abs(p.Stop-trade.SharedStop) > stopEpsilon {
			trade.SharedStop = p.Stop
		}
		return
	}

	price, reason := inferExit(trade, leg, lastBar)
	m.closeLeg(ctx, trade, leg, price, lastBar.Time, reason)
}

// closeLeg marks the leg closed and realises its PnL.
func (m *Manager) closeLeg(ctx context.Context, trade *core.DualTrade, leg *core.Leg, price float64, t time.Time, reason core.ExitReason) {
	info := m.infos[trade.Symbol]

	leg.Closed = true
	leg.ClosePrice = price
	leg.CloseTime = t
	leg.ExitReason = reason
	leg.Profit = legProfit(trade.Side, leg.Entry, price, leg.Volume, info)

	m.recordClose(ctx, trade, leg)

	m.log.WithFields(map[string]any{
		"symbol": trade.Symbol,
		"leg":    leg.Number,
		"exit":   string(reason),
		"pnl":    leg.Profit,
	}).Infof("leg %d closed at %.5f", leg.Number, price)

	if summary := m.results[trade.Symbol]; summary != nil {
		summary.AddLeg(leg.Number, leg.Profit, trade.Side)
	}
}

// promoteBreakeven moves leg 2's stop to the trade entry after leg 1
// has closed. The flag only ever goes false to true; a transient
// gateway failure leaves it false so the next poll tries again.
func (m *Manager) promoteBreakeven(ctx context.Context, trade *core.DualTrade) {
	params := m.params[trade.Symbol]
	if !params.MoveSLToBreakeven || trade.BreakevenApplied {
		return
	}
	if !trade.Leg1.Closed || trade.Leg2.Closed {
		return
	}

	if err := m.gw.ModifyStop(ctx, trade.Leg2.Ticket, trade.Entry); err != nil {
		if core.IsRejection(err) {
			m.log.WithError(err).WithField("symbol", trade.Symbol).
				Warn("breakeven promotion rejected, stop unchanged")
			return
		}
		m.log.WithError(err).WithField("symbol", trade.Symbol).
			Warn("breakeven promotion failed, will retry next poll")
		return
	}

	trade.BreakevenApplied = true
	trade.SharedStop = trade.Entry
	m.log.WithField("symbol", trade.Symbol).Infof("stop promoted to breakeven at %.5f", trade.Entry)
}

// checkSharedStop verifies the invariant that both live legs carry the
// same stop. A mismatch is a state the engine must never produce.
func (m *Manager) checkSharedStop(trade *core.DualTrade, alive map[int64]core.Position) error {
	p1, ok1 := alive[trade.Leg1.Ticket]
	p2, ok2 := alive[trade.Leg2.Ticket]
	if !ok1 || !ok2 || trade.Leg1.Closed || trade.Leg2.Closed {
		return nil
	}
	if math.Abs(p1.Stop-p2.Stop) > stopEpsilon {
		return &core.InvariantError{
			Symbol: trade.Symbol,
			Detail: fmt.Sprintf("legs carry different stops: %.5f vs %.5f", p1.Stop, p2.Stop),
		}
	}
	return nil
}

// tightens reports whether a proposed stop is strictly more protective
// than the current one and respects the breakeven floor.
func (m *Manager) tightens(trade *core.DualTrade, proposal float64) bool {
	switch trade.Side {
	case core.SideBuy:
		if proposal <= trade.SharedStop {
			return false
		}
		if trade.BreakevenApplied && proposal < trade.Entry {
			return false
		}
	case core.SideSell:
		if proposal >= trade.SharedStop {
			return false
		}
		if trade.BreakevenApplied && proposal > trade.Entry {
			return false
		}
	}
	return true
}

func (m *Manager) finishLocked(trade *core.DualTrade) {
	trade.CloseTime = trade.Leg2.CloseTime
	if trade.Leg1.CloseTime.After(trade.CloseTime) {
		trade.CloseTime = trade.Leg1.CloseTime
	}
	delete(m.trades, trade.Symbol)

	m.log.WithFields(map[string]any{
		"symbol": trade.Symbol,
		"pnl":    trade.Profit(),
	}).Infof("dual trade terminated: %s", trade)

	if m.notifier != nil {
		m.notifier.OnTrade(trade)
	}
}

// inferExit decides which level the vanished ticket crossed on the last
// bar, stop first to stay consistent with worst-case fill modelling.
func inferExit(trade *core.DualTrade, leg *core.Leg, bar core.Bar) (float64, core.ExitReason) {
	stop := trade.SharedStop
	switch trade.Side {
	case core.SideBuy:
		if stop > 0 && bar.Low <= stop {
			return stop, stopExitReason(trade, stop)
		}
		if leg.Target > 0 && bar.High >= leg.Target {
			return leg.Target, core.ExitTarget
		}
	case core.SideSell:
		if stop > 0 && bar.High >= stop {
			return stop, stopExitReason(trade, stop)
		}
		if leg.Target > 0 && bar.Low <= leg.Target {
			return leg.Target, core.ExitTarget
		}
	}
	// Closed by something we did not see (manual close at the terminal).
	return bar.Close, core.ExitManual
}

func stopExitReason(trade *core.DualTrade, stop float64) core.ExitReason {
	if trade.Side == core.SideBuy && stop >= trade.Entry || trade.Side == core.SideSell && stop <= trade.Entry {
		return core.ExitBreakeven
	}
	return core.ExitStop
}

// legProfit prices a leg's move using the instrument mechanics.
func legProfit(side core.Side, entry, exit, volume float64, info core.SymbolInfo) float64 {
	move := exit - entry
	if side == core.SideSell {
		move = -move
	}
	if move >= 0 {
		return risk.RiskPerLot(move, info) * volume
	}
	return -risk.RiskPerLot(-move, info) * volume
}

// --- audit write-through -------------------------------------------------

func (m *Manager) recordOpen(ctx context.Context, req core.OrderRequest, pos core.Position) {
	if m.repo == nil {
		return
	}
	now := pos.OpenTime
	orderID := uuid.NewString()
	record := &core.OrderRecord{
		OrderID: orderID, Ticket: pos.Ticket, Symbol: req.Symbol, Side: req.Side,
		Volume: req.Volume, Price: pos.Entry, Stop: req.Stop, Target: req.Target,
		Status: core.OrderStatusFilled, Magic: req.Magic, Comment: req.Comment,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.repo.CreateOrder(ctx, record); err != nil {
		m.log.WithError(err).Warn("order audit write failed")
		return
	}
	fill := &core.FillRecord{
		FillID: uuid.NewString(), OrderID: orderID,
		Price: pos.Entry, Volume: pos.Volume, FilledAt: now,
	}
	if err := m.repo.CreateFill(ctx, fill); err != nil {
		m.log.WithError(err).Warn("fill audit write failed")
	}
	position := &core.PositionRecord{
		PositionID: uuid.NewString(), Ticket: pos.Ticket, Symbol: pos.Symbol,
		Side: pos.Side, Volume: pos.Volume, Entry: pos.Entry, Stop: pos.Stop,
		Target: pos.Target, Magic: pos.Magic, Comment: pos.Comment,
		Open: true, OpenedAt: now,
	}
	if err := m.repo.CreatePosition(ctx, position); err != nil {
		m.log.WithError(err).Warn("position audit write failed")
	}
}

func (m *Manager) recordRejected(ctx context.Context, req core.OrderRequest, cause error) {
	if m.repo == nil {
		return
	}
	now := time.Now().UTC()
	record := &core.OrderRecord{
		OrderID: uuid.NewString(), Symbol: req.Symbol, Side: req.Side,
		Volume: req.Volume, Stop: req.Stop, Target: req.Target,
		Status:          core.OrderStatusRejected,
		RejectionReason: cause.Error(),
		Magic:           req.Magic, Comment: req.Comment,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.repo.CreateOrder(ctx, record); err != nil {
		m.log.WithError(err).Warn("rejection audit write failed")
	}
}

func (m *Manager) recordClose(ctx context.Context, trade *core.DualTrade, leg *core.Leg) {
	if m.repo == nil {
		return
	}
	direction := core.TradeLong
	if trade.Side == core.SideSell {
		direction = core.TradeShort
	}
	record := &core.TradeRecord{
		TradeID: uuid.NewString(), Symbol: trade.Symbol, Strategy: trade.Strategy,
		Direction: direction, Leg: leg.Number, Volume: leg.Volume,
		Entry: leg.Entry, Exit: leg.ClosePrice, PnL: leg.Profit,
		ExitReason: leg.ExitReason, OpenedAt: trade.OpenTime, ClosedAt: leg.CloseTime,
	}
	if err := m.repo.CreateTrade(ctx, record); err != nil {
		m.log.WithError(err).Warn("trade audit write failed")
	}
}
