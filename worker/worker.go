// Package worker runs the per-symbol trading loop and the supervisor
// that owns the workers' lifecycles. Each worker serialises every
// gateway interaction for its symbol; workers share nothing but the
// gateway, the governor, and the dual-order manager's internal maps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/metric"
	"github.com/raykavin/duotrade/order"
	"github.com/raykavin/duotrade/risk"
)

// warmupMargin is fetched on top of the strategy's warmup so structure
// scans always see a full lookback window.
const warmupMargin = 10

// Config drives one symbol's loop.
type Config struct {
	Symbol      string
	Timeframe   core.Timeframe
	CyclePeriod time.Duration
	RiskPercent float64
	MagicNumber int64

	// BarCount overrides the number of bars fetched per cycle. Zero
	// derives it from the strategy's warmup.
	BarCount int
}

// Validate rejects configurations the loop cannot run with.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return &core.ConfigError{Field: "symbol", Detail: "must not be empty"}
	}
	if !c.Timeframe.Valid() {
		return &core.ConfigError{Field: "timeframe", Detail: fmt.Sprintf("unknown timeframe %q", c.Timeframe)}
	}
	if c.CyclePeriod <= 0 {
		return &core.ConfigError{Field: "cycle_seconds", Detail: "must be positive"}
	}
	if c.RiskPercent <= 0 || c.RiskPercent > 100 {
		return &core.ConfigError{Field: "risk_percent", Detail: "must be in (0, 100]"}
	}
	if c.MagicNumber == 0 {
		return &core.ConfigError{Field: "magic_number", Detail: "must not be zero"}
	}
	return nil
}

// Worker is one symbol's cooperative loop: fetch bars, reconcile the
// dual trade, trail, and evaluate a new entry when flat. All methods run
// on the loop goroutine; only Halted is read from outside.
type Worker struct {
	cfg      Config
	gw       core.Gateway
	strategy core.Strategy
	manager  *order.Manager
	sizer    risk.Sizer
	governor *risk.Governor
	log      logger.Logger

	observers []core.Observer

	info     core.SymbolInfo
	haveInfo bool

	cycle         int64
	halted        bool
	lastSignalBar time.Time
}

// Option configures a worker.
type Option func(*Worker)

// WithObservers attaches read-only lifecycle hooks. OnSignal verdicts
// run before sizing and may veto the entry.
func WithObservers(obs ...core.Observer) Option {
	return func(w *Worker) { w.observers = append(w.observers, obs...) }
}

// New builds a worker. The config must already be validated and the
// symbol registered with the manager.
func New(cfg Config, gw core.Gateway, strat core.Strategy, manager *order.Manager,
	sizer risk.Sizer, governor *risk.Governor, log logger.Logger, options ...Option) *Worker {

	w := &Worker{
		cfg:      cfg,
		gw:       gw,
		strategy: strat,
		manager:  manager,
		sizer:    sizer,
		governor: governor,
		log: log.WithFields(map[string]any{
			"symbol":    cfg.Symbol,
			"component": "worker",
		}),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Run executes the loop until the context is cancelled. The first cycle
// runs immediately; after that the ticker paces iterations, and a cycle
// that overruns its period simply causes the missed ticks to coalesce.
func (w *Worker) Run(ctx context.Context) {
	// Reconnect recovery: adopt any positions left at the broker from a
	// previous session before trading resumes.
	if trade, err := w.manager.Adopt(ctx, w.cfg.Symbol, w.cfg.MagicNumber); err != nil {
		w.log.WithError(err).Warn("position adoption failed, starting flat")
	} else if trade != nil {
		w.governor.RegisterOpen(w.cfg.Symbol)
		metric.OpenDualTrades.Inc()
	}

	ticker := time.NewTicker(w.cfg.CyclePeriod)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Halted reports whether the worker stopped itself after a fatal error.
func (w *Worker) Halted() bool { return w.halted }

func (w *Worker) tick(ctx context.Context) {
	if w.halted {
		return
	}

	start := time.Now()
	if err := w.runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.WithError(err).WithField("cycle", w.cycle).Error("cycle failed")
	}
	if elapsed := time.Since(start); elapsed > w.cfg.CyclePeriod {
		w.log.WithFields(map[string]any{
			"cycle":   w.cycle,
			"elapsed": elapsed.String(),
		}).Warnf("cycle overran its %s period", w.cfg.CyclePeriod)
	}
}

func (w *Worker) runCycle(ctx context.Context) error {
	w.cycle++
	metric.Cycles.WithLabelValues(w.cfg.Symbol).Inc()

	df, lastBar, err := w.fetch(ctx)
	if err != nil {
		if errors.Is(err, core.ErrDataStale) {
			w.log.WithFields(map[string]any{
				"cycle":    w.cycle,
				"bar_time": lastBar.Time,
			}).Warn("stale bar data, cycle skipped")
			return nil
		}
		return err
	}

	w.observeAccount(ctx)

	res, err := w.manager.Poll(ctx, w.cfg.Symbol, lastBar)
	if err != nil {
		var ierr *core.InvariantError
		if errors.As(err, &ierr) {
			return w.haltSymbol(ctx, ierr)
		}
		return fmt.Errorf("reconcile: %w", err)
	}

	now := time.Now().UTC()
	if res.Finished != nil {
		w.governor.RegisterClose(w.cfg.Symbol, res.Finished.Profit(), now)
		metric.OpenDualTrades.Dec()
		metric.DailyRealizedPnL.Set(w.governor.Snapshot(now).RealizedToday)
		for _, o := range w.observers {
			o.OnTradeClosed(res.Finished)
		}
	}
	if res.Trade != nil {
		w.governor.SetFloating(w.cfg.Symbol, res.Floating)
		w.maintainTrailing(ctx, df, res.Trade)
		return nil
	}

	return w.evaluateEntry(ctx, df, now)
}

// fetch pulls the bar window, drops the forming bar, and rejects stale
// feeds. The returned frame contains complete bars only.
func (w *Worker) fetch(ctx context.Context) (*core.Dataframe, core.Bar, error) {
	count := w.cfg.BarCount
	if count <= 0 {
		count = w.strategy.WarmupPeriod() + warmupMargin
	}

	bars, err := w.gw.Bars(ctx, w.cfg.Symbol, w.cfg.Timeframe, count)
	if err != nil {
		return nil, core.Bar{}, fmt.Errorf("fetch bars: %w", err)
	}

	closed := bars[:0:0]
	for _, b := range bars {
		if b.Complete {
			closed = append(closed, b)
		}
	}
	if len(closed) == 0 {
		return nil, core.Bar{}, core.ErrDataStale
	}

	last := closed[len(closed)-1]
	if w.cfg.Timeframe.Stale(last.Time, time.Now().UTC()) {
		return nil, last, core.ErrDataStale
	}

	df := core.FromBars(w.cfg.Symbol, closed)
	w.strategy.Indicators(df)
	return df, last, nil
}

func (w *Worker) observeAccount(ctx context.Context) {
	acct, err := w.gw.Account(ctx)
	if err != nil {
		w.log.WithError(err).Warn("account read failed, reusing last equity")
		return
	}
	w.governor.SetEquity(acct.Equity, time.Now().UTC())
	metric.AccountEquity.Set(acct.Equity)
}

// haltSymbol flattens the trade and takes the symbol out of rotation.
// Only an operator resume brings it back.
func (w *Worker) haltSymbol(ctx context.Context, ierr *core.InvariantError) error {
	w.log.WithError(ierr).Error("invariant violated, flattening and halting symbol")
	if cerr := w.manager.ForceClose(ctx, w.cfg.Symbol); cerr != nil {
		w.log.WithError(cerr).Error("flatten after invariant violation failed, positions may remain")
	}
	w.governor.Halt(w.cfg.Symbol)
	w.halted = true
	return ierr
}

func (w *Worker) maintainTrailing(ctx context.Context, df *core.Dataframe, trade *core.DualTrade) {
	ts, ok := w.strategy.(core.TrailingStrategy)
	if !ok {
		return
	}
	stop, ok := ts.TrailStop(df, trade)
	if !ok {
		return
	}
	if err := w.manager.MaintainTrailing(ctx, w.cfg.Symbol, stop); err != nil {
		metric.OrderErrors.WithLabelValues(w.cfg.Symbol, string(core.GatewayKindOf(err))).Inc()
		w.log.WithError(err).Warn("trailing update failed")
	}
}

// evaluateEntry runs the strategy on the closed history and, when it
// emits a signal that survives the governor and observer gates, sizes
// and opens the dual trade. At most one signal per bar per symbol.
func (w *Worker) evaluateEntry(ctx context.Context, df *core.Dataframe, now time.Time) error {
	signal, err := w.strategy.OnBar(df)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", w.strategy.Name(), err)
	}
	if signal == nil {
		return nil
	}
	if signal.BarTime.Equal(w.lastSignalBar) {
		return nil
	}
	w.lastSignalBar = signal.BarTime
	metric.Signals.WithLabelValues(w.cfg.Symbol, string(signal.Side)).Inc()

	clog := w.log.WithFields(map[string]any{
		"cycle":    w.cycle,
		"bar_time": signal.BarTime,
		"side":     signal.Side,
	})

	if ok, reason := w.governor.Allows(w.cfg.Symbol, now); !ok {
		clog.WithField("reason", reason).Info("entry blocked by risk limits")
		return nil
	}
	for _, o := range w.observers {
		if v := o.OnSignal(signal); !v.Allow {
			clog.WithFields(map[string]any{
				"observer": o.Name(),
				"reason":   v.Reason,
			}).Info("signal vetoed")
			return nil
		}
	}

	acct, err := w.gw.Account(ctx)
	if err != nil {
		return fmt.Errorf("account before sizing: %w", err)
	}
	info, err := w.symbolInfo(ctx)
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}

	sizing, err := w.sizer.Size(acct.Equity, signal, info, w.cfg.RiskPercent)
	if err != nil {
		var serr *core.SizingError
		if errors.As(err, &serr) {
			clog.WithField("reason", serr.Reason).Info("signal dropped by sizing")
			return nil
		}
		return fmt.Errorf("sizing: %w", err)
	}

	trade, err := w.manager.Open(ctx, signal, sizing.Lot, sizing.RiskAmount)
	if err != nil {
		if errors.Is(err, core.ErrTradeOpen) {
			return nil
		}
		metric.OrderErrors.WithLabelValues(w.cfg.Symbol, string(core.GatewayKindOf(err))).Inc()
		if core.IsRejection(err) {
			clog.WithError(err).Warn("entry rejected by broker, signal dropped")
			return nil
		}
		return fmt.Errorf("open: %w", err)
	}
	if trade == nil {
		// Dry run.
		return nil
	}

	metric.OrdersSubmitted.WithLabelValues(w.cfg.Symbol, "1").Inc()
	metric.OrdersSubmitted.WithLabelValues(w.cfg.Symbol, "2").Inc()
	metric.OpenDualTrades.Inc()
	w.governor.RegisterOpen(w.cfg.Symbol)

	clog.WithFields(map[string]any{
		"lot":  sizing.Lot,
		"risk": sizing.RiskAmount,
	}).Info("dual trade opened")

	for _, o := range w.observers {
		o.OnTradeOpened(trade)
	}
	return nil
}

func (w *Worker) symbolInfo(ctx context.Context) (core.SymbolInfo, error) {
	if w.haveInfo {
		return w.info, nil
	}
	info, err := w.gw.SymbolInfo(ctx, w.cfg.Symbol)
	if err != nil {
		return core.SymbolInfo{}, err
	}
	w.info = info
	w.haveInfo = true
	return info, nil
}
