// Package backtest replays a bar history through the same strategy,
// sizing, and dual-order manager the live engine runs, against the
// simulated gateway. Fills are settled stop-first per bar; breakeven
// promotion lands at the start of the bar after leg 1's close.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/gateway/sim"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/order"
	"github.com/raykavin/duotrade/risk"
	"github.com/schollz/progressbar/v3"
)

// Config drives one backtest run.
type Config struct {
	Symbol         string
	Timeframe      core.Timeframe
	RiskPercent    float64
	Balance        float64
	Commission     float64
	SlippagePoints float64
	MagicNumber    int64
	MoveSLToBE     bool

	// ShowProgress renders a progress bar on stderr during the replay.
	ShowProgress bool
}

// Validate rejects configurations the replay cannot run with.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return &core.ConfigError{Field: "symbol", Detail: "must not be empty"}
	}
	if c.Balance <= 0 {
		return &core.ConfigError{Field: "balance", Detail: "must be positive"}
	}
	if c.RiskPercent <= 0 || c.RiskPercent > 100 {
		return &core.ConfigError{Field: "risk_percent", Detail: "must be in (0, 100]"}
	}
	if c.MagicNumber == 0 {
		return &core.ConfigError{Field: "magic_number", Detail: "must not be zero"}
	}
	return nil
}

// Executor owns one replay: a simulated gateway seeded with the bar
// history, a dual-order manager over it, and the strategy under test.
type Executor struct {
	cfg      Config
	info     core.SymbolInfo
	strategy core.Strategy
	gw       *sim.Gateway
	manager  *order.Manager
	sizer    risk.Sizer
	log      logger.Logger

	barCount int
}

// New builds an executor over a chronological bar history.
func New(cfg Config, info core.SymbolInfo, strat core.Strategy, bars []core.Bar, log logger.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) <= strat.WarmupPeriod() {
		return nil, fmt.Errorf("history too short: %d bars, warmup needs %d", len(bars), strat.WarmupPeriod())
	}

	gw := sim.New(
		sim.WithBalance(cfg.Balance),
		sim.WithCommission(cfg.Commission),
		sim.WithSlippage(cfg.SlippagePoints),
		sim.WithSymbol(info, bars),
	)
	manager := order.NewManager(gw, log)
	manager.Register(cfg.Symbol, order.Params{
		Strategy:          strat.Name(),
		Magic:             cfg.MagicNumber,
		MoveSLToBreakeven: cfg.MoveSLToBE,
	}, info)

	return &Executor{
		cfg:      cfg,
		info:     info,
		strategy: strat,
		gw:       gw,
		manager:  manager,
		log:      log.WithField("component", "backtest"),
		barCount: len(bars),
	}, nil
}

// Run replays the full history and returns the aggregated result. Any
// position still open when the history ends is closed at the last bar.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if err := e.gw.Connect(ctx); err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if e.cfg.ShowProgress {
		bar = progressbar.Default(int64(e.barCount))
	}

	warmup := e.strategy.WarmupPeriod()
	window := warmup + 10
	result := &Result{
		Symbol:       e.cfg.Symbol,
		StartBalance: e.cfg.Balance,
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, ok := e.gw.Advance(e.cfg.Symbol)
		if !ok {
			break
		}
		if bar != nil {
			if err := bar.Add(1); err != nil {
				e.log.Warnf("update progressbar fail: %v", err)
			}
		}

		// Reconciliation first: closures the settle pass produced are
		// booked, and breakeven promotion lands before this bar's entry
		// evaluation. That is the "next bar's start" promotion semantics.
		res, err := e.manager.Poll(ctx, e.cfg.Symbol, current)
		if err != nil {
			return nil, fmt.Errorf("reconcile at %s: %w", current.Time, err)
		}

		history, err := e.gw.Bars(ctx, e.cfg.Symbol, e.cfg.Timeframe, window)
		if err != nil {
			return nil, err
		}
		if len(history) >= warmup {
			df := core.FromBars(e.cfg.Symbol, history)
			e.strategy.Indicators(df)

			if res.Trade != nil {
				e.trail(ctx, df, res.Trade)
			} else {
				if err := e.tryEntry(ctx, df); err != nil {
					return nil, err
				}
			}
		}

		acct, err := e.gw.Account(ctx)
		if err != nil {
			return nil, err
		}
		result.Equity = append(result.Equity, EquityPoint{Time: current.Time, Equity: acct.Equity})
	}

	e.flatten(ctx)
	e.collect(result)
	return result, nil
}

// tryEntry evaluates the strategy on the closed history and opens the
// dual trade when a signal sizes successfully. Sizing and broker
// rejections drop the signal, exactly as live.
func (e *Executor) tryEntry(ctx context.Context, df *core.Dataframe) error {
	signal, err := e.strategy.OnBar(df)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", e.strategy.Name(), err)
	}
	if signal == nil {
		return nil
	}

	acct, err := e.gw.Account(ctx)
	if err != nil {
		return err
	}
	sizing, err := e.sizer.Size(acct.Equity, signal, e.info, e.cfg.RiskPercent)
	if err != nil {
		e.log.WithField("bar_time", signal.BarTime).Debugf("signal dropped: %v", err)
		return nil
	}

	if _, err := e.manager.Open(ctx, signal, sizing.Lot, sizing.RiskAmount); err != nil {
		if core.IsRejection(err) {
			e.log.WithField("bar_time", signal.BarTime).Debugf("entry rejected: %v", err)
			return nil
		}
		return err
	}
	return nil
}

func (e *Executor) trail(ctx context.Context, df *core.Dataframe, trade *core.DualTrade) {
	ts, ok := e.strategy.(core.TrailingStrategy)
	if !ok {
		return
	}
	stop, ok := ts.TrailStop(df, trade)
	if !ok {
		return
	}
	if err := e.manager.MaintainTrailing(ctx, e.cfg.Symbol, stop); err != nil {
		e.log.Warnf("trailing update failed: %v", err)
	}
}

// flatten closes whatever survived the history so the final balance
// realises every position.
func (e *Executor) flatten(ctx context.Context) {
	if e.manager.Trade(e.cfg.Symbol) == nil {
		return
	}
	if err := e.manager.ForceClose(ctx, e.cfg.Symbol); err != nil {
		e.log.Warnf("end-of-history flatten failed: %v", err)
	}
}

// collect turns the gateway's settled positions into the result's trade
// list, leg numbers recovered from the order comments.
func (e *Executor) collect(result *Result) {
	result.FinalBalance = e.gw.Balance()
	result.Bars = e.barCount
	result.Summary = e.manager.Summary(e.cfg.Symbol)

	for _, cp := range e.gw.ClosedPositions() {
		leg := 0
		if _, _, n, ok := core.ParseLegComment(cp.Comment); ok {
			leg = n
		}
		result.Trades = append(result.Trades, TradeRow{
			EntryTime:  cp.OpenTime,
			ExitTime:   cp.CloseTime,
			Side:       cp.Side,
			Entry:      cp.Entry,
			Exit:       cp.ClosePrice,
			Stop:       cp.Stop,
			Target:     cp.Target,
			PnL:        cp.Profit,
			Leg:        leg,
			ExitReason: cp.ExitReason,
		})
	}
}

// EquityPoint is one mark-to-market observation of the account.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// TradeRow is one settled leg.
type TradeRow struct {
	EntryTime  time.Time
	ExitTime   time.Time
	Side       core.Side
	Entry      float64
	Exit       float64
	Stop       float64
	Target     float64
	PnL        float64
	Leg        int
	ExitReason core.ExitReason
}
