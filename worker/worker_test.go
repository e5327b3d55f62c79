package worker

import (
	"context"
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/gateway/gatewaytest"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/order"
	"github.com/raykavin/duotrade/risk"
	"github.com/stretchr/testify/require"
)

func eurusd() core.SymbolInfo {
	return core.SymbolInfo{
		Name:         "EURUSD",
		Digits:       5,
		Point:        0.00001,
		ContractSize: 100000,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
		TickSize:     0.00001,
		TickValue:    1,
		CurrencyPair: true,
	}
}

// stubStrategy emits one canned setup whenever armed.
type stubStrategy struct {
	emit    bool
	onBars  int
	trail   float64
	trailOK bool
}

func (s *stubStrategy) Name() string              { return "STUB" }
func (s *stubStrategy) Timeframe() core.Timeframe { return core.TimeframeM1 }
func (s *stubStrategy) WarmupPeriod() int         { return 1 }
func (s *stubStrategy) Indicators(*core.Dataframe) {}

func (s *stubStrategy) OnBar(df *core.Dataframe) (*core.Signal, error) {
	s.onBars++
	if !s.emit {
		return nil, nil
	}
	last := df.LastBar()
	sig := &core.Signal{
		Symbol:   "EURUSD",
		Side:     core.SideBuy,
		Entry:    last.Close,
		Stop:     last.Close - 0.00750,
		Strategy: "STUB",
		BarTime:  last.Time,
	}
	sig.TargetMain = sig.TargetAt(2)
	return sig, nil
}

func (s *stubStrategy) TrailStop(*core.Dataframe, *core.DualTrade) (float64, bool) {
	return s.trail, s.trailOK
}

// vetoObserver records signals and optionally blocks them.
type vetoObserver struct {
	veto    bool
	signals int
	opened  int
	closed  int
}

func (o *vetoObserver) Name() string { return "veto" }
func (o *vetoObserver) OnSignal(*core.Signal) core.Verdict {
	o.signals++
	if o.veto {
		return core.Veto("blocked by test")
	}
	return core.Allow()
}
func (o *vetoObserver) OnTradeOpened(*core.DualTrade) { o.opened++ }
func (o *vetoObserver) OnTradeClosed(*core.DualTrade) { o.closed++ }

type fixture struct {
	worker   *Worker
	fake     *gatewaytest.Fake
	manager  *order.Manager
	governor *risk.Governor
	strategy *stubStrategy
	observer *vetoObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Minute)
	fake := gatewaytest.New(eurusd(), 10000)
	fake.Now = now
	fake.BarData = []core.Bar{{
		Symbol: "EURUSD", Time: now.Add(-time.Minute),
		Open: 1.09990, High: 1.10050, Low: 1.09950, Close: 1.10000,
		TickVolume: 100, Complete: true,
	}}

	manager := order.NewManager(fake, logger.Discard())
	manager.Register("EURUSD", order.Params{Strategy: "STUB", Magic: 99, MoveSLToBreakeven: true}, eurusd())
	governor := risk.NewGovernor(risk.GovernorConfig{MaxDailyLossPercent: 5})

	strat := &stubStrategy{emit: true}
	obs := &vetoObserver{}
	cfg := Config{
		Symbol:      "EURUSD",
		Timeframe:   core.TimeframeM1,
		CyclePeriod: time.Second,
		RiskPercent: 0.5,
		MagicNumber: 99,
	}
	require.NoError(t, cfg.Validate())

	w := New(cfg, fake, strat, manager, risk.Sizer{}, governor, logger.Discard(), WithObservers(obs))
	return &fixture{worker: w, fake: fake, manager: manager, governor: governor, strategy: strat, observer: obs}
}

// advanceBar appends a fresh closed bar so the next cycle sees a new
// bar time.
func (f *fixture) advanceBar(high, low, close float64) {
	last := f.fake.BarData[len(f.fake.BarData)-1]
	f.fake.BarData = append(f.fake.BarData, core.Bar{
		Symbol: "EURUSD", Time: last.Time.Add(time.Minute),
		Open: last.Close, High: high, Low: low, Close: close,
		TickVolume: 100, Complete: true,
	})
}

func TestWorkerOpensOnSignal(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.runCycle(context.Background()))

	trade := f.manager.Trade("EURUSD")
	require.NotNil(t, trade)
	require.Equal(t, core.DualStateBothOpen, trade.State())
	require.InDelta(t, 0.06, trade.Leg1.Volume, 1e-9)
	require.Equal(t, 1, f.observer.signals)
	require.Equal(t, 1, f.observer.opened)

	allowed, _ := f.governor.Allows("EURUSD", time.Now().UTC())
	require.False(t, allowed, "slot must be taken after the open")
}

func TestWorkerOneSignalPerBar(t *testing.T) {
	f := newFixture(t)
	f.observer.veto = true

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Equal(t, 1, f.observer.signals)

	// Same bar again: the strategy re-emits but the worker suppresses.
	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Equal(t, 1, f.observer.signals)

	// A new bar re-arms signal emission.
	f.advanceBar(1.10080, 1.09980, 1.10020)
	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Equal(t, 2, f.observer.signals)
}

func TestWorkerObserverVeto(t *testing.T) {
	f := newFixture(t)
	f.observer.veto = true

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Nil(t, f.manager.Trade("EURUSD"))
	require.Zero(t, f.fake.CallCount("open_market"))
}

func TestWorkerSkipsStaleData(t *testing.T) {
	f := newFixture(t)
	f.fake.BarData[0].Time = time.Now().UTC().Add(-time.Hour)

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Zero(t, f.strategy.onBars, "stale cycle must not evaluate the strategy")
	require.Nil(t, f.manager.Trade("EURUSD"))
}

func TestWorkerBooksFinishedTrade(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.runCycle(context.Background()))
	trade := f.manager.Trade("EURUSD")
	require.NotNil(t, trade)

	// Both legs vanish on a bar that crossed both targets.
	f.fake.ClosePositionAt(trade.Leg1.Ticket)
	f.fake.ClosePositionAt(trade.Leg2.Ticket)
	f.advanceBar(1.11510, 1.10000, 1.11400)

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Equal(t, 1, f.observer.closed)

	snap := f.governor.Snapshot(time.Now().UTC())
	require.Greater(t, snap.RealizedToday, 0.0)
}

func TestWorkerTrailsOpenTrade(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.runCycle(context.Background()))
	trade := f.manager.Trade("EURUSD")
	require.NotNil(t, trade)

	f.strategy.trail = trade.SharedStop + 0.00200
	f.strategy.trailOK = true
	f.advanceBar(1.10300, 1.10000, 1.10250)

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.InDelta(t, f.strategy.trail, trade.SharedStop, 1e-9)
}

func TestWorkerHaltsOnInvariantViolation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.runCycle(context.Background()))
	trade := f.manager.Trade("EURUSD")
	require.NotNil(t, trade)

	// Desync the stops behind the engine's back.
	require.NoError(t, f.fake.ModifyStop(context.Background(), trade.Leg1.Ticket, trade.SharedStop-0.00100))
	f.advanceBar(1.10100, 1.09990, 1.10050)

	err := f.worker.runCycle(context.Background())
	var ierr *core.InvariantError
	require.ErrorAs(t, err, &ierr)

	require.True(t, f.worker.Halted())
	require.True(t, f.governor.Halted("EURUSD"))
	require.Empty(t, f.fake.OpenTickets(), "trade must be flattened")
}

func TestWorkerGovernorBlocksEntry(t *testing.T) {
	f := newFixture(t)
	f.governor.Halt("EURUSD")

	require.NoError(t, f.worker.runCycle(context.Background()))
	require.Nil(t, f.manager.Trade("EURUSD"))
	require.Zero(t, f.observer.signals, "risk gate runs before observers")
	require.Zero(t, f.fake.CallCount("open_market"))
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Symbol:      "EURUSD",
		Timeframe:   core.TimeframeM5,
		CyclePeriod: time.Minute,
		RiskPercent: 1,
		MagicNumber: 42,
	}
	require.NoError(t, base.Validate())

	for name, mutate := range map[string]func(*Config){
		"empty symbol":  func(c *Config) { c.Symbol = "" },
		"bad timeframe": func(c *Config) { c.Timeframe = "M7" },
		"zero cycle":    func(c *Config) { c.CyclePeriod = 0 },
		"zero risk":     func(c *Config) { c.RiskPercent = 0 },
		"risk over 100": func(c *Config) { c.RiskPercent = 120 },
		"zero magic":    func(c *Config) { c.MagicNumber = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			var cerr *core.ConfigError
			require.ErrorAs(t, cfg.Validate(), &cerr)
		})
	}
}
