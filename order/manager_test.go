package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/gateway"
	"github.com/raykavin/duotrade/gateway/gatewaytest"
	"github.com/raykavin/duotrade/logger"
	"github.com/stretchr/testify/require"
)

var barTime = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

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

func buySignal() *core.Signal {
	s := &core.Signal{
		Symbol:   "EURUSD",
		Side:     core.SideBuy,
		Entry:    1.10000,
		Stop:     1.09250,
		Strategy: "ADAPTIVE",
		BarTime:  barTime,
	}
	s.TargetMain = s.TargetAt(2)
	return s
}

func setup(t *testing.T) (*Manager, *gatewaytest.Fake) {
	t.Helper()
	fake := gatewaytest.New(eurusd(), 10000)
	fake.Now = barTime
	fake.BarData = []core.Bar{{
		Symbol: "EURUSD", Time: barTime,
		Open: 1.09990, High: 1.10050, Low: 1.09950, Close: 1.10000,
		TickVolume: 100, Complete: true,
	}}

	m := NewManager(fake, logger.Discard())
	m.Register("EURUSD", Params{Strategy: "ADAPTIVE", Magic: 777, MoveSLToBreakeven: true}, eurusd())
	return m, fake
}

func bar(high, low, close float64) core.Bar {
	return core.Bar{
		Symbol: "EURUSD", Time: barTime.Add(time.Hour),
		Open: close, High: high, Low: low, Close: close,
		TickVolume: 100, Complete: true,
	}
}

func TestOpenPlacesPairedLegs(t *testing.T) {
	m, fake := setup(t)

	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)
	require.NotNil(t, trade)

	require.Equal(t, core.DualStateBothOpen, trade.State())
	require.InDelta(t, 1.10750, trade.Leg1.Target, 1e-9)
	require.InDelta(t, 1.11500, trade.Leg2.Target, 1e-9)
	require.InDelta(t, trade.Leg1.Volume, trade.Leg2.Volume, 1e-9)

	p1, ok := fake.PositionByTicket(trade.Leg1.Ticket)
	require.True(t, ok)
	p2, ok := fake.PositionByTicket(trade.Leg2.Ticket)
	require.True(t, ok)
	require.Equal(t, p1.Stop, p2.Stop, "legs must share one stop")
	require.Equal(t, "ADAPTIVE_BUY_RR1", p1.Comment)
	require.Equal(t, "ADAPTIVE_BUY_RR2", p2.Comment)
	require.EqualValues(t, 777, p1.Magic)
}

func TestOpenRejectsSecondTrade(t *testing.T) {
	m, _ := setup(t)

	_, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	_, err = m.Open(context.Background(), buySignal(), 0.06, 50)
	require.ErrorIs(t, err, core.ErrTradeOpen)
}

func TestOpenRollsBackLeg1WhenLeg2Fails(t *testing.T) {
	m, fake := setup(t)

	// Leg 1 succeeds, leg 2 is rejected for margin.
	fake.FailNext("open_market", nil,
		core.NewGatewayError(core.GatewayInsufficientMargin, "open_market", "EURUSD", nil))

	_, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.Error(t, err)
	require.Empty(t, fake.OpenTickets(), "leg 1 must be rolled back")
	require.Nil(t, m.Trade("EURUSD"))
}

func TestOpenLeg1FailureSkipsLeg2(t *testing.T) {
	m, fake := setup(t)

	fake.FailNext("open_market", core.NewGatewayError(core.GatewayRejected, "open_market", "EURUSD", nil))

	_, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.Error(t, err)
	require.Equal(t, 1, fake.CallCount("open_market"))
	require.Empty(t, fake.OpenTickets())
}

func TestPollScenarioBothTargetsHit(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	// Leg 1's target crossed: its ticket vanishes at the broker.
	fake.ClosePositionAt(trade.Leg1.Ticket)
	res, err := m.Poll(context.Background(), "EURUSD", bar(1.10780, 1.09990, 1.10700))
	require.NoError(t, err)
	require.Nil(t, res.Finished)

	require.True(t, trade.Leg1.Closed)
	require.Equal(t, core.ExitTarget, trade.Leg1.ExitReason)
	require.InDelta(t, 1.10750, trade.Leg1.ClosePrice, 1e-9)
	require.InDelta(t, 45, trade.Leg1.Profit, 1e-6)

	// Breakeven promotion happened on the same reconciliation.
	require.True(t, trade.BreakevenApplied)
	require.Equal(t, core.DualStateLeg2OnlyBE, trade.State())
	p2, ok := fake.PositionByTicket(trade.Leg2.Ticket)
	require.True(t, ok)
	require.InDelta(t, trade.Entry, p2.Stop, 1e-9)

	// Leg 2 later runs to its own target.
	fake.ClosePositionAt(trade.Leg2.Ticket)
	res, err = m.Poll(context.Background(), "EURUSD", bar(1.11510, 1.10800, 1.11400))
	require.NoError(t, err)
	require.NotNil(t, res.Finished)
	require.Equal(t, core.DualStateTerminated, res.Finished.State())
	require.Equal(t, core.ExitTarget, trade.Leg2.ExitReason)
	require.InDelta(t, 90, trade.Leg2.Profit, 1e-6)
	require.Nil(t, m.Trade("EURUSD"))
}

func TestPollScenarioLeg2RetracesToBreakeven(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	fake.ClosePositionAt(trade.Leg1.Ticket)
	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10780, 1.09990, 1.10700))
	require.NoError(t, err)
	require.True(t, trade.BreakevenApplied)

	// Price falls back through the promoted stop.
	fake.ClosePositionAt(trade.Leg2.Ticket)
	res, err := m.Poll(context.Background(), "EURUSD", bar(1.10100, 1.09990, 1.10050))
	require.NoError(t, err)
	require.NotNil(t, res.Finished)

	require.Equal(t, core.ExitBreakeven, trade.Leg2.ExitReason)
	require.InDelta(t, trade.Entry, trade.Leg2.ClosePrice, 1e-9)
	require.InDelta(t, 0, trade.Leg2.Profit, 1e-6)
	// Total realised PnL is leg 1's gain.
	require.InDelta(t, 45, trade.Profit(), 1e-6)
}

func TestPollScenarioBothStopsHit(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	fake.ClosePositionAt(trade.Leg1.Ticket)
	fake.ClosePositionAt(trade.Leg2.Ticket)
	res, err := m.Poll(context.Background(), "EURUSD", bar(1.10000, 1.09249, 1.09300))
	require.NoError(t, err)
	require.NotNil(t, res.Finished)

	require.Equal(t, core.ExitStop, trade.Leg1.ExitReason)
	require.Equal(t, core.ExitStop, trade.Leg2.ExitReason)
	require.False(t, trade.BreakevenApplied, "no promotion when both legs stop out together")
	// Two legs of 0.06 lots losing 750 ticks each.
	require.InDelta(t, -90, trade.Profit(), 1e-6)
}

func TestPollBreakevenRetriesTransientThenSucceeds(t *testing.T) {
	fake := gatewaytest.New(eurusd(), 10000)
	fake.Now = barTime
	fake.BarData = []core.Bar{{
		Symbol: "EURUSD", Time: barTime,
		Open: 1.09990, High: 1.10050, Low: 1.09950, Close: 1.10000,
		TickVolume: 100, Complete: true,
	}}

	// The retry decorator sits between manager and fake, as in production.
	m := NewManager(gateway.WithRetry(fake, logger.Discard()), logger.Discard())
	m.Register("EURUSD", Params{Strategy: "ADAPTIVE", Magic: 777, MoveSLToBreakeven: true}, eurusd())

	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	transient := func() error {
		return core.NewGatewayError(core.GatewayTransient, "modify_stop", "EURUSD", errors.New("timeout"))
	}
	fake.FailNext("modify_stop", transient(), transient())

	fake.ClosePositionAt(trade.Leg1.Ticket)
	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10780, 1.09990, 1.10700))
	require.NoError(t, err)

	require.True(t, trade.BreakevenApplied)
	require.Equal(t, 3, fake.CallCount("modify_stop"), "two transient failures then success")
	p2, ok := fake.PositionByTicket(trade.Leg2.Ticket)
	require.True(t, ok)
	require.InDelta(t, trade.Entry, p2.Stop, 1e-9)
}

func TestPollBreakevenMonotonic(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	fake.ClosePositionAt(trade.Leg1.Ticket)
	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10780, 1.09990, 1.10700))
	require.NoError(t, err)
	require.True(t, trade.BreakevenApplied)

	calls := fake.CallCount("modify_stop")
	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10900, 1.10100, 1.10800))
	require.NoError(t, err)
	require.True(t, trade.BreakevenApplied)
	require.Equal(t, calls, fake.CallCount("modify_stop"), "promotion must run exactly once")
}

func TestPollDetectsSharedStopViolation(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	// Someone moved one leg's stop at the terminal.
	require.NoError(t, fake.ModifyStop(context.Background(), trade.Leg1.Ticket, 1.09500))

	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10100, 1.09900, 1.10000))
	var ierr *core.InvariantError
	require.ErrorAs(t, err, &ierr)
}

func TestMaintainTrailingClampsProposals(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	// A loosening proposal is ignored.
	require.NoError(t, m.MaintainTrailing(context.Background(), "EURUSD", 1.09000))
	require.InDelta(t, 1.09250, trade.SharedStop, 1e-9)

	// A tightening proposal moves every open leg.
	require.NoError(t, m.MaintainTrailing(context.Background(), "EURUSD", 1.09700))
	require.InDelta(t, 1.09700, trade.SharedStop, 1e-9)
	p1, _ := fake.PositionByTicket(trade.Leg1.Ticket)
	p2, _ := fake.PositionByTicket(trade.Leg2.Ticket)
	require.InDelta(t, 1.09700, p1.Stop, 1e-9)
	require.InDelta(t, 1.09700, p2.Stop, 1e-9)
}

func TestMaintainTrailingRespectsBreakevenFloor(t *testing.T) {
	m, fake := setup(t)
	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	fake.ClosePositionAt(trade.Leg1.Ticket)
	_, err = m.Poll(context.Background(), "EURUSD", bar(1.10780, 1.09990, 1.10700))
	require.NoError(t, err)
	require.True(t, trade.BreakevenApplied)

	// Below entry: blocked by the breakeven floor even though it would
	// tighten nothing anyway; above entry: accepted.
	require.NoError(t, m.MaintainTrailing(context.Background(), "EURUSD", 1.09900))
	require.InDelta(t, trade.Entry, trade.SharedStop, 1e-9)

	require.NoError(t, m.MaintainTrailing(context.Background(), "EURUSD", 1.10300))
	require.InDelta(t, 1.10300, trade.SharedStop, 1e-9)
}

func TestForceCloseFlattens(t *testing.T) {
	m, fake := setup(t)
	_, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)

	require.NoError(t, m.ForceClose(context.Background(), "EURUSD"))
	require.Empty(t, fake.OpenTickets())
	require.Nil(t, m.Trade("EURUSD"))
}

func TestDryRunPlacesNothing(t *testing.T) {
	fake := gatewaytest.New(eurusd(), 10000)
	fake.Now = barTime
	m := NewManager(fake, logger.Discard(), WithDryRun(true))
	m.Register("EURUSD", Params{Strategy: "ADAPTIVE", Magic: 777}, eurusd())

	trade, err := m.Open(context.Background(), buySignal(), 0.06, 50)
	require.NoError(t, err)
	require.Nil(t, trade)
	require.Zero(t, fake.CallCount("open_market"))
}

func TestAdoptRebuildsFromComments(t *testing.T) {
	m, fake := setup(t)

	// Positions left at the broker from a previous session.
	_, err := fake.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.10750, Magic: 777, Comment: "ADAPTIVE_BUY_RR1",
	})
	require.NoError(t, err)
	_, err = fake.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.11500, Magic: 777, Comment: "ADAPTIVE_BUY_RR2",
	})
	require.NoError(t, err)

	trade, err := m.Adopt(context.Background(), "EURUSD", 777)
	require.NoError(t, err)
	require.NotNil(t, trade)

	require.Equal(t, core.DualStateBothOpen, trade.State())
	require.Equal(t, "ADAPTIVE", trade.Strategy)
	require.Equal(t, core.SideBuy, trade.Side)
	require.InDelta(t, 1.09250, trade.SharedStop, 1e-9)
	require.InDelta(t, 1.10750, trade.Leg1.Target, 1e-9)
	require.InDelta(t, 1.11500, trade.Leg2.Target, 1e-9)
}

func TestAdoptLoneRunnerWithPromotedStop(t *testing.T) {
	m, fake := setup(t)

	_, err := fake.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.10000, Target: 1.11500, Magic: 777, Comment: "ADAPTIVE_BUY_RR2",
	})
	require.NoError(t, err)

	trade, err := m.Adopt(context.Background(), "EURUSD", 777)
	require.NoError(t, err)
	require.NotNil(t, trade)

	require.Equal(t, core.DualStateLeg2OnlyBE, trade.State())
	require.True(t, trade.BreakevenApplied)
}

func TestSummaryTracksLegs(t *testing.T) {
	s := NewTradeSummary("EURUSD")
	s.AddLeg(1, 45, core.SideBuy)
	s.AddLeg(2, 90, core.SideBuy)
	s.AddLeg(1, -45, core.SideBuy)
	s.AddLeg(2, -45, core.SideBuy)

	require.InDelta(t, 45, s.TotalPnL(), 1e-9)
	require.InDelta(t, 50, WinRate(s.LegResults(1)), 1e-9)
	require.InDelta(t, 22.5, Expectancy(s.LegResults(2)), 1e-9)
	require.Contains(t, s.String(), "EURUSD")
}
