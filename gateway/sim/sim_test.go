package sim

import (
	"context"
	"testing"
	"time"

	"github.com/raykavin/duotrade/core"
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

func mkBars(closes ...[3]float64) []core.Bar {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(closes))
	prev := closes[0][2]
	for i, c := range closes {
		bars[i] = core.Bar{
			Symbol: "EURUSD", Time: start.Add(time.Duration(i) * time.Hour),
			Open: prev, High: c[0], Low: c[1], Close: c[2],
			TickVolume: 100, Complete: true,
		}
		prev = c[2]
	}
	return bars
}

func newConnected(t *testing.T, bars []core.Bar) *Gateway {
	t.Helper()
	g := New(WithBalance(10000), WithSymbol(eurusd(), bars))
	require.NoError(t, g.Connect(context.Background()))
	return g
}

func TestSimRequiresConnection(t *testing.T) {
	g := New(WithSymbol(eurusd(), mkBars([3]float64{1.1, 1.0, 1.1})))
	_, err := g.Account(context.Background())
	require.Equal(t, core.GatewayNotConnected, core.GatewayKindOf(err))
}

func TestSimOpenAndTargetFill(t *testing.T) {
	// Bar 0 at 1.10000, bar 1 spikes through the target.
	bars := mkBars(
		[3]float64{1.10100, 1.09900, 1.10000},
		[3]float64{1.10780, 1.09990, 1.10700},
	)
	g := newConnected(t, bars)

	pos, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.10750, Magic: 7, Comment: "ADAPTIVE_BUY_RR1",
	})
	require.NoError(t, err)
	require.InDelta(t, 1.10000, pos.Entry, 1e-9)

	_, ok := g.Advance("EURUSD")
	require.True(t, ok)

	open, err := g.Positions(context.Background(), "EURUSD", 7)
	require.NoError(t, err)
	require.Empty(t, open)

	closed := g.ClosedPositions()
	require.Len(t, closed, 1)
	require.Equal(t, core.ExitTarget, closed[0].ExitReason)
	require.InDelta(t, 1.10750, closed[0].ClosePrice, 1e-9)
	// 750 ticks of 0.00001 at $1/tick/lot on 0.06 lots = $45.
	require.InDelta(t, 45, closed[0].Profit, 1e-6)
	require.InDelta(t, 10045, g.Balance(), 1e-6)
}

func TestSimStopBeforeTargetOnSameBar(t *testing.T) {
	// Bar 1 spans both levels; the stop must fill, not the target.
	bars := mkBars(
		[3]float64{1.10100, 1.09900, 1.10000},
		[3]float64{1.10900, 1.09200, 1.10800},
	)
	g := newConnected(t, bars)

	_, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.10750, Magic: 7,
	})
	require.NoError(t, err)

	g.Advance("EURUSD")

	closed := g.ClosedPositions()
	require.Len(t, closed, 1)
	require.Equal(t, core.ExitStop, closed[0].ExitReason)
	require.InDelta(t, 1.09250, closed[0].ClosePrice, 1e-9)
	require.InDelta(t, -45, closed[0].Profit, 1e-6)
}

func TestSimBreakevenExitReason(t *testing.T) {
	bars := mkBars(
		[3]float64{1.10100, 1.09900, 1.10000},
		[3]float64{1.10600, 1.10100, 1.10500},
		[3]float64{1.10550, 1.09990, 1.10050},
	)
	g := newConnected(t, bars)

	pos, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.11500, Magic: 7,
	})
	require.NoError(t, err)

	g.Advance("EURUSD")
	require.NoError(t, g.ModifyStop(context.Background(), pos.Ticket, 1.10000))
	g.Advance("EURUSD")

	closed := g.ClosedPositions()
	require.Len(t, closed, 1)
	require.Equal(t, core.ExitBreakeven, closed[0].ExitReason)
	require.InDelta(t, 1.10000, closed[0].ClosePrice, 1e-9)
	require.InDelta(t, 0, closed[0].Profit, 1e-6)
}

func TestSimRejectsBadVolumeAndStops(t *testing.T) {
	bars := mkBars([3]float64{1.10100, 1.09900, 1.10000})
	g := newConnected(t, bars)

	_, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.001, Stop: 1.09, Target: 1.11,
	})
	require.Equal(t, core.GatewayInvalidVolume, core.GatewayKindOf(err))

	_, err = g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06, Stop: 1.20, Target: 1.30,
	})
	require.Equal(t, core.GatewayInvalidStops, core.GatewayKindOf(err))
	require.True(t, core.IsRejection(err))
}

func TestSimCommission(t *testing.T) {
	bars := mkBars(
		[3]float64{1.10100, 1.09900, 1.10000},
		[3]float64{1.10780, 1.09990, 1.10700},
	)
	g := New(WithBalance(10000), WithSymbol(eurusd(), bars), WithCommission(7))
	require.NoError(t, g.Connect(context.Background()))

	_, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 1,
		Stop: 1.09250, Target: 1.10750,
	})
	require.NoError(t, err)
	g.Advance("EURUSD")

	closed := g.ClosedPositions()
	require.Len(t, closed, 1)
	// 750 ticks at $1/lot on 1 lot minus $7 commission.
	require.InDelta(t, 743, closed[0].Profit, 1e-6)
}

func TestSimHistoryExhausted(t *testing.T) {
	g := newConnected(t, mkBars([3]float64{1.1, 1.0, 1.05}))
	_, ok := g.Advance("EURUSD")
	require.False(t, ok)
}

func TestSimAppendExtendsHistory(t *testing.T) {
	bars := mkBars([3]float64{1.10100, 1.09900, 1.10000})
	g := newConnected(t, bars)
	_, ok := g.Advance("EURUSD")
	require.False(t, ok, "single-bar history starts exhausted")

	next := core.Bar{
		Symbol: "EURUSD", Time: bars[0].Time.Add(time.Hour),
		Open: 1.10000, High: 1.10800, Low: 1.09990, Close: 1.10700,
		TickVolume: 100, Complete: true,
	}
	// Stale and duplicate bars are dropped, new ones taken.
	require.Equal(t, 1, g.Append("EURUSD", []core.Bar{bars[0], next}))
	require.Zero(t, g.Append("EURUSD", []core.Bar{next}))

	bar, ok := g.Advance("EURUSD")
	require.True(t, ok)
	require.Equal(t, next.Time, bar.Time)
}

func TestSimAppendSettlesOnAdvance(t *testing.T) {
	bars := mkBars([3]float64{1.10100, 1.09900, 1.10000})
	g := newConnected(t, bars)

	_, err := g.OpenMarket(context.Background(), core.OrderRequest{
		Symbol: "EURUSD", Side: core.SideBuy, Volume: 0.06,
		Stop: 1.09250, Target: 1.10750, Magic: 7, Comment: "ADAPTIVE_BUY_RR1",
	})
	require.NoError(t, err)

	g.Append("EURUSD", []core.Bar{{
		Symbol: "EURUSD", Time: bars[0].Time.Add(time.Hour),
		Open: 1.10000, High: 1.10780, Low: 1.09990, Close: 1.10700,
		TickVolume: 100, Complete: true,
	}})
	_, ok := g.Advance("EURUSD")
	require.True(t, ok)

	closed := g.ClosedPositions()
	require.Len(t, closed, 1)
	require.Equal(t, core.ExitTarget, closed[0].ExitReason)
}
