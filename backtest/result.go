package backtest

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/raykavin/duotrade/metric"
	"github.com/raykavin/duotrade/order"
	"github.com/samber/lo"
)

// Result aggregates one replay: the equity curve, every settled leg,
// and the per-leg summary the manager maintained during the run.
type Result struct {
	Symbol       string
	StartBalance float64
	FinalBalance float64
	Bars         int
	Equity       []EquityPoint
	Trades       []TradeRow
	Summary      *order.TradeSummary
}

// PnLs returns the settled legs' profits, chronological.
func (r *Result) PnLs() []float64 {
	return lo.Map(r.Trades, func(t TradeRow, _ int) float64 { return t.PnL })
}

// LegPnLs returns the profits of one leg number only.
func (r *Result) LegPnLs(leg int) []float64 {
	rows := lo.Filter(r.Trades, func(t TradeRow, _ int) bool { return t.Leg == leg })
	return lo.Map(rows, func(t TradeRow, _ int) float64 { return t.PnL })
}

// Returns is the per-bar equity return series used for the Sharpe ratio.
func (r *Result) Returns() []float64 {
	if len(r.Equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(r.Equity)-1)
	for i := 1; i < len(r.Equity); i++ {
		prev := r.Equity[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (r.Equity[i].Equity-prev)/prev)
	}
	return out
}

// NetProfit is the realised gain over the whole replay.
func (r *Result) NetProfit() float64 { return r.FinalBalance - r.StartBalance }

// WinRate is the share of profitable legs, in percent.
func (r *Result) WinRate() float64 { return metric.WinRate(r.PnLs()) }

// ProfitFactor is gross profit over gross loss across all legs.
func (r *Result) ProfitFactor() float64 { return metric.ProfitFactor(r.PnLs()) }

// Payoff is average win over average loss across all legs.
func (r *Result) Payoff() float64 { return metric.Payoff(r.PnLs()) }

// Sharpe annualises the per-bar return series. barsPerYear depends on
// the replayed timeframe.
func (r *Result) Sharpe(barsPerYear float64) float64 {
	return metric.Sharpe(r.Returns(), barsPerYear)
}

// MaxDrawdown is the deepest peak-to-trough equity decline, as a
// positive fraction.
func (r *Result) MaxDrawdown() float64 {
	curve := lo.Map(r.Equity, func(p EquityPoint, _ int) float64 { return p.Equity })
	return metric.MaxDrawdown(curve)
}

// SaveEquityCSV writes the equity curve as time,equity rows.
func (r *Result) SaveEquityCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "equity"}); err != nil {
		return err
	}
	for _, p := range r.Equity {
		if err := w.Write([]string{
			p.Time.UTC().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.2f", p.Equity),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// SaveTradesCSV writes the settled leg list.
func (r *Result) SaveTradesCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"entry_time", "exit_time", "side", "entry", "exit", "stop", "target", "pnl", "leg", "exit_reason"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range r.Trades {
		row := []string{
			t.EntryTime.UTC().Format("2006-01-02 15:04:05"),
			t.ExitTime.UTC().Format("2006-01-02 15:04:05"),
			string(t.Side),
			fmt.Sprintf("%.5f", t.Entry),
			fmt.Sprintf("%.5f", t.Exit),
			fmt.Sprintf("%.5f", t.Stop),
			fmt.Sprintf("%.5f", t.Target),
			fmt.Sprintf("%.2f", t.PnL),
			fmt.Sprintf("%d", t.Leg),
			string(t.ExitReason),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
