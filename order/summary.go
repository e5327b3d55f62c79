package order

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/duotrade/core"
	"github.com/samber/lo"
)

// LegResult is one closed leg's realised PnL.
type LegResult struct {
	Leg  int
	PnL  float64
	Side core.Side
}

// TradeSummary aggregates closed legs per symbol, keeping the first and
// second legs separate so their win rates and expectancies can be
// compared: the 1R leg should win often and small, the runner rarely
// and big.
type TradeSummary struct {
	mu      sync.Mutex
	Symbol  string
	results []LegResult
}

// NewTradeSummary creates an empty summary for one symbol.
func NewTradeSummary(symbol string) *TradeSummary {
	return &TradeSummary{Symbol: symbol}
}

// AddLeg books one closed leg.
func (s *TradeSummary) AddLeg(leg int, pnl float64, side core.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, LegResult{Leg: leg, PnL: pnl, Side: side})
}

// Results returns a copy of every booked leg.
func (s *TradeSummary) Results() []LegResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LegResult(nil), s.results...)
}

// LegResults returns the booked results of one leg.
func (s *TradeSummary) LegResults(leg int) []LegResult {
	return lo.Filter(s.Results(), func(r LegResult, _ int) bool { return r.Leg == leg })
}

// TotalPnL sums every leg's realised PnL.
func (s *TradeSummary) TotalPnL() float64 {
	return lo.SumBy(s.Results(), func(r LegResult) float64 { return r.PnL })
}

// WinRate is the share of profitable legs, in percent.
func WinRate(results []LegResult) float64 {
	if len(results) == 0 {
		return 0
	}
	wins := lo.CountBy(results, func(r LegResult) bool { return r.PnL > 0 })
	return float64(wins) / float64(len(results)) * 100
}

// Expectancy is the mean PnL per leg.
func Expectancy(results []LegResult) float64 {
	if len(results) == 0 {
		return 0
	}
	return lo.SumBy(results, func(r LegResult) float64 { return r.PnL }) / float64(len(results))
}

// ProfitFactor is gross profit over gross loss. Zero when no losses
// have been booked yet.
func ProfitFactor(results []LegResult) float64 {
	var grossProfit, grossLoss float64
	for _, r := range results {
		if r.PnL > 0 {
			grossProfit += r.PnL
		} else {
			grossLoss += r.PnL
		}
	}
	if grossLoss == 0 {
		return 0
	}
	return grossProfit / math.Abs(grossLoss)
}

// String formats the summary as a text table, legs side by side.
func (s *TradeSummary) String() string {
	leg1 := s.LegResults(1)
	leg2 := s.LegResults(2)

	builder := &strings.Builder{}
	table := tablewriter.NewWriter(builder)
	table.SetHeader([]string{"", "Leg 1 (1R)", "Leg 2 (runner)"})

	rows := [][]string{
		{"Legs closed", strconv.Itoa(len(leg1)), strconv.Itoa(len(leg2))},
		{"Win rate", fmt.Sprintf("%.1f%%", WinRate(leg1)), fmt.Sprintf("%.1f%%", WinRate(leg2))},
		{"Expectancy", fmt.Sprintf("%.2f", Expectancy(leg1)), fmt.Sprintf("%.2f", Expectancy(leg2))},
		{"Profit factor", fmt.Sprintf("%.2f", ProfitFactor(leg1)), fmt.Sprintf("%.2f", ProfitFactor(leg2))},
		{"PnL", fmt.Sprintf("%.2f", Expectancy(leg1)*float64(len(leg1))), fmt.Sprintf("%.2f", Expectancy(leg2)*float64(len(leg2)))},
	}
	table.AppendBulk(rows)
	table.SetCaption(true, fmt.Sprintf("%s total %.2f", s.Symbol, s.TotalPnL()))
	table.Render()
	return builder.String()
}
