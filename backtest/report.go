package backtest

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/duotrade/metric"
)

// histogramBins is the bucket count of the PnL distribution chart.
const histogramBins = 15

// bootstrapSamples is the resample count of the confidence intervals.
const bootstrapSamples = 10000

// Report renders a replay result: per-leg table, aggregate table, PnL
// histogram, and bootstrap confidence intervals.
func Report(w io.Writer, r *Result, barsPerYear float64) {
	fmt.Fprintf(w, "\n=== %s | %d bars | %.2f -> %.2f ===\n\n",
		r.Symbol, r.Bars, r.StartBalance, r.FinalBalance)

	renderLegTable(w, r)
	renderAggregates(w, r, barsPerYear)
	renderHistogram(w, r)
	renderConfidence(w, r)
}

func renderLegTable(w io.Writer, r *Result) {
	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Leg", "Trades", "Win", "Loss", "% Win", "Expectancy", "Pr Fact.", "Profit"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	var totalTrades, totalWins int
	var totalProfit float64
	for _, leg := range []int{1, 2} {
		pnls := r.LegPnLs(leg)
		wins := 0
		profit := 0.0
		for _, p := range pnls {
			if p > 0 {
				wins++
			}
			profit += p
		}
		table.Append([]string{
			strconv.Itoa(leg),
			strconv.Itoa(len(pnls)),
			strconv.Itoa(wins),
			strconv.Itoa(len(pnls) - wins),
			fmt.Sprintf("%.1f %%", metric.WinRate(pnls)),
			fmt.Sprintf("%.2f", metric.Mean(pnls)),
			fmt.Sprintf("%.3f", metric.ProfitFactor(pnls)),
			fmt.Sprintf("%.2f", profit),
		})
		totalTrades += len(pnls)
		totalWins += wins
		totalProfit += profit
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(totalTrades),
		strconv.Itoa(totalWins),
		strconv.Itoa(totalTrades - totalWins),
		fmt.Sprintf("%.1f %%", r.WinRate()),
		fmt.Sprintf("%.2f", metric.Mean(r.PnLs())),
		fmt.Sprintf("%.3f", r.ProfitFactor()),
		fmt.Sprintf("%.2f", totalProfit),
	})
	table.Render()
	fmt.Fprintln(w, buffer.String())
}

func renderAggregates(w io.Writer, r *Result, barsPerYear float64) {
	fmt.Fprintln(w, "------ PERFORMANCE -------")
	fmt.Fprintf(w, "NET PROFIT:   %.2f\n", r.NetProfit())
	fmt.Fprintf(w, "PAYOFF:       %.3f\n", r.Payoff())
	fmt.Fprintf(w, "SHARPE:       %.2f\n", r.Sharpe(barsPerYear))
	fmt.Fprintf(w, "MAX DRAWDOWN: %.2f %%\n", r.MaxDrawdown()*100)
	fmt.Fprintln(w)
}

func renderHistogram(w io.Writer, r *Result) {
	pnls := r.PnLs()
	if len(pnls) == 0 {
		return
	}
	fmt.Fprintln(w, "------ PNL DISTRIBUTION -------")
	hist := histogram.Hist(histogramBins, pnls)
	if err := histogram.Fprint(w, hist, histogram.Linear(10)); err != nil {
		fmt.Fprintf(w, "histogram render failed: %v\n", err)
	}
	fmt.Fprintln(w)
}

func renderConfidence(w io.Writer, r *Result) {
	pnls := r.PnLs()
	if len(pnls) < 2 {
		return
	}
	fmt.Fprintln(w, "------ CONFIDENCE INTERVAL (95%) -------")

	meanCI := metric.Bootstrap(pnls, metric.Mean, bootstrapSamples, 0.95)
	pfCI := metric.Bootstrap(pnls, metric.ProfitFactor, bootstrapSamples, 0.95)

	fmt.Fprintf(w, "EXPECTANCY:  %.2f (%.2f ~ %.2f)\n", meanCI.Mean, meanCI.Lower, meanCI.Upper)
	fmt.Fprintf(w, "PROF.FACTOR: %.2f (%.2f ~ %.2f)\n", pfCI.Mean, pfCI.Lower, pfCI.Upper)
	fmt.Fprintln(w)
}
