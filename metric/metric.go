// Package metric holds the engine's prometheus instrumentation and the
// pure statistics used by backtest reporting.
package metric

import (
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of the values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// WinRate is the share of non-negative values, in percent.
func WinRate(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	wins := 0
	for _, v := range values {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(values)) * 100
}

// Payoff calculates the ratio of average wins to average losses.
// Returns the absolute value of the ratio.
func Payoff(values []float64) float64 {
	wins, losses := partitionTradeResults(values)

	if len(losses) == 0 {
		return 10 // Default value when no losses
	}

	avgWin := stat.Mean(wins, nil)
	avgLoss := stat.Mean(losses, nil)

	if avgLoss == 0 {
		return 10 // Prevent division by zero
	}

	return math.Abs(avgWin / avgLoss)
}

// ProfitFactor calculates the ratio of total profits to total losses.
// Returns the absolute value of the ratio.
func ProfitFactor(values []float64) float64 {
	var (
		totalWins   float64
		totalLosses float64
	)

	for _, value := range values {
		if value >= 0 {
			totalWins += value
		} else {
			totalLosses += value
		}
	}

	if totalLosses == 0 {
		return 10 // Default value when no losses
	}

	return math.Abs(totalWins / totalLosses)
}

// Sharpe calculates the annualised Sharpe ratio of a per-period return
// series. periodsPerYear scales the per-period figure (e.g. 252 for
// daily returns).
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, stdDev := stat.MeanStdDev(returns, nil)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev * math.Sqrt(periodsPerYear)
}

// MaxDrawdown calculates the largest peak-to-trough decline of an equity
// curve, returned as a positive fraction (0.25 = 25% drawdown).
func MaxDrawdown(equity []float64) float64 {
	var peak, maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// BootstrapInterval is a bootstrap confidence interval for one
// statistic over the trade results.
type BootstrapInterval struct {
	Lower  float64
	Upper  float64
	StdDev float64
	Mean   float64
}

// Bootstrap resamples values with replacement and reports the spread of
// measure across the resamples: the mean, standard deviation, and the
// two-sided interval at the given confidence (0.95 for 95%). A zero
// interval is returned for empty input.
func Bootstrap(values []float64, measure func([]float64) float64, resamples int, confidence float64) BootstrapInterval {
	if len(values) == 0 || resamples <= 0 {
		return BootstrapInterval{}
	}

	stats := make([]float64, resamples)
	draw := make([]float64, len(values))
	for i := range stats {
		for j := range draw {
			draw[j] = lo.Sample(values)
		}
		stats[i] = measure(draw)
	}
	sort.Float64s(stats)

	mean, stdDev := stat.MeanStdDev(stats, nil)
	tail := (1 - confidence) / 2
	return BootstrapInterval{
		Lower:  stat.Quantile(tail, stat.LinInterp, stats, nil),
		Upper:  stat.Quantile(1-tail, stat.LinInterp, stats, nil),
		StdDev: stdDev,
		Mean:   mean,
	}
}

// partitionTradeResults separates trading results into wins and losses.
func partitionTradeResults(values []float64) (wins []float64, losses []float64) {
	for _, value := range values {
		if value >= 0 {
			wins = append(wins, value)
		} else {
			losses = append(losses, math.Abs(value)) // Store absolute values of losses
		}
	}
	return wins, losses
}
