package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotrade_cycles_total",
			Help: "Total number of worker cycles run (by symbol).",
		},
		[]string{"symbol"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotrade_signals_total",
			Help: "Total number of entry signals emitted (by symbol and side).",
		},
		[]string{"symbol", "side"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotrade_orders_submitted_total",
			Help: "Total number of leg orders submitted (by symbol and leg).",
		},
		[]string{"symbol", "leg"},
	)

	OrderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotrade_order_errors_total",
			Help: "Total number of gateway order failures (by symbol and error kind).",
		},
		[]string{"symbol", "kind"},
	)

	OpenDualTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duotrade_open_dual_trades",
			Help: "Current number of open dual trades across all symbols.",
		},
	)

	AccountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duotrade_account_equity",
			Help: "Last observed account equity.",
		},
	)

	DailyRealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duotrade_daily_realized_pnl",
			Help: "Realised PnL booked during the current UTC day.",
		},
	)
)

func init() {
	prometheus.MustRegister(Cycles, Signals, OrdersSubmitted, OrderErrors,
		OpenDualTrades, AccountEquity, DailyRealizedPnL)
}

// Serve exposes the /metrics endpoint on addr. Blocks; run in its own
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
