// Package metrics exposes the Prometheus instrumentation for the trading
// loop and its broker boundary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coinpilot_cycles_total", Help: "Strategy cycles by emitted signal"},
		[]string{"strategy", "symbol", "signal"},
	)
	CycleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coinpilot_cycle_errors_total", Help: "Cycles that failed before acting"},
		[]string{"strategy", "symbol", "reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coinpilot_orders_total", Help: "Orders submitted to the broker"},
		[]string{"symbol", "side", "result"},
	)
	BrokerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "coinpilot_broker_retries_total", Help: "Transient broker request retries"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "coinpilot_open_positions", Help: "Currently open ledger positions"},
	)
	TrailingStop = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "coinpilot_trailing_stop", Help: "Active trailing stop level per strategy"},
		[]string{"strategy", "symbol"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleErrorsTotal, OrdersTotal, BrokerRetriesTotal, OpenPositions, TrailingStop)
}

// Serve starts the /metrics listener and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
