package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quantbot_ticks_total", Help: "Price observations processed"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quantbot_orders_total", Help: "Orders filled"},
		[]string{"symbol", "side", "tag"},
	)
	LoopErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quantbot_loop_errors_total", Help: "Live loop iterations abandoned on error"},
		[]string{"symbol"},
	)
	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "quantbot_equity", Help: "Latest equity sample"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, LoopErrorsTotal, Equity)
}

// Serve exposes /metrics and /health on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
