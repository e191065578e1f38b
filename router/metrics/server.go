package metrics

import (
	"net/http"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the metrics of g together with a health check.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer starts HTTP server for Prometheus metrics
func StartMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler(g)}

	dslog.Zero.Info().
		Str("addr", addr).
		Msg("Starting metrics server")

	// Run in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			dslog.Zero.Error().
				Err(err).
				Msg("Metrics server failed")
		}
	}()
	return srv
}
