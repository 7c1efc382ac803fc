// Package httpx serves the operations endpoint of the long-running binaries.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the process can do useful work. A nil ReadyFunc is always ready.
type ReadyFunc func() bool

// NewRouter exposes /healthz, /readyz and /metrics for reg.
func NewRouter(log *slog.Logger, reg *prometheus.Registry, ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	var h http.Handler = mux
	h = NewMetrics(reg).Middleware(h)
	h = RequestID(h)
	h = AccessLog(log)(h)

	return h
}
