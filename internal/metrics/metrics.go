// Package metrics provides Prometheus instrumentation for the trade engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts committed settlements, partitioned by side.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_settlements_total",
		Help: "Total number of settlements committed",
	}, []string{"side"})

	// SettlementRejections counts settlements rejected by solvency checks.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_settlement_rejections_total",
		Help: "Settlements rejected by solvency checks",
	}, []string{"reason"})

	// QuoteLookups counts upstream quote lookups by asset class and outcome.
	QuoteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_quote_lookups_total",
		Help: "Upstream quote lookups",
	}, []string{"class", "outcome"})

	// WatchEvaluations counts conditional-order matcher evaluations by outcome.
	WatchEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_watch_evaluations_total",
		Help: "Alert and limit-order evaluations",
	}, []string{"kind", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stonks_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stonks_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stonks_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		// The pattern is only populated once the mux has routed the request.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
