package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stonksbot/trade-engine/internal/metrics"
)

func TestMiddleware_LabelsWithRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/quotes/{symbol}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	patterned := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/quotes/{symbol}", "200")
	raw := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/quotes/AAPL", "200")
	before := testutil.ToFloat64(patterned)

	req := httptest.NewRequest(http.MethodGet, "/quotes/AAPL", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(patterned) - before; got != 1 {
		t.Errorf("expected one request counted under the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(raw); got != 0 {
		t.Errorf("expected no requests counted under the raw path, got %v", got)
	}
}
