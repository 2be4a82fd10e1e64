package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	require.NoError(t, jobs.Track("ledger:gl.integrity").End(nil))
	jobs.AddDrift(7, 2)

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_ledger_jobs_total{job="ledger:gl.integrity",status="success"} 1`)
	require.Contains(t, body, `odyssey_ledger_balance_drift_total{company="7"} 2`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/journals")

	req := httptest.NewRequest(http.MethodGet, "/api/journals", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_ledger_http_requests_total{code="418",method="GET",route="/api/journals"} 1`)
	require.Contains(t, body, `odyssey_ledger_http_request_duration_seconds_bucket{route="/api/journals"`)
}

func TestObserveCommand(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveCommand("journal.post", "ok")
	metrics.ObserveCommand("journal.post", "replayed")
	metrics.ObserveCommand("journal.post", "replayed")

	var nilMetrics *Metrics
	nilMetrics.ObserveCommand("journal.post", "ok")

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_ledger_commands_total{operation="journal.post",outcome="ok"} 1`)
	require.Contains(t, body, `odyssey_ledger_commands_total{operation="journal.post",outcome="replayed"} 2`)
}
