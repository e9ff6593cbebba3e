package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridexport/internal/infrastructure"
	"gridexport/internal/shared/testutil"
)

func newTestProviders(t *testing.T) *infrastructure.OTelProviders {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	cfg := infrastructure.DefaultOTelConfig()
	cfg.EnableTracing = true
	cfg.TraceExporter = "none"

	providers, err := infrastructure.InitializeOTel(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { providers.Shutdown(context.Background()) })
	return providers
}

func TestOTelMiddleware_RecordsRouteMetrics(t *testing.T) {
	providers := newTestProviders(t)
	m, err := NewOTelMiddleware(providers, nil)
	require.NoError(t, err)

	var traceID string
	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/export/{grid}/csv", func(w http.ResponseWriter, r *http.Request) {
		traceID = infrastructure.GetTraceID(r.Context())
		w.Write([]byte("sku\r\n"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/export/product_listing/csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, traceID, 32)

	scrape := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `route="/api/export/{grid}/csv"`)
	assert.Contains(t, body, `status_code="200"`)
}

func TestOTelMiddleware_SharedMetrics(t *testing.T) {
	providers := newTestProviders(t)
	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	m, err := NewOTelMiddleware(providers, metrics)
	require.NoError(t, err)
	assert.Same(t, metrics, m.metrics)
}

func TestResponseWriter_Streaming(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusPartialContent)
	rw.WriteHeader(http.StatusInternalServerError)
	rw.Write([]byte("row\n"))
	rw.Flush()

	assert.Equal(t, http.StatusPartialContent, rw.statusCode)
	assert.Equal(t, int64(4), rw.bytesWritten)
	assert.True(t, w.Flushed)
	assert.Same(t, w, rw.Unwrap())
	assert.NoError(t, http.NewResponseController(rw).Flush())
}

func TestTraceMiddleware(t *testing.T) {
	newTestProviders(t)

	var spanValid bool
	r := chi.NewRouter()
	r.With(TraceMiddleware("export.stream")).Get("/api/export/{grid}/csv", func(w http.ResponseWriter, r *http.Request) {
		spanValid = infrastructure.TraceIDFromContext(r.Context()) != ""
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/export/product_listing/csv", nil))
	assert.True(t, spanValid)
}

func TestGetRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:4711"
	assert.Equal(t, "10.0.0.9:4711", GetRealIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.10")
	assert.Equal(t, "192.0.2.10", GetRealIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", GetRealIP(r))
}
