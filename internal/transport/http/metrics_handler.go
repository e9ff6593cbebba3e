package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus scrape endpoint
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler wraps the handler of the OpenTelemetry Prometheus
// exporter. Without one, the default Prometheus registry is served.
func NewMetricsHandler(prometheusHTTP http.Handler) *MetricsHandler {
	if prometheusHTTP == nil {
		prometheusHTTP = promhttp.Handler()
	}
	return &MetricsHandler{handler: prometheusHTTP}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}
