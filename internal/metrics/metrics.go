// Package metrics provides Prometheus instrumentation for the executor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts processed decisions by decision value and final
	// execution status.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_decisions_total",
		Help: "Total decisions processed",
	}, []string{"decision", "status"})

	// OrdersSubmitted counts order submissions by role and local status.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_orders_submitted_total",
		Help: "Total orders submitted to the exchange gateway",
	}, []string{"role", "status"})

	// GatewayRetries counts transient gateway failures that triggered a retry.
	GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_gateway_retries_total",
		Help: "Transient gateway errors retried with backoff",
	})

	// EmergencyCloses counts emergency market-close attempts after a failed
	// protective-stop placement.
	EmergencyCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_emergency_closes_total",
		Help: "Emergency position closes attempted",
	})

	// LedgerFailures counts ledger writes that failed after execution. These
	// are never surfaced to the caller, so the counter is the audit trail's
	// alarm signal.
	LedgerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_ledger_failures_total",
		Help: "Ledger store writes that failed",
	})

	// AuthRejections counts requests rejected by signature verification.
	AuthRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_auth_rejections_total",
		Help: "Requests rejected for bad or missing signatures",
	})

	// ExecutionLatency tracks end-to-end decision execution latency.
	ExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_execution_latency_seconds",
		Help:    "Decision execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "executor_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected execution-event stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
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

		// Use the raw path for the label; the route surface is small and fixed.
		path := r.URL.Path
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
