// Package metrics provides Prometheus instrumentation for the collateral engine.
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
	// DepositsTotal counts accepted deposits.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collateral_deposits_total",
		Help: "Total number of accepted collateral deposits",
	})

	// MintsTotal counts finalized mints, partitioned by the path that
	// finalized them (primary, manual, default).
	MintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collateral_mints_total",
		Help: "Total number of finalized mints",
	}, []string{"path"})

	// RefundsTotal counts emergency refunds by trigger (strategy, bypass, sweep).
	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collateral_refunds_total",
		Help: "Total number of emergency refunds",
	}, []string{"trigger"})

	// WithdrawalsTotal counts successful burns against minted positions.
	WithdrawalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collateral_withdrawals_total",
		Help: "Total number of successful withdrawals",
	})

	// FulfillmentFailures counts failed primary fulfillments by cause
	// (error, parse).
	FulfillmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collateral_fulfillment_failures_total",
		Help: "Primary fulfillments absorbed as failures",
	}, []string{"cause"})

	// BreakerPaused is 1 while the circuit breaker gates submissions.
	BreakerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collateral_breaker_paused",
		Help: "Whether new submissions are paused by the circuit breaker",
	})

	// SweepCollected observes how many positions each automation scan found.
	SweepCollected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collateral_sweep_collected",
		Help:    "Eligible positions collected per automation scan",
		Buckets: []float64{0, 1, 2, 5, 10},
	})

	// WebSocketClients tracks connected event-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collateral_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collateral_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collateral_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
