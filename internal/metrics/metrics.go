// Package metrics provides Prometheus instrumentation for the accounting engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts processed events by kind and outcome
	// (applied, skipped, violation, noop).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_events_total",
		Help: "Total number of contract events processed",
	}, []string{"kind", "outcome"})

	// EventLatency tracks the read-reduce-commit duration of a single event.
	EventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounting_event_latency_seconds",
		Help:    "Event processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ConsistencyViolations counts events skipped because the ledger state
	// did not match the event.
	ConsistencyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_consistency_violations_total",
		Help: "Events skipped due to data-consistency violations",
	}, []string{"kind", "reason"})

	// PointsForfeited accumulates points surrendered by unstakes.
	PointsForfeited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_points_forfeited_total",
		Help: "Reward points forfeited by unstaking, by component",
	}, []string{"component"})

	// ActiveStakes tracks the net number of staked units seen since start.
	ActiveStakes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accounting_active_stakes",
		Help: "Net staked units observed by this process",
	})

	// CheckpointBlock is the last committed block per chain.
	CheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "accounting_checkpoint_block",
		Help: "Block number of the last committed event",
	}, []string{"chain_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accounting_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounting_http_request_duration_seconds",
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

// Hijack lets the WebSocket upgrader take over connections that pass
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
