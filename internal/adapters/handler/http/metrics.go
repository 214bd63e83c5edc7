package http

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
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "c2_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Datagram sizes on the agent-facing routes only.
	datagramBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "c2_http_datagram_bytes",
			Help:    "Request body size of heartbeat and acknowledgement datagrams",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"route"},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "c2_event_stream_clients",
			Help: "Connected fleet event stream clients",
		},
	)
)

// MetricsMiddleware records request counts and latency per chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgraded connections live for minutes and would skew durations.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if r.ContentLength > 0 && (route == "/c2/heartbeat" || route == "/c2/acknowledge") {
			datagramBytes.WithLabelValues(route).Observe(float64(r.ContentLength))
		}
	})
}

// routePattern keeps label cardinality bounded: unmatched paths collapse
// into one label instead of one per URL.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
