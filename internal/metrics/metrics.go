// Package metrics exposes Prometheus collectors for the store, the synchronizer and HTTP.
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
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retroboard_store_requests_total",
			Help: "Document store calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	StoreConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retroboard_store_conflicts_total",
			Help: "Conditional writes rejected because the revision was stale",
		},
		[]string{"path"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retroboard_rate_limited_total",
			Help: "Store calls refused by the outbound rate limiter",
		},
	)

	SyncReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retroboard_sync_reloads_total",
			Help: "Full board reloads by outcome",
		},
		[]string{"outcome"},
	)

	SyncReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retroboard_sync_reload_duration_seconds",
			Help:    "Duration of full board reloads",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	Backups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retroboard_backups_total",
			Help: "Backup snapshot attempts by outcome",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Outcome turns an error into a low-cardinality label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
