package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/strandkit/strand/core/handler"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "strand").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registerer to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Skip disables the middleware for specific requests.
	Skip func(ctx handler.Context) bool
}

// Metrics instruments requests with a total counter and a duration
// histogram labeled by method, path, and status.
func Metrics[C handler.Context]() handler.Middleware[C] {
	return MetricsWithConfig[C](MetricsConfig{})
}

// MetricsWithConfig is Metrics with custom configuration.
func MetricsWithConfig[C handler.Context](cfg MetricsConfig) handler.Middleware[C] {
	if cfg.Namespace == "" {
		cfg.Namespace = "strand"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = prometheus.DefBuckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	requestsTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Name:        "requests_total",
		Help:        "Total number of processed requests",
		ConstLabels: cfg.ConstLabels,
	}, []string{"method", "path", "status"})
	requestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   cfg.Namespace,
		Name:        "request_duration_seconds",
		Help:        "Request processing duration in seconds",
		ConstLabels: cfg.ConstLabels,
		Buckets:     cfg.Buckets,
	}, []string{"method", "path"})

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			start := time.Now()
			resp := next(ctx)

			return func(w http.ResponseWriter, r *http.Request) error {
				rec := &statusRecorder{ResponseWriter: w}
				var err error
				if resp != nil {
					err = resp(rec, r)
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				requestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
				requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
				return err
			}
		}
	}
}

// LockWaitObserver builds a call-lock wait-time histogram observer for
// use with the engine's lock wait hook. It reports how long requests
// queue for the serialized execution lane.
func LockWaitObserver(cfg MetricsConfig) func(time.Duration) {
	if cfg.Namespace == "" {
		cfg.Namespace = "strand"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = prometheus.DefBuckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	hist := promauto.With(cfg.Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   cfg.Namespace,
		Name:        "call_lock_wait_seconds",
		Help:        "Time requests spent waiting for the call-lock",
		ConstLabels: cfg.ConstLabels,
		Buckets:     cfg.Buckets,
	})
	return func(d time.Duration) {
		hist.Observe(d.Seconds())
	}
}
