package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetgate_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetgate_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetgate_decisions_total",
		Help: "Validate decisions by operation type and outcome.",
	}, []string{"op_type", "approved"})

	policiesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assetgate_policies_total",
		Help: "Number of configured policies.",
	})

	activeTokensTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assetgate_active_tokens_total",
		Help: "Number of active (non-revoked, non-expired) API tokens.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, decisionsTotal, policiesTotal, activeTokensTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// observeDecision counts a validate outcome.
func observeDecision(opType string, approved bool) {
	decisionsTotal.WithLabelValues(opType, strconv.FormatBool(approved)).Inc()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
