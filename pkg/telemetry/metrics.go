package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	rateLimitedTotal    *prometheus.CounterVec
	ssrfRejectionsTotal *prometheus.CounterVec
	upstreamErrorsTotal *prometheus.CounterVec

	rewritesTotal       prometheus.Counter
	streamedBytesTotal  *prometheus.CounterVec
	configReloadsTotal  *prometheus.CounterVec
	limiterEvictedTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests by endpoint, method and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
			[]string{"endpoint"},
		),

		ssrfRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ssrf_rejections_total",
				Help: "Image-proxy targets rejected by security validation, by decision",
			},
			[]string{"decision"},
		),

		upstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Upstream fetch failures by endpoint and reason",
			},
			[]string{"endpoint", "reason"},
		),

		rewritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_url_rewrites_total",
				Help: "Image URLs rewritten inside upstream JSON responses",
			},
		),

		streamedBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_streamed_bytes_total",
				Help: "Response body bytes streamed to clients by endpoint",
			},
			[]string{"endpoint"},
		),

		configReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_config_reloads_total",
				Help: "Configuration reload attempts by status",
			},
			[]string{"status"},
		),

		limiterEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rate_limiter_evictions_total",
				Help: "Stale client windows evicted by the rate limiter sweeper",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitedTotal,
		m.ssrfRejectionsTotal,
		m.upstreamErrorsTotal,
		m.rewritesTotal,
		m.streamedBytesTotal,
		m.configReloadsTotal,
		m.limiterEvictedTotal,
	)

	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(endpoint, method string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(endpoint string) {
	m.rateLimitedTotal.WithLabelValues(endpoint).Inc()
}

// RecordSSRFRejection records a rejected image-proxy target.
func (m *Metrics) RecordSSRFRejection(decision string) {
	m.ssrfRejectionsTotal.WithLabelValues(decision).Inc()
}

// RecordUpstreamError records an upstream fetch failure.
func (m *Metrics) RecordUpstreamError(endpoint, reason string) {
	m.upstreamErrorsTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordRewrites adds to the rewritten-URL counter.
func (m *Metrics) RecordRewrites(count int) {
	if count > 0 {
		m.rewritesTotal.Add(float64(count))
	}
}

// RecordStreamedBytes adds to the streamed-byte counter for an endpoint.
func (m *Metrics) RecordStreamedBytes(endpoint string, n int64) {
	if n > 0 {
		m.streamedBytesTotal.WithLabelValues(endpoint).Add(float64(n))
	}
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloadsTotal.WithLabelValues(status).Inc()
}

// RecordLimiterEvictions adds to the sweeper eviction counter.
func (m *Metrics) RecordLimiterEvictions(count int) {
	if count > 0 {
		m.limiterEvictedTotal.Add(float64(count))
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and duration around a handler.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordRequest(endpointName(r.URL.Path), r.Method, wrapped.statusCode, time.Since(start))
	})
}

// statusCapturingWriter wraps http.ResponseWriter to capture the status code.
type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// endpointName normalizes a request path to a bounded label value.
func endpointName(path string) string {
	switch path {
	case "/api/proxy":
		return "proxy"
	case "/api/proxy-img":
		return "proxy_img"
	case "/admin/health":
		return "health"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
