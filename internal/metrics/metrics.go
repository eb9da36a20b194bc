// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Backend error kinds used as label values.
const (
	ErrorKindTimeout     = "timeout"
	ErrorKindUnreachable = "unreachable"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	BackendDuration  *prometheus.HistogramVec
	BackendResponses *prometheus.CounterVec
	BackendErrors    *prometheus.CounterVec

	RewritesTotal prometheus.Counter
	Rejections    *prometheus.CounterVec

	prefixes []string
	fallback string
}

// New creates a Metrics instance with a custom registry and all collectors registered.
// mountPath and metricsPath are used as bounded path labels; a root mount
// labels everything not served by the proxy itself as "/".
func New(mountPath, metricsPath string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contents_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contents_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contents_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contents_proxy_backend_request_duration_seconds",
			Help:    "Backend call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		BackendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contents_proxy_backend_responses_total",
			Help: "Total backend responses by method and status code.",
		}, []string{"method", "status_code"}),

		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contents_proxy_backend_errors_total",
			Help: "Backend calls that failed without a response, by kind.",
		}, []string{"kind"}),

		RewritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contents_proxy_rewrites_total",
			Help: "Requests whose path was changed by a rewrite rule.",
		}),

		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contents_proxy_rejected_requests_total",
			Help: "Requests rejected before reaching the backend, by reason.",
		}, []string{"reason"}),

		prefixes: knownPrefixes(mountPath, metricsPath),
		fallback: "other",
	}
	if strings.Trim(mountPath, "/") == "" {
		m.fallback = "/"
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.BackendDuration,
		m.BackendResponses,
		m.BackendErrors,
		m.RewritesTotal,
		m.Rejections,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the local routes first so they win over a mount that
// contains them.
func knownPrefixes(mountPath, metricsPath string) []string {
	prefixes := []string{"/healthz", "/proxy/status"}
	if p := strings.TrimSuffix(metricsPath, "/"); p != "" {
		prefixes = append(prefixes, p)
	}
	if p := strings.TrimSuffix(mountPath, "/"); p != "" {
		prefixes = append(prefixes, p)
	}
	return prefixes
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return m.fallback
}
