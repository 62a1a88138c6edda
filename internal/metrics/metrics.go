// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency. Media streams can run long,
// so the tail reaches further than a typical API histogram.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	// ResponsesDispatched counts upstream responses by how they were relayed:
	// redirect, headers_only, rewritten, stream.
	ResponsesDispatched *prometheus.CounterVec
	BodyBytesRewritten  prometheus.Counter
	CookiesRelayed      prometheus.Counter
	Failures            *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mask_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mask_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mask_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mask_proxy_upstream_request_duration_seconds",
			Help:    "Time to upstream response headers in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mask_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		ResponsesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mask_proxy_responses_dispatched_total",
			Help: "Upstream responses relayed to clients, by dispatch mode.",
		}, []string{"mode"}),

		BodyBytesRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mask_proxy_body_bytes_rewritten_total",
			Help: "Decoded body bytes passed through the content rewriter.",
		}),

		CookiesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mask_proxy_cookies_relayed_total",
			Help: "Set-Cookie headers relayed from the upstream.",
		}),

		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mask_proxy_failures_total",
			Help: "Proxy failures by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ResponsesDispatched,
		m.BodyBytesRewritten,
		m.CookiesRelayed,
		m.Failures,
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

// NormalizeRoute returns a bounded route label from the matched Echo route
// pattern. The catch-all proxy route becomes "proxy"; unmatched requests
// become "other". Raw request paths are never used as labels since every
// upstream page would create a new series.
func NormalizeRoute(route string) string {
	switch {
	case route == "":
		return "other"
	case route == "/*" || strings.HasSuffix(route, "/*"):
		return "proxy"
	default:
		return route
	}
}
