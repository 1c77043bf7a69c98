// Package metrics provides Prometheus metrics for the shim.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the shim.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	DialAttempts     prometheus.Counter
	DialDuration     prometheus.Histogram
	BackendResponses *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcgi_shim_http_requests_total",
			Help: "Total inbound gateway requests.",
		}, []string{"method", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fcgi_shim_http_request_duration_seconds",
			Help:    "Inbound gateway request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fcgi_shim_http_requests_in_flight",
			Help: "Number of gateway requests currently being processed.",
		}),

		DialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fcgi_shim_backend_dial_attempts_total",
			Help: "Total backend socket dial attempts, including retries.",
		}),

		DialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fcgi_shim_backend_dial_duration_seconds",
			Help:    "Time from first dial attempt to an established backend connection.",
			Buckets: defaultBuckets,
		}),

		BackendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcgi_shim_backend_responses_total",
			Help: "Total backend responses by rewritten status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.DialAttempts,
		m.DialDuration,
		m.BackendResponses,
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
