// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Upload durations include the time a client spends streaming its payload.
var uploadBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300}

// Metrics holds all Prometheus metric collectors for the bridge.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	AcceptErrors        prometheus.Counter
	SetupErrors         prometheus.Counter

	Outcomes       *prometheus.CounterVec
	RelayErrors    prometheus.Counter
	BytesUploaded  prometheus.Counter
	BytesRelayed   prometheus.Counter
	UploadDuration prometheus.Histogram

	UpstreamResponses *prometheus.CounterVec

	AdminRequestsTotal   *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_connections_accepted_total",
			Help: "Total client connections accepted.",
		}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upload_bridge_connections_active",
			Help: "Number of client connections currently being bridged.",
		}),

		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_accept_errors_total",
			Help: "Total errors returned by the listener's accept call.",
		}),

		SetupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_connection_setup_errors_total",
			Help: "Accepted connections dropped because their timeouts could not be applied.",
		}),

		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_bridge_transfers_total",
			Help: "Completed transfers by outcome reason.",
		}, []string{"reason"}),

		RelayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_relay_errors_total",
			Help: "Replies that could not be delivered to the client.",
		}),

		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_uploaded_bytes_total",
			Help: "Bytes read from clients and streamed upstream.",
		}),

		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bridge_relayed_bytes_total",
			Help: "Bytes written back to clients.",
		}),

		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_bridge_upload_duration_seconds",
			Help:    "Time from dispatch to the end of the upstream exchange.",
			Buckets: uploadBuckets,
		}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_bridge_upstream_responses_total",
			Help: "Total upstream responses by status class.",
		}, []string{"status_class"}),

		AdminRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_bridge_admin_requests_total",
			Help: "Total admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upload_bridge_admin_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted,
		m.ConnectionsActive,
		m.AcceptErrors,
		m.SetupErrors,
		m.Outcomes,
		m.RelayErrors,
		m.BytesUploaded,
		m.BytesRelayed,
		m.UploadDuration,
		m.UpstreamResponses,
		m.AdminRequestsTotal,
		m.AdminRequestDuration,
	)

	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
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

// NormalizePath returns a bounded path label for admin requests. The
// metrics path is configurable, so it is passed in.
func NormalizePath(path, metricsPath string) string {
	for _, prefix := range []string{"/healthz", "/bridge/status", metricsPath} {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// StatusClass buckets an upstream status code into 1xx..5xx so the label
// set stays bounded.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return string(rune('0'+code/100)) + "xx"
}
