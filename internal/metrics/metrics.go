// Package metrics provides Prometheus metrics for the router.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Routing outcomes, one per terminal state of the router pipeline.
const (
	OutcomePassThrough      = "passthrough"
	OutcomeInstructions     = "instructions"
	OutcomeForwarded        = "forwarded"
	OutcomeEntryNotFound    = "entry_not_found"
	OutcomeBackendNotFound  = "backend_not_found"
	OutcomeLookupError      = "lookup_error"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeError            = "error"
)

// Lookup and forward result labels.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds all Prometheus metric collectors for the router.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RouteOutcomes *prometheus.CounterVec

	RegistryLookups  *prometheus.CounterVec
	RegistryDuration *prometheus.HistogramVec

	ForwardTotal    *prometheus.CounterVec
	ForwardDuration *prometheus.HistogramVec
	FallbacksTotal  prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_router_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_router_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_router_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RouteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_router_route_outcomes_total",
			Help: "Routed requests by terminal outcome.",
		}, []string{"outcome"}),

		RegistryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_router_registry_lookups_total",
			Help: "Registry lookups by stage and result.",
		}, []string{"stage", "result"}),

		RegistryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_router_registry_lookup_duration_seconds",
			Help:    "Registry lookup latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"stage"}),

		ForwardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_router_forward_requests_total",
			Help: "Forward attempts by strategy and result.",
		}, []string{"strategy", "result"}),

		ForwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_router_forward_duration_seconds",
			Help:    "Time until the backend answered (or failed), by strategy.",
			Buckets: defaultBuckets,
		}, []string{"strategy"}),

		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_router_forward_fallbacks_total",
			Help: "Direct forwards that failed and were retried through the rewrite fallback.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RouteOutcomes,
		m.RegistryLookups,
		m.RegistryDuration,
		m.ForwardTotal,
		m.ForwardDuration,
		m.FallbacksTotal,
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

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/router/status", "/metrics"}

// PathAgent is the path label for requests routed to an agent subdomain.
const PathAgent = "agent"

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
