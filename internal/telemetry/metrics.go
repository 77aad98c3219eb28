package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gatewayd",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ChannelEventsAppendedTotal counts events (messages and deletions) appended
// to channels, by event type.
var ChannelEventsAppendedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "channel",
		Name:      "events_appended_total",
		Help:      "Total number of channel events appended, by type.",
	},
	[]string{"type"},
)

// ChannelSubscribersActive tracks the number of live SSE subscriptions.
var ChannelSubscribersActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gatewayd",
		Subsystem: "channel",
		Name:      "subscribers_active",
		Help:      "Number of active channel SSE subscriptions.",
	},
)

// StatefulTokenClaimsTotal counts stateful token claim attempts by outcome
// (won, lost, invalid).
var StatefulTokenClaimsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "token",
		Name:      "stateful_claims_total",
		Help:      "Total number of stateful token claim attempts, by outcome.",
	},
	[]string{"action", "outcome"},
)

// PresignedURLsIssuedTotal counts presigned URLs issued, by mode and direction.
var PresignedURLsIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "presign",
		Name:      "issued_total",
		Help:      "Total number of presigned URLs issued, by mode and direction.",
	},
	[]string{"mode", "direction"},
)

// AuthFailuresTotal counts authentication rejections by reason.
var AuthFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Total number of authentication failures, by reason.",
	},
	[]string{"reason"},
)

// All returns gatewayd-specific metrics for registration, beyond the shared
// HTTP duration histogram registered by NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ChannelEventsAppendedTotal,
		ChannelSubscribersActive,
		StatefulTokenClaimsTotal,
		PresignedURLsIssuedTotal,
		AuthFailuresTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
