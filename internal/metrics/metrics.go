// Package metrics registers the gateway's prometheus collectors, exposed at
// GET /stats (spec.md §4.9). Collectors are process-wide globals via
// promauto, the conventional idiom for this library — not the "global
// singleton" anti-pattern spec.md §9 calls out for logging/registries,
// which this gateway instead threads through explicit dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of /v1/messages requests by outcome",
		},
		[]string{"route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gateway_request_duration_seconds",
			Help: "End-to-end request duration in seconds",
		},
		[]string{"route"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gateway_upstream_latency_seconds",
			Help: "Server-layer outbound HTTP call latency in seconds",
		},
		[]string{"provider", "model"},
	)

	PipelineHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_pipeline_health",
			Help: "1 if a pipeline is healthy, 0 otherwise",
		},
		[]string{"pipeline_id"},
	)

	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pipeline_failures_total",
			Help: "Consecutive-failure events recorded by the switching controller",
		},
		[]string{"pipeline_id", "recoverability"},
	)

	KeyRotationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_key_rotation_events_total",
			Help: "API key state transitions by provider and event kind",
		},
		[]string{"provider", "event"},
	)

	ConversationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_conversation_queue_depth",
			Help: "Total queued (non-processing) requests across all conversations",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Number of live flow-controller sessions",
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_dead_letters_total",
			Help: "Requests that exhausted retries or failed non-retryably",
		},
	)
)
