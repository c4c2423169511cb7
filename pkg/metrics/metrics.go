package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	// ProviderResults counts routing payloads by stage and provider (live or fallback)
	ProviderResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_provider_results_total",
		Help: "Routing payloads returned by stage and provider",
	}, []string{"stage", "provider"})

	FallbackReasons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_fallback_reasons_total",
		Help: "Fallback payloads by stage and reason code",
	}, []string{"stage", "reason"})

	BackendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_backend_retries_total",
		Help: "Retried routing backend calls by stage",
	}, []string{"stage"})

	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_backend_latency_seconds",
		Help:    "Latency of single routing backend attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"stage"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_intent_transitions_total",
		Help: "Intent status transitions",
	}, []string{"from", "to"})

	IntentLifecycleTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_intent_lifecycle_seconds",
		Help:    "Time from intent creation to a terminal status",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"status"})

	ActiveIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_active_intents",
		Help: "Intents whose lifecycle driver is currently scheduled",
	})

	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_settlement_rejections_total",
		Help: "Settlement attempts rejected by reason code",
	}, []string{"reason"})

	SettlementsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_settlements_committed_total",
		Help: "Settlements that completed the unlock, callback and settle sequence",
	})

	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_store_conflicts_total",
		Help: "Compare-and-swap conflicts on the intent store by outcome",
	}, []string{"outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_notifications_total",
		Help: "Provider notifications by event and result",
	}, []string{"event", "result"})

	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_event_publish_errors_total",
		Help: "Lifecycle events that could not be published",
	})
)

// UnclassifiedStates counts live status strings that matched neither the
// success nor the failure synonyms
var UnclassifiedStates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "router_status_unclassified_total",
	Help: "Live provider states not recognized as success, failure or pending",
}, []string{"state"})

// CircuitState reports each breaker as 0 closed, 1 half-open, 2 open
var CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "router_circuit_state",
	Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
}, []string{"name"})
