package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntentsEnqueued counts status changes deferred while offline.
	IntentsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inspectsync_intents_enqueued_total",
			Help: "Total number of status-change intents queued for later replay",
		},
	)

	// SyncAttempts records replay attempts by result (success|failure) and failure reason.
	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectsync_sync_attempts_total",
			Help: "Total number of intent replay attempts",
		},
		[]string{"result", "reason"},
	)

	// IntentsAbandoned counts intents dropped after exhausting their attempts.
	IntentsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectsync_intents_abandoned_total",
			Help: "Total number of intents dropped after the retry cap",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks the number of pending intents observed by the last drain.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspectsync_queue_depth",
			Help: "Pending intents remaining after the last drain",
		},
	)

	// DrainDuration measures complete drain passes.
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inspectsync_drain_duration_seconds",
			Help:    "Duration of queue drain passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Online mirrors the connectivity monitor (1 online, 0 offline).
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspectsync_online",
			Help: "Whether the agent currently believes the remote API is reachable",
		},
	)

	// PersistenceDegraded is 1 once the local store has fallen back to memory.
	PersistenceDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspectsync_persistence_degraded",
			Help: "Whether local persistence failed and the store runs in memory",
		},
	)

	// Reads counts read-path results by resource and source (live|cache|miss).
	Reads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectsync_reads_total",
			Help: "Read-path results by data source",
		},
		[]string{"resource", "source"},
	)

	// APILatency measures local agent HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inspectsync_api_latency_seconds",
			Help:    "Agent API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestsInFlight tracks agent API requests currently being served.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspectsync_api_requests_in_flight",
			Help: "Agent API requests currently being served",
		},
	)
)

// SetOnline records the connectivity state as a gauge value.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
