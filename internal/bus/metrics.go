package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublishedTotal counts accepted publishes by event kind.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_bus_events_published_total",
		Help: "Total events accepted onto a partition queue",
	}, []string{"kind"})

	// EventsDroppedTotal counts publishes refused under backpressure.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_bus_events_dropped_total",
		Help: "Total events refused due to a full partition, by policy outcome",
	}, []string{"policy"})

	// EventsDeadLetteredTotal counts events quarantined after retry exhaustion.
	EventsDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_bus_events_dead_lettered_total",
		Help: "Total events sent to the DLQ, by handler",
	}, []string{"handler"})

	// HandlerRetriesTotal counts failed handler attempts that will be retried.
	HandlerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_bus_handler_retries_total",
		Help: "Total failed handler attempts, by handler",
	}, []string{"handler"})

	// HandlerDurationSeconds tracks per-attempt handler execution time.
	HandlerDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "esports_arb_bus_handler_duration_seconds",
		Help:    "Handler attempt duration",
		Buckets: prometheus.DefBuckets,
	})

	// DLQSize tracks the current dead-letter queue depth.
	DLQSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_bus_dlq_size",
		Help: "Current dead letter queue depth",
	})

	// PartitionsActive tracks the number of partition queues.
	PartitionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_bus_partitions_active",
		Help: "Number of partition queues created",
	})
)
