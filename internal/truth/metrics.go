package truth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts truth state transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_truth_transitions_total",
		Help: "Total truth engine state transitions",
	}, []string{"from", "to"})

	// EventsDroppedTotal counts events refused at admission.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_truth_events_dropped_total",
		Help: "Total match events dropped at admission, by reason",
	}, []string{"reason"})

	// ContradictionsTotal counts winner contradictions.
	ContradictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_truth_contradictions_total",
		Help: "Total winner contradictions that reset a pending outcome",
	})

	// FinalizationsTotal counts matches reaching FINAL.
	FinalizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_truth_finalizations_total",
		Help: "Total matches finalized",
	})
)
