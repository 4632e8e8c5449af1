package trading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts trading state transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_trading_transitions_total",
		Help: "Total trading engine state transitions",
	}, []string{"from", "to"})

	// IntentsEmittedTotal counts emitted order intents.
	IntentsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_trading_intents_emitted_total",
		Help: "Total order intents emitted by the pair-arb evaluation",
	})

	// OpportunitiesRejectedTotal counts ShouldBuyMore rejections by reason.
	OpportunitiesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_trading_opportunities_rejected_total",
		Help: "Total buy evaluations rejected, by reason code",
	}, []string{"reason"})

	// FillsAppliedTotal counts fills applied to positions.
	FillsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_trading_fills_applied_total",
		Help: "Total fills applied, by side",
	}, []string{"side"})

	// OrderRejectsTotal counts order placement rejections.
	OrderRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_trading_order_rejects_total",
		Help: "Total order placement rejections",
	})

	// CancelFailuresTotal counts cancel failures.
	CancelFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_trading_cancel_failures_total",
		Help: "Total order cancel failures",
	})

	// CircuitBreakerTripsTotal counts HALT entries.
	CircuitBreakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_trading_circuit_breaker_trips_total",
		Help: "Total circuit breaker trips into HALT",
	})
)
