package types

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderMatched   OrderStatus = "MATCHED"
	OrderMined     OrderStatus = "MINED"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

// orderTransitions encodes the legal status machine:
// PENDING -> PLACED -> (MATCHED -> MINED -> CONFIRMED) | REJECTED | CANCELLED | FAILED.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPlaced, OrderRejected, OrderCancelled, OrderFailed},
	OrderPlaced:  {OrderMatched, OrderRejected, OrderCancelled, OrderFailed},
	OrderMatched: {OrderMined, OrderCancelled, OrderFailed},
	OrderMined:   {OrderConfirmed, OrderFailed},
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderConfirmed, OrderRejected, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a tracked order for one market leg.
type Order struct {
	ID             string
	MarketID       string
	Side           Side
	Price          float64
	Size           float64 // quote units
	Status         OrderStatus
	IdempotencyKey string
	CreatedAt      time.Time
	PlacedAt       *time.Time
	MatchedAt      *time.Time
	FilledSize     float64
	AvgFillPrice   *float64
	RejectReason   string
}

// NewOrder creates a PENDING order with fresh identifiers.
func NewOrder(marketID string, side Side, price, size float64, createdAt time.Time) *Order {
	return &Order{
		ID:             uuid.NewString(),
		MarketID:       marketID,
		Side:           side,
		Price:          price,
		Size:           size,
		Status:         OrderPending,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      createdAt,
	}
}

// SetStatus applies a status transition, refusing illegal moves.
func (o *Order) SetStatus(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	o.Status = next
	return nil
}
