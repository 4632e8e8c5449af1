package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderDefaults(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewOrder("market-1", SideYes, 0.45, 25, created)

	assert.NotEmpty(t, o.ID)
	assert.NotEmpty(t, o.IdempotencyKey)
	assert.NotEqual(t, o.ID, o.IdempotencyKey)
	assert.Equal(t, OrderPending, o.Status)
	assert.Equal(t, created, o.CreatedAt)
	assert.Nil(t, o.PlacedAt)
}

func TestOrderStatusMachine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{name: "pending-to-placed", from: OrderPending, to: OrderPlaced, ok: true},
		{name: "pending-to-rejected", from: OrderPending, to: OrderRejected, ok: true},
		{name: "placed-to-matched", from: OrderPlaced, to: OrderMatched, ok: true},
		{name: "placed-to-cancelled", from: OrderPlaced, to: OrderCancelled, ok: true},
		{name: "matched-to-mined", from: OrderMatched, to: OrderMined, ok: true},
		{name: "mined-to-confirmed", from: OrderMined, to: OrderConfirmed, ok: true},
		{name: "pending-to-confirmed-skips", from: OrderPending, to: OrderConfirmed, ok: false},
		{name: "confirmed-is-terminal", from: OrderConfirmed, to: OrderCancelled, ok: false},
		{name: "rejected-is-terminal", from: OrderRejected, to: OrderPlaced, ok: false},
		{name: "cancelled-is-terminal", from: OrderCancelled, to: OrderPlaced, ok: false},
		{name: "failed-is-terminal", from: OrderFailed, to: OrderPending, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := NewOrder("m", SideYes, 0.5, 10, time.Time{})
			o.Status = tt.from

			err := o.SetStatus(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, o.Status)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, o.Status, "refused transition must not mutate")
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{OrderConfirmed, OrderRejected, OrderCancelled, OrderFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	live := []OrderStatus{OrderPending, OrderPlaced, OrderMatched, OrderMined}
	for _, s := range live {
		assert.False(t, s.Terminal(), string(s))
	}
}
