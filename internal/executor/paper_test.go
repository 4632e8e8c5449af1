package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/testutil"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type trackedOrder struct {
	marketID string
	order    *types.Order
}

type stubTracker struct {
	mu     sync.Mutex
	orders []trackedOrder
}

func (s *stubTracker) TrackOrder(marketID string, order *types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, trackedOrder{marketID: marketID, order: order})
}

func newTestExecutor(t *testing.T) (*Paper, *bus.Bus, *testutil.MockStorage, *stubTracker) {
	t.Helper()

	eventBus, err := bus.New(&bus.Config{
		Bus: config.BusConfig{
			MaxQueueSize:     100,
			OverflowPolicy:   config.OverflowDrop,
			HandlerTimeout:   time.Second,
			MaxRetryAttempts: 3,
			RetryBaseDelay:   time.Millisecond,
		},
		Logger: zaptest.NewLogger(t),
		Clock:  clock.NewMock(time.Time{}),
	})
	require.NoError(t, err)

	store := testutil.NewMockStorage()
	tracker := &stubTracker{}

	exec, err := NewPaper(&Config{
		Bus:     eventBus,
		Storage: store,
		Clock:   clock.NewMock(time.Time{}),
		Logger:  zaptest.NewLogger(t),
		Tracker: tracker,
	})
	require.NoError(t, err)
	return exec, eventBus, store, tracker
}

func TestOrderIntentProducesPlacementAndFill(t *testing.T) {
	t.Parallel()

	exec, eventBus, store, tracker := newTestExecutor(t)

	var mu sync.Mutex
	var updates []*types.OrderUpdateEvent
	var fills []*types.FillEvent

	eventBus.Subscribe(types.KindOrderUpdate, bus.NewSubscription("updates", func(_ context.Context, ev types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, ev.(*types.OrderUpdateEvent))
		return nil
	}), 0)
	eventBus.Subscribe(types.KindFill, bus.NewSubscription("fills", func(_ context.Context, ev types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		fills = append(fills, ev.(*types.FillEvent))
		return nil
	}), 0)
	eventBus.Start()
	defer eventBus.Stop()

	intent := &types.OrderIntent{
		BaseEvent: types.NewBaseEvent(1000, "market-1"),
		Side:      types.SideYes,
		Price:     0.45,
		Size:      25,
		Strategy:  "pair_arb",
	}
	require.NoError(t, exec.HandleIntent(context.Background(), intent))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1 && len(fills) == 1
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, types.OrderUpdatePlaced, updates[0].Update)
	assert.Equal(t, "market-1", updates[0].MarketID)

	assert.Equal(t, types.SideYes, fills[0].Side)
	assert.InDelta(t, 25.0/0.45, fills[0].Qty, 1e-9)
	assert.InDelta(t, 0.45, fills[0].Price, 1e-9)
	assert.Equal(t, updates[0].OrderID, fills[0].OrderID)

	// Order handed to the tracker before any lifecycle event.
	tracker.mu.Lock()
	require.Len(t, tracker.orders, 1)
	assert.Equal(t, "market-1", tracker.orders[0].marketID)
	tracker.mu.Unlock()

	// Execution recorded.
	assert.Equal(t, 1, store.ExecutionCount())
}

func TestCancelIntentProducesCancelUpdate(t *testing.T) {
	t.Parallel()

	exec, eventBus, _, _ := newTestExecutor(t)

	updates := make(chan *types.OrderUpdateEvent, 1)
	eventBus.Subscribe(types.KindOrderUpdate, bus.NewSubscription("updates", func(_ context.Context, ev types.Event) error {
		updates <- ev.(*types.OrderUpdateEvent)
		return nil
	}), 0)
	eventBus.Start()
	defer eventBus.Stop()

	intent := &types.CancelIntent{
		BaseEvent: types.NewBaseEvent(1000, "market-1"),
		OrderID:   "order-9",
		Reason:    "cancel_all",
	}
	require.NoError(t, exec.HandleIntent(context.Background(), intent))

	select {
	case upd := <-updates:
		assert.Equal(t, types.OrderUpdateCancelled, upd.Update)
		assert.Equal(t, "order-9", upd.OrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("no cancel update")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	t.Parallel()

	exec, _, store, _ := newTestExecutor(t)
	err := exec.HandleIntent(context.Background(), &types.ClockTick{BaseEvent: types.NewBaseEvent(1, "")})
	require.NoError(t, err)
	assert.Zero(t, store.ExecutionCount())
}
