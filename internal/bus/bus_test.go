package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		MaxQueueSize:     1000,
		OverflowPolicy:   config.OverflowDrop,
		HandlerTimeout:   200 * time.Millisecond,
		MaxRetryAttempts: 3,
		RetryBaseDelay:   5 * time.Millisecond,
	}
}

func newTestBus(t *testing.T, cfg config.BusConfig) *Bus {
	t.Helper()

	b, err := New(&Config{
		Bus:    cfg,
		Logger: zaptest.NewLogger(t),
		Clock:  clock.NewMock(time.Time{}),
	})
	require.NoError(t, err)
	return b
}

// recorder accumulates observed events under a mutex.
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) handler(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func tickEvent(marketID string, ts int64) *types.OrderBookTick {
	return &types.OrderBookTick{BaseEvent: types.NewBaseEvent(ts, marketID)}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	clk := clock.NewMock(time.Time{})

	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil-config", config: nil},
		{name: "nil-logger", config: &Config{Bus: testBusConfig(), Clock: clk}},
		{name: "nil-clock", config: &Config{Bus: testBusConfig(), Logger: logger}},
		{
			name: "zero-queue-size",
			config: &Config{
				Bus:    config.BusConfig{MaxQueueSize: 0, MaxRetryAttempts: 3},
				Logger: logger,
				Clock:  clk,
			},
		},
		{
			name: "zero-retry-attempts",
			config: &Config{
				Bus:    config.BusConfig{MaxQueueSize: 10, MaxRetryAttempts: 0},
				Logger: logger,
				Clock:  clk,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestPerPartitionFIFO(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	rec := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("recorder", rec.handler), 0)
	b.Start()
	defer b.Stop()

	const n = 1000
	ctx := context.Background()
	for i := 0; i < n; i++ {
		accepted, err := b.Publish(ctx, tickEvent("market-1", int64(i)))
		require.NoError(t, err)
		require.True(t, accepted)
	}

	require.Eventually(t, func() bool { return rec.count() == n }, 5*time.Second, 5*time.Millisecond)

	for i, ev := range rec.snapshot() {
		require.Equal(t, int64(i), ev.TimestampMS(), "event %d out of order", i)
	}
}

func TestNoOrderingAcrossPartitions(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	recA := &recorder{}
	recB := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("rec", func(ctx context.Context, ev types.Event) error {
		if ev.PartitionKey() == "market-a" {
			return recA.handler(ctx, ev)
		}
		return recB.handler(ctx, ev)
	}), 0)
	b.Start()
	defer b.Stop()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := b.Publish(ctx, tickEvent("market-a", int64(i)))
		require.NoError(t, err)
		_, err = b.Publish(ctx, tickEvent("market-b", int64(i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return recA.count() == 100 && recB.count() == 100
	}, 5*time.Second, 5*time.Millisecond)

	// Each partition individually preserves order.
	for i, ev := range recA.snapshot() {
		require.Equal(t, int64(i), ev.TimestampMS())
	}
	for i, ev := range recB.snapshot() {
		require.Equal(t, int64(i), ev.TimestampMS())
	}
}

func TestPriorityOrderingWithinEvent(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())

	var mu sync.Mutex
	var order []string
	mkHandler := func(name string) Handler {
		return func(_ context.Context, _ types.Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	b.Subscribe(types.KindOrderBookTick, NewSubscription("low", mkHandler("low")), 0)
	b.Subscribe(types.KindOrderBookTick, NewSubscription("high", mkHandler("high")), 10)
	b.Subscribe(types.KindOrderBookTick, NewSubscription("mid-first", mkHandler("mid-first")), 5)
	b.Subscribe(types.KindOrderBookTick, NewSubscription("mid-second", mkHandler("mid-second")), 5)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "mid-first", "mid-second", "low"}, order)
}

func TestSupertypeSubscriptionMatchesRefinement(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	rec := &recorder{}
	b.Subscribe(types.KindMarketData, NewSubscription("market-data", rec.handler), 0)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), &types.FillEvent{BaseEvent: types.NewBaseEvent(2, "m")})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSameHandleDeduplicatedAcrossMatches(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	rec := &recorder{}
	sub := NewSubscription("dual", rec.handler)
	b.Subscribe(types.KindOrderBookTick, sub, 0)
	b.Subscribe(types.KindMarketData, sub, 5)
	b.Subscribe(types.KindAny, sub, 10)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestUnsubscribeRemovesByHandle(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	rec := &recorder{}
	sub := NewSubscription("removable", rec.handler)
	b.Subscribe(types.KindOrderBookTick, sub, 0)
	b.Unsubscribe(types.KindOrderBookTick, sub)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestDropPolicyRefusesWhenFull(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.MaxQueueSize = 2
	b := newTestBus(t, cfg)
	// Not started: nothing drains the partition.

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		accepted, err := b.Publish(ctx, tickEvent("m", int64(i)))
		require.NoError(t, err)
		require.True(t, accepted)
	}

	accepted, err := b.Publish(ctx, tickEvent("m", 99))
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestHaltPolicyReturnsBackpressureError(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.MaxQueueSize = 1
	cfg.OverflowPolicy = config.OverflowHalt
	b := newTestBus(t, cfg)

	ctx := context.Background()
	accepted, err := b.Publish(ctx, tickEvent("m", 1))
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = b.Publish(ctx, tickEvent("m", 2))
	assert.False(t, accepted)

	var bpErr *types.BackpressureError
	require.ErrorAs(t, err, &bpErr)
	assert.Equal(t, "m", bpErr.Partition)
}

func TestBlockPolicyWaitsForSpace(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.MaxQueueSize = 1
	cfg.OverflowPolicy = config.OverflowBlock
	b := newTestBus(t, cfg)
	rec := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("rec", rec.handler), 0)

	ctx := context.Background()
	accepted, err := b.Publish(ctx, tickEvent("m", 1))
	require.NoError(t, err)
	require.True(t, accepted)

	// Publish must suspend until the consumer drains the queue.
	done := make(chan struct{})
	go func() {
		accepted, err := b.Publish(ctx, tickEvent("m", 2))
		assert.NoError(t, err)
		assert.True(t, accepted)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocked publish returned before space freed")
	case <-time.After(50 * time.Millisecond):
	}

	b.Start()
	defer b.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publish never completed")
	}

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestBlockPolicyRespectsCallerContext(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.MaxQueueSize = 1
	cfg.OverflowPolicy = config.OverflowBlock
	b := newTestBus(t, cfg)

	ctx := context.Background()
	_, err := b.Publish(ctx, tickEvent("m", 1))
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	accepted, err := b.Publish(cancelCtx, tickEvent("m", 2))
	assert.False(t, accepted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDLQOnHandlerExhaustion(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	b := newTestBus(t, cfg)

	attempts := 0
	var mu sync.Mutex
	b.Subscribe(types.KindOrderBookTick, NewSubscription("always-fails", func(_ context.Context, _ types.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("boom")
	}), 0)
	b.Start()
	defer b.Stop()

	ev := tickEvent("market-7", 42)
	_, err := b.Publish(context.Background(), ev)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.DLQSize() == 1 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, cfg.MaxRetryAttempts, attempts)
	mu.Unlock()

	failed := b.GetDLQEvents()
	require.Len(t, failed, 1)
	assert.Equal(t, ev.EventID(), failed[0].Event.EventID())
	assert.Equal(t, "always-fails", failed[0].HandlerName)
	assert.Equal(t, cfg.MaxRetryAttempts, failed[0].AttemptCount)
	assert.Equal(t, "market-7", failed[0].PartitionKey)
	assert.Contains(t, failed[0].ErrorMessage, "boom")

	// Drained.
	assert.Zero(t, b.DLQSize())
}

func TestHandlerFailureDoesNotStallPartition(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.RetryBaseDelay = time.Millisecond
	b := newTestBus(t, cfg)

	rec := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("always-fails", func(_ context.Context, _ types.Event) error {
		return errors.New("boom")
	}), 10)
	b.Subscribe(types.KindOrderBookTick, NewSubscription("succeeds", rec.handler), 0)
	b.Start()
	defer b.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, tickEvent("m", int64(i)))
		require.NoError(t, err)
	}

	// The failing handler exhausts retries per event, yet every event still
	// reaches the succeeding handler in order.
	require.Eventually(t, func() bool { return rec.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	for i, ev := range rec.snapshot() {
		require.Equal(t, int64(i), ev.TimestampMS())
	}
	require.Eventually(t, func() bool { return b.DLQSize() == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandlerTimeoutRetriesThenDLQ(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	b := newTestBus(t, cfg)

	b.Subscribe(types.KindOrderBookTick, NewSubscription("sleeper", func(ctx context.Context, _ types.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}), 0)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.DLQSize() == 1 }, 5*time.Second, 10*time.Millisecond)

	failed := b.GetDLQEvents()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "timed out")
}

func TestReplayDLQEventRepublishes(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())

	failOnce := true
	var mu sync.Mutex
	rec := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("flaky", func(ctx context.Context, ev types.Event) error {
		mu.Lock()
		shouldFail := failOnce
		mu.Unlock()
		if shouldFail {
			return errors.New("transient")
		}
		return rec.handler(ctx, ev)
	}), 0)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.DLQSize() == 1 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	failOnce = false
	mu.Unlock()

	failed := b.GetDLQEvents()
	require.Len(t, failed, 1)

	accepted, err := b.ReplayDLQEvent(context.Background(), failed[0])
	require.NoError(t, err)
	require.True(t, accepted)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.RetryBaseDelay = time.Millisecond
	b := newTestBus(t, cfg)

	b.Subscribe(types.KindOrderBookTick, NewSubscription("panics", func(_ context.Context, _ types.Event) error {
		panic("kaboom")
	}), 0)
	b.Start()
	defer b.Stop()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.DLQSize() == 1 }, 5*time.Second, 10*time.Millisecond)
	failed := b.GetDLQEvents()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "kaboom")
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	b.Start()
	b.Start()
	b.Stop()
	b.Stop()
}

func TestQueueDepths(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	// Not started: events stay queued.

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, tickEvent("m1", int64(i)))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, tickEvent("m2", int64(i)))
		require.NoError(t, err)
	}

	depths := b.QueueDepths()
	assert.Equal(t, 5, depths["m1"])
	assert.Equal(t, 3, depths["m2"])
}

func TestGlobalPartitionForUnkeyedEvents(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, testBusConfig())
	ctx := context.Background()

	_, err := b.Publish(ctx, &types.ClockTick{BaseEvent: types.NewBaseEvent(1, ""), NowMS: 1})
	require.NoError(t, err)

	depths := b.QueueDepths()
	assert.Equal(t, 1, depths[types.GlobalPartition])
}

func TestStopCancelsInFlightHandlerWithoutDLQ(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.HandlerTimeout = 10 * time.Second
	b := newTestBus(t, cfg)

	started := make(chan struct{})
	b.Subscribe(types.KindOrderBookTick, NewSubscription("blocker", func(ctx context.Context, _ types.Event) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), 0)
	b.Start()

	_, err := b.Publish(context.Background(), tickEvent("m", 1))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	b.Stop()

	// A cancelled handler is neither retried nor dead-lettered.
	assert.Zero(t, b.DLQSize())
}

func TestEveryAcceptedEventReachesHandlersOrDLQ(t *testing.T) {
	t.Parallel()

	cfg := testBusConfig()
	cfg.RetryBaseDelay = time.Millisecond
	b := newTestBus(t, cfg)

	rec := &recorder{}
	b.Subscribe(types.KindOrderBookTick, NewSubscription("selective", func(ctx context.Context, ev types.Event) error {
		if ev.TimestampMS()%2 == 0 {
			return fmt.Errorf("refusing event %d", ev.TimestampMS())
		}
		return rec.handler(ctx, ev)
	}), 0)
	b.Start()
	defer b.Stop()

	const n = 20
	ctx := context.Background()
	accepted := 0
	for i := 0; i < n; i++ {
		ok, err := b.Publish(ctx, tickEvent("m", int64(i)))
		require.NoError(t, err)
		if ok {
			accepted++
		}
	}
	require.Equal(t, n, accepted)

	require.Eventually(t, func() bool {
		return rec.count()+b.DLQSize() == n
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, n/2, rec.count())
	assert.Equal(t, n/2, b.DLQSize())
}
