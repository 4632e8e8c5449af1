// Package bus implements the partitioned event bus: per-key FIFO queues,
// configurable backpressure, bounded-attempt handler retry, and a dead
// letter queue for events that exhaust their retry budget.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Handler processes one event. It must respect ctx cancellation; the bus
// enforces a per-attempt deadline through ctx.
type Handler func(ctx context.Context, ev types.Event) error

// Subscription is a stable handler handle. Subscribing the same handle via
// several kinds invokes it once per event; Unsubscribe removes by handle.
type Subscription struct {
	id   uint64
	name string
	fn   Handler
}

// Name returns the handler name used in logs and DLQ records.
func (s *Subscription) Name() string { return s.name }

// Coalescer merges a new same-kind event into a pending one. The default
// nil coalescer makes the coalesce policy drop-equivalent.
type Coalescer interface {
	Coalesce(pending, incoming types.Event) (types.Event, bool)
}

// FailedEvent wraps an event whose dispatch to one handler exhausted the
// retry budget.
type FailedEvent struct {
	Event        types.Event
	HandlerName  string
	ErrorMessage string
	FailedAt     time.Time
	AttemptCount int
	PartitionKey string
}

type subEntry struct {
	priority int
	seq      uint64
	sub      *Subscription
}

type partition struct {
	key string
	ch  chan types.Event
}

// Config holds bus dependencies.
type Config struct {
	Bus       config.BusConfig
	Logger    *zap.Logger
	Clock     clock.Clock
	Coalescer Coalescer // optional
}

// Bus delivers events to handlers in per-partition FIFO order.
type Bus struct {
	cfg       config.BusConfig
	logger    *zap.Logger
	clk       clock.Clock
	coalescer Coalescer

	mu         sync.Mutex
	partitions map[string]*partition
	subs       map[types.EventKind][]subEntry
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	dlqMu sync.Mutex
	dlq   []FailedEvent

	nextSubID uint64
	nextSeq   uint64
}

// New creates a bus. Start must be called before events are dispatched.
func New(cfg *Config) (*Bus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.Bus.MaxQueueSize < 1 {
		return nil, fmt.Errorf("max queue size must be at least 1")
	}
	if cfg.Bus.MaxRetryAttempts < 1 {
		return nil, fmt.Errorf("max retry attempts must be at least 1")
	}

	return &Bus{
		cfg:        cfg.Bus,
		logger:     cfg.Logger,
		clk:        cfg.Clock,
		coalescer:  cfg.Coalescer,
		partitions: make(map[string]*partition),
		subs:       make(map[types.EventKind][]subEntry),
	}, nil
}

// NewSubscription wraps a handler in a stable handle.
func NewSubscription(name string, fn Handler) *Subscription {
	return &Subscription{name: name, fn: fn}
}

// Subscribe registers a handle for an event kind. Handlers run in
// descending priority order; ties preserve registration order. A handle
// also matches events whose kind refines the subscribed kind.
func (b *Bus) Subscribe(kind types.EventKind, sub *Subscription, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.id == 0 {
		b.nextSubID++
		sub.id = b.nextSubID
	}
	b.nextSeq++
	b.subs[kind] = append(b.subs[kind], subEntry{priority: priority, seq: b.nextSeq, sub: sub})

	b.logger.Info("handler-registered",
		zap.String("event_kind", string(kind)),
		zap.String("handler", sub.name),
		zap.Int("priority", priority))
}

// Unsubscribe removes a handle from one kind.
func (b *Bus) Unsubscribe(kind types.EventKind, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[kind]
	out := entries[:0]
	for _, e := range entries {
		if e.sub != sub {
			out = append(out, e)
		}
	}
	b.subs[kind] = out
}

// Start launches consumers for the global partition and any partitions
// created before start. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.getOrCreatePartitionLocked(types.GlobalPartition)
	for _, p := range b.partitions {
		b.startConsumerLocked(p)
	}

	b.logger.Info("event-bus-started",
		zap.Int("max_queue_size", b.cfg.MaxQueueSize),
		zap.String("overflow_policy", string(b.cfg.OverflowPolicy)))
}

// Stop cooperatively cancels consumers and in-flight handlers and waits
// for them to drain. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.logger.Info("event-bus-stopped")
}

// Publish enqueues an event on its partition. Returns (true, nil) when
// accepted; (false, nil) when dropped under the drop/coalesce policies;
// (false, *types.BackpressureError) under halt. Under block it suspends
// until space frees, the caller context ends, or the bus stops.
func (b *Bus) Publish(ctx context.Context, ev types.Event) (bool, error) {
	key := ev.PartitionKey()

	b.mu.Lock()
	p := b.getOrCreatePartitionLocked(key)
	b.mu.Unlock()

	select {
	case p.ch <- ev:
		EventsPublishedTotal.WithLabelValues(string(ev.Kind())).Inc()
		return true, nil
	default:
	}

	// Partition full: apply the overflow policy.
	switch b.cfg.OverflowPolicy {
	case config.OverflowBlock:
		select {
		case p.ch <- ev:
			EventsPublishedTotal.WithLabelValues(string(ev.Kind())).Inc()
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-b.stopped():
			return false, types.ErrBusStopped
		}

	case config.OverflowHalt:
		EventsDroppedTotal.WithLabelValues("halt").Inc()
		return false, &types.BackpressureError{Partition: key}

	case config.OverflowCoalesce:
		// Channel-backed partitions cannot merge in place; without a
		// coalescer this policy is drop-equivalent.
		if b.coalescer != nil {
			b.logger.Debug("coalesce-unsupported-for-pending-event",
				zap.String("partition", key))
		}
		fallthrough

	default: // drop
		EventsDroppedTotal.WithLabelValues("drop").Inc()
		b.logger.Warn("event-dropped-backpressure",
			zap.String("partition", key),
			zap.String("event_kind", string(ev.Kind())),
			zap.String("event_id", ev.EventID()))
		return false, nil
	}
}

// stopped returns a channel closed when the bus context ends, or a never
// channel when the bus has not started.
func (b *Bus) stopped() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	return b.ctx.Done()
}

func (b *Bus) getOrCreatePartitionLocked(key string) *partition {
	if p, ok := b.partitions[key]; ok {
		return p
	}
	p := &partition{key: key, ch: make(chan types.Event, b.cfg.MaxQueueSize)}
	b.partitions[key] = p
	PartitionsActive.Set(float64(len(b.partitions)))
	if b.running {
		b.startConsumerLocked(p)
	}
	return p
}

func (b *Bus) startConsumerLocked(p *partition) {
	b.wg.Add(1)
	go b.consume(b.ctx, p)
}

// consume drains one partition in FIFO order. The 1s poll lets the
// consumer observe a stop request even on an idle partition.
func (b *Bus) consume(ctx context.Context, p *partition) {
	defer b.wg.Done()

	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Second)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			continue
		case ev := <-p.ch:
			b.dispatch(ctx, ev, p.key)
		}
	}
}

// dispatch runs the ordered, deduplicated handler list for one event. A
// handler exhausting retries lands the event in the DLQ; dispatch always
// continues to the next handler.
func (b *Bus) dispatch(ctx context.Context, ev types.Event, partitionKey string) {
	handlers := b.handlersFor(ev.Kind())
	for _, entry := range handlers {
		if ctx.Err() != nil {
			return
		}
		b.invoke(ctx, ev, entry.sub, partitionKey)
	}
}

// handlersFor assembles handlers subscribed to the kind or any ancestor,
// sorted by priority (descending) with registration order breaking ties,
// deduplicated by subscription identity.
func (b *Bus) handlersFor(kind types.EventKind) []subEntry {
	b.mu.Lock()
	var entries []subEntry
	for _, k := range kind.Ancestry() {
		entries = append(entries, b.subs[k]...)
	}
	b.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	seen := make(map[uint64]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, dup := seen[e.sub.id]; dup {
			continue
		}
		seen[e.sub.id] = struct{}{}
		out = append(out, e)
	}
	return out
}

// invoke runs one handler under the per-attempt deadline and retry budget.
// Bus cancellation propagates without retry and without a DLQ record.
func (b *Bus) invoke(ctx context.Context, ev types.Event, sub *Subscription, partitionKey string) bool {
	var lastErr error

	for attempt := 0; attempt < b.cfg.MaxRetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		start := time.Now()
		err := b.runHandler(attemptCtx, sub, ev)
		HandlerDurationSeconds.Observe(time.Since(start).Seconds())
		cancel()

		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			// Cooperative cancellation from Stop: no retry, no DLQ.
			return false
		}
		lastErr = err

		var timeoutErr *types.HandlerTimeoutError
		if errors.As(err, &timeoutErr) {
			b.logger.Warn("handler-timeout",
				zap.String("handler", sub.name),
				zap.String("event_id", ev.EventID()),
				zap.Int("attempt", attempt+1))
		} else {
			b.logger.Error("handler-error",
				zap.String("handler", sub.name),
				zap.String("event_id", ev.EventID()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		HandlerRetriesTotal.WithLabelValues(sub.name).Inc()

		if attempt < b.cfg.MaxRetryAttempts-1 {
			delay := b.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}
	}

	b.sendToDLQ(ev, sub.name, lastErr, partitionKey)
	return false
}

// runHandler executes one attempt, converting deadline expiry into a
// HandlerTimeoutError and recovering panics into plain errors.
func (b *Bus) runHandler(ctx context.Context, sub *Subscription, ev types.Event) error {
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		errCh <- sub.fn(ctx, ev)
	}()

	timeoutErr := func() error {
		return &types.HandlerTimeoutError{
			Handler:   sub.name,
			TimeoutMS: b.cfg.HandlerTimeout.Milliseconds(),
		}
	}

	select {
	case err := <-errCh:
		// A handler surfacing its own deadline expiry counts as a timeout.
		if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutErr()
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutErr()
		}
		return ctx.Err()
	}
}

func (b *Bus) sendToDLQ(ev types.Event, handlerName string, cause error, partitionKey string) {
	msg := "exhausted retries"
	if cause != nil {
		msg = cause.Error()
	}
	wall, _ := b.clk.Now()

	failed := FailedEvent{
		Event:        ev,
		HandlerName:  handlerName,
		ErrorMessage: msg,
		FailedAt:     wall,
		AttemptCount: b.cfg.MaxRetryAttempts,
		PartitionKey: partitionKey,
	}

	b.dlqMu.Lock()
	b.dlq = append(b.dlq, failed)
	DLQSize.Set(float64(len(b.dlq)))
	b.dlqMu.Unlock()

	EventsDeadLetteredTotal.WithLabelValues(handlerName).Inc()
	b.logger.Error("event-sent-to-dlq",
		zap.String("event_id", ev.EventID()),
		zap.String("event_kind", string(ev.Kind())),
		zap.String("handler", handlerName),
		zap.String("partition", partitionKey))
}

// GetDLQEvents drains and returns the current DLQ contents.
func (b *Bus) GetDLQEvents() []FailedEvent {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := b.dlq
	b.dlq = nil
	DLQSize.Set(0)
	return out
}

// ReplayDLQEvent re-publishes the inner event of a DLQ record.
func (b *Bus) ReplayDLQEvent(ctx context.Context, failed FailedEvent) (bool, error) {
	return b.Publish(ctx, failed.Event)
}

// DLQSize returns the current dead-letter queue depth.
func (b *Bus) DLQSize() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return len(b.dlq)
}

// QueueDepths returns the current per-partition queue depths.
func (b *Bus) QueueDepths() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	depths := make(map[string]int, len(b.partitions))
	for key, p := range b.partitions {
		depths[key] = len(p.ch)
	}
	return depths
}
