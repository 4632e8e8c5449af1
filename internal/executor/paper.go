// Package executor is the execution collaborator. The paper executor
// simulates immediate placement and full fills at the intent price,
// feeding lifecycle results back through the bus.
package executor

import (
	"context"
	"fmt"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// OrderTracker lets the executor hand placed orders back to the owning
// engine before lifecycle events flow.
type OrderTracker interface {
	TrackOrder(marketID string, order *types.Order)
}

// Config holds paper executor dependencies.
type Config struct {
	Bus     *bus.Bus
	Storage storage.Storage
	Clock   clock.Clock
	Logger  *zap.Logger
	Tracker OrderTracker // optional
}

// Paper simulates order execution without touching an exchange.
type Paper struct {
	bus     *bus.Bus
	store   storage.Storage
	clk     clock.Clock
	logger  *zap.Logger
	tracker OrderTracker
}

// NewPaper creates a paper executor.
func NewPaper(cfg *Config) (*Paper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Paper{
		bus:     cfg.Bus,
		store:   cfg.Storage,
		clk:     cfg.Clock,
		logger:  cfg.Logger,
		tracker: cfg.Tracker,
	}, nil
}

// HandleIntent processes OrderIntent and CancelIntent events from the bus.
func (p *Paper) HandleIntent(ctx context.Context, ev types.Event) error {
	switch intent := ev.(type) {
	case *types.OrderIntent:
		return p.placeOrder(ctx, intent)
	case *types.CancelIntent:
		return p.cancelOrder(ctx, intent)
	}
	return nil
}

// placeOrder simulates placement and an immediate full fill at the intent
// price. Lifecycle results flow back on the market partition so the owning
// engine observes them in order.
func (p *Paper) placeOrder(ctx context.Context, intent *types.OrderIntent) error {
	wall, _ := p.clk.Now()
	order := types.NewOrder(intent.MarketID, intent.Side, intent.Price, intent.Size, wall)

	if p.tracker != nil {
		p.tracker.TrackOrder(intent.MarketID, order)
	}

	p.logger.Info("paper-order-placed",
		zap.String("order_id", order.ID),
		zap.String("market_id", intent.MarketID),
		zap.String("side", string(intent.Side)),
		zap.Float64("price", intent.Price),
		zap.Float64("size", intent.Size))

	if _, err := p.bus.Publish(ctx, &types.OrderUpdateEvent{
		BaseEvent: types.NewBaseEvent(p.clk.NowMS(), intent.MarketID),
		OrderID:   order.ID,
		Update:    types.OrderUpdatePlaced,
	}); err != nil {
		return fmt.Errorf("publish order update: %w", err)
	}

	qty := intent.Size / intent.Price
	if _, err := p.bus.Publish(ctx, &types.FillEvent{
		BaseEvent: types.NewBaseEvent(p.clk.NowMS(), intent.MarketID),
		OrderID:   order.ID,
		Side:      intent.Side,
		Qty:       qty,
		Price:     intent.Price,
	}); err != nil {
		return fmt.Errorf("publish fill: %w", err)
	}

	err := p.store.RecordExecution(ctx, &storage.ExecutionRecord{
		OrderID:    order.ID,
		MarketID:   intent.MarketID,
		Side:       intent.Side,
		Price:      intent.Price,
		Qty:        qty,
		Quote:      intent.Size,
		Strategy:   intent.Strategy,
		ExecutedAt: wall,
	})
	if err != nil {
		p.logger.Error("execution-store-failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
	return nil
}

// cancelOrder simulates a cancel that always succeeds.
func (p *Paper) cancelOrder(ctx context.Context, intent *types.CancelIntent) error {
	p.logger.Info("paper-order-cancelled",
		zap.String("order_id", intent.OrderID),
		zap.String("market_id", intent.MarketID),
		zap.String("reason", intent.Reason))

	_, err := p.bus.Publish(ctx, &types.OrderUpdateEvent{
		BaseEvent: types.NewBaseEvent(p.clk.NowMS(), intent.MarketID),
		OrderID:   intent.OrderID,
		Update:    types.OrderUpdateCancelled,
	})
	if err != nil {
		return fmt.Errorf("publish cancel update: %w", err)
	}
	return nil
}
