// Package trading owns the per-market execution state machine: it decides
// what actions are legal, evaluates pair-arbitrage opportunities on book
// updates, tracks fills and leg imbalance, and trips a circuit breaker on
// failure bursts.
package trading

import (
	"fmt"
	"time"

	"github.com/mselser95/esports-arb/internal/position"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Status is the trading lifecycle state.
type Status string

const (
	StatusIdle           Status = "IDLE"
	StatusBuildingPair   Status = "BUILDING_PAIR"
	StatusLockedPair     Status = "LOCKED_PAIR"
	StatusTemporalActive Status = "TEMPORAL_ACTIVE"
	StatusFinalizing     Status = "FINALIZING"
	StatusResolved       Status = "RESOLVED"
	StatusHalt           Status = "HALT"
)

// State is the per-market trading view.
type State struct {
	MarketID                  string
	Status                    Status
	Position                  *position.PairPosition
	OpenOrders                map[string]*types.Order
	ConsecutiveRejects        int
	ConsecutiveCancelFailures int
	EnteredStateAt            time.Time
	LastActivityAt            time.Time
}

// clone returns a snapshot with independent containers.
func (s *State) clone() State {
	cp := *s
	cp.Position = s.Position.Clone()
	cp.OpenOrders = make(map[string]*types.Order, len(s.OpenOrders))
	for id, o := range s.OpenOrders {
		oc := *o
		cp.OpenOrders[id] = &oc
	}
	return cp
}

// Config holds trading engine dependencies.
type Config struct {
	Trading config.TradingConfig
	Logger  *zap.Logger
	Clock   clock.Clock
}

// Engine is the per-market trading state machine. One goroutine mutates
// it: the partition consumer of its market id.
type Engine struct {
	cfg    config.TradingConfig
	logger *zap.Logger
	clk    clock.Clock
	st     State

	noOpportunityTicks int
	temporalSignalAtMS *int64
	rebalanceSide      *types.Side
}

// New creates a trading engine in IDLE with an empty pair position.
func New(marketID string, cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if marketID == "" {
		return nil, fmt.Errorf("market id cannot be empty")
	}

	wall, _ := cfg.Clock.Now()
	return &Engine{
		cfg:    cfg.Trading,
		logger: cfg.Logger.With(zap.String("market_id", marketID)),
		clk:    cfg.Clock,
		st: State{
			MarketID:       marketID,
			Status:         StatusIdle,
			Position:       position.New(marketID, cfg.Trading.FeeRate),
			OpenOrders:     make(map[string]*types.Order),
			EnteredStateAt: wall,
			LastActivityAt: wall,
		},
	}, nil
}

// MarketID returns the owned market id.
func (e *Engine) MarketID() string { return e.st.MarketID }

// Status returns the current lifecycle state.
func (e *Engine) Status() Status { return e.st.Status }

// Position returns the live position (owned by the engine's partition).
func (e *Engine) Position() *position.PairPosition { return e.st.Position }

// Snapshot returns a consistent copy of the current state.
func (e *Engine) Snapshot() State { return e.st.clone() }

// GetAllowedActions returns the action set legal in the current state.
func (e *Engine) GetAllowedActions() map[string]struct{} {
	switch e.st.Status {
	case StatusIdle:
		return set("watch")
	case StatusBuildingPair:
		return set("buy_yes", "buy_no", "cancel")
	case StatusLockedPair:
		return set("watch")
	case StatusTemporalActive:
		return set("buy_winner", "cancel")
	case StatusFinalizing:
		return set("cancel_all")
	case StatusHalt:
		return set("cancel_all")
	}
	return map[string]struct{}{}
}

func set(actions ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		out[a] = struct{}{}
	}
	return out
}

// -----------------------------------------------------------------------------
// State transitions
// -----------------------------------------------------------------------------

func (e *Engine) transitionTo(next Status, reason string) {
	old := e.st.Status
	wall, _ := e.clk.Now()
	e.st.Status = next
	e.st.EnteredStateAt = wall
	e.st.LastActivityAt = wall
	TransitionsTotal.WithLabelValues(string(old), string(next)).Inc()

	e.logger.Info("trading-state-transition",
		zap.String("from", string(old)),
		zap.String("to", string(next)),
		zap.String("reason", reason))
}

// Halt suspends trading and emits cancel intents for every non-terminal
// open order. A second Halt while halted is refused.
func (e *Engine) Halt(reason string) []*types.CancelIntent {
	if e.st.Status == StatusHalt {
		return nil
	}

	e.transitionTo(StatusHalt, reason)
	return e.cancelAllOrders()
}

// ResumeFromHalt is the only exit from HALT. Zeroes the breaker counters.
func (e *Engine) ResumeFromHalt() bool {
	if e.st.Status != StatusHalt {
		return false
	}

	e.st.ConsecutiveRejects = 0
	e.st.ConsecutiveCancelFailures = 0
	e.transitionTo(StatusIdle, "manual_resume")
	return true
}

// Finalize enters FINALIZING (match ending) and cancels open orders.
// No-op in RESOLVED and HALT.
func (e *Engine) Finalize() []*types.CancelIntent {
	if e.st.Status == StatusResolved || e.st.Status == StatusHalt {
		return nil
	}

	e.transitionTo(StatusFinalizing, "match_ending")
	return e.cancelAllOrders()
}

// Resolve enters the terminal RESOLVED state (market settled). Refused
// from RESOLVED and HALT without mutation.
func (e *Engine) Resolve() error {
	if e.st.Status == StatusResolved || e.st.Status == StatusHalt {
		return fmt.Errorf("%w: resolve from %s", types.ErrInvalidTransition, e.st.Status)
	}

	e.transitionTo(StatusResolved, "market_settled")
	return nil
}

// EnterTemporal activates the temporal strategy window from IDLE. The
// signal expires after the configured TTL.
func (e *Engine) EnterTemporal(nowMS int64) error {
	if e.st.Status != StatusIdle {
		return fmt.Errorf("%w: enter temporal from %s", types.ErrInvalidTransition, e.st.Status)
	}

	at := nowMS
	e.temporalSignalAtMS = &at
	e.transitionTo(StatusTemporalActive, "temporal_signal")
	return nil
}

// -----------------------------------------------------------------------------
// Event handlers
// -----------------------------------------------------------------------------

// OnOrderbookUpdate evaluates the pair-arbitrage opportunity on both legs'
// books and returns an order intent when the position should grow.
func (e *Engine) OnOrderbookUpdate(bookYes, bookNo *types.OrderBook) *types.OrderIntent {
	wall, _ := e.clk.Now()
	e.st.LastActivityAt = wall

	if e.checkCircuitBreaker() != nil {
		return nil
	}

	switch e.st.Status {
	case StatusIdle:
		intent := e.evaluatePairOpportunity(bookYes, bookNo)
		if intent != nil {
			e.transitionTo(StatusBuildingPair, "pair_arb_opportunity")
			e.noOpportunityTicks = 0
		}
		return intent

	case StatusBuildingPair:
		intent := e.evaluatePairOpportunity(bookYes, bookNo)
		if intent != nil {
			e.noOpportunityTicks = 0
			return intent
		}
		e.noteNoOpportunity()
		return nil
	}
	return nil
}

// OnFill applies a fill to the position and advances the state machine.
// An out-of-domain fill is refused without mutation.
func (e *Engine) OnFill(side types.Side, qty, price float64, orderID string) (*types.OrderIntent, error) {
	err := e.st.Position.ApplyFill(types.Fill{Side: side, Qty: qty, Price: price, TimestampMS: e.clk.NowMS()})
	if err != nil {
		return nil, fmt.Errorf("apply fill: %w", err)
	}

	wall, _ := e.clk.Now()
	e.st.LastActivityAt = wall
	delete(e.st.OpenOrders, orderID)
	FillsAppliedTotal.WithLabelValues(string(side)).Inc()

	e.logger.Info("fill-applied",
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.String("order_id", orderID),
		zap.Float64("guaranteed_pnl", e.st.Position.GuaranteedPnL()))

	switch e.st.Status {
	case StatusBuildingPair:
		e.handleBuildingFill()
	case StatusTemporalActive:
		e.handleTemporalFill()
	}
	return nil, nil
}

func (e *Engine) handleBuildingFill() {
	if e.st.Position.GuaranteedPnL() > 0 {
		e.transitionTo(StatusLockedPair, "profit_locked")
		return
	}

	imbalance := e.st.Position.LegImbalanceQuote()
	if imbalance > e.cfg.MaxLegImbalanceUSDC {
		side := types.SideYes
		if e.st.Position.CYes > e.st.Position.CNo {
			side = types.SideNo
		}
		e.rebalanceSide = &side

		e.logger.Info("rebalance-needed",
			zap.Float64("imbalance_usdc", imbalance),
			zap.String("lagging_side", string(side)))
	}
}

func (e *Engine) handleTemporalFill() {
	if e.st.Position.GuaranteedPnL() > 0 {
		e.transitionTo(StatusLockedPair, "temporal_to_locked")
	} else {
		e.transitionTo(StatusIdle, "temporal_filled")
	}
	e.temporalSignalAtMS = nil
}

// OnOrderRejected records a placement rejection and re-evaluates the
// circuit breaker. A trip returns the halt cancel intents.
func (e *Engine) OnOrderRejected(orderID, reason string) []*types.CancelIntent {
	e.st.ConsecutiveRejects++
	wall, _ := e.clk.Now()
	e.st.LastActivityAt = wall

	if o, ok := e.st.OpenOrders[orderID]; ok {
		o.Status = types.OrderRejected
		o.RejectReason = reason
	}
	OrderRejectsTotal.Inc()

	e.logger.Warn("order-rejected",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
		zap.Int("consecutive_rejects", e.st.ConsecutiveRejects))

	return e.checkCircuitBreaker()
}

// OnOrderSuccess records a successful placement.
func (e *Engine) OnOrderSuccess(orderID string) {
	e.st.ConsecutiveRejects = 0
	wall, _ := e.clk.Now()
	e.st.LastActivityAt = wall

	if o, ok := e.st.OpenOrders[orderID]; ok {
		o.Status = types.OrderPlaced
		o.PlacedAt = &wall
	}
}

// OnCancelFailure records a failed cancel and re-evaluates the circuit
// breaker. A trip returns the halt cancel intents.
func (e *Engine) OnCancelFailure(orderID string) []*types.CancelIntent {
	e.st.ConsecutiveCancelFailures++
	CancelFailuresTotal.Inc()

	e.logger.Warn("cancel-failed",
		zap.String("order_id", orderID),
		zap.Int("consecutive_failures", e.st.ConsecutiveCancelFailures))

	return e.checkCircuitBreaker()
}

// OnCancelSuccess records a successful cancel.
func (e *Engine) OnCancelSuccess(orderID string) {
	e.st.ConsecutiveCancelFailures = 0

	if o, ok := e.st.OpenOrders[orderID]; ok {
		o.Status = types.OrderCancelled
		delete(e.st.OpenOrders, orderID)
	}
}

// OnTick runs periodic timeout checks: the no-opportunity idle timeout in
// BUILDING_PAIR and the temporal signal TTL in TEMPORAL_ACTIVE.
func (e *Engine) OnTick(nowMS int64) []*types.CancelIntent {
	switch e.st.Status {
	case StatusBuildingPair:
		e.noteNoOpportunity()

	case StatusTemporalActive:
		if e.temporalSignalAtMS == nil {
			return nil
		}
		elapsed := nowMS - *e.temporalSignalAtMS
		if elapsed >= e.cfg.TemporalSignalTTLMS {
			e.logger.Info("temporal-signal-expired", zap.Int64("elapsed_ms", elapsed))
			intents := e.cancelAllOrders()
			e.transitionTo(StatusIdle, "signal_expired")
			e.temporalSignalAtMS = nil
			return intents
		}
	}
	return nil
}

func (e *Engine) noteNoOpportunity() {
	e.noOpportunityTicks++
	if e.noOpportunityTicks >= e.cfg.IdleAfterNoOpportunityTicks {
		e.transitionTo(StatusIdle, "no_opportunity_timeout")
		e.noOpportunityTicks = 0
	}
}

// TrackOrder registers a placed order in the open-order map.
func (e *Engine) TrackOrder(order *types.Order) {
	e.st.OpenOrders[order.ID] = order
}

// -----------------------------------------------------------------------------
// Strategy
// -----------------------------------------------------------------------------

// evaluatePairOpportunity selects a leg, prices it at best ask, and runs
// the ShouldBuyMore gate.
func (e *Engine) evaluatePairOpportunity(bookYes, bookNo *types.OrderBook) *types.OrderIntent {
	side, ok := e.selectLegToBuy(bookYes, bookNo)
	if !ok {
		return nil
	}

	book := bookYes
	if side == types.SideNo {
		book = bookNo
	}
	ask, ok := book.BestAsk()
	if !ok {
		return nil
	}

	// Improvement is only demanded once both legs exist: a first leg always
	// lowers guaranteed PnL by its own cost.
	pos := e.st.Position
	requireImprove := pos.QYes > 0 && pos.QNo > 0

	allowed, reason := position.ShouldBuyMore(pos, side, e.cfg.StepUSDC, ask.Price, position.BuyParams{
		PairCostCap:          e.cfg.PairCostCap,
		MaxTotalCost:         e.cfg.MaxTotalCost,
		MaxLegImbalanceQuote: e.cfg.MaxLegImbalanceUSDC,
		RequireImprove:       requireImprove,
	})
	if !allowed {
		OpportunitiesRejectedTotal.WithLabelValues(string(reason)).Inc()
		e.logger.Debug("pair-arb-rejected",
			zap.String("side", string(side)),
			zap.String("reason", string(reason)))
		return nil
	}

	IntentsEmittedTotal.Inc()
	pairCost, _ := e.st.Position.PairCostAvg()
	return &types.OrderIntent{
		BaseEvent: types.NewBaseEvent(e.clk.NowMS(), e.st.MarketID),
		Side:      side,
		Price:     ask.Price,
		Size:      e.cfg.StepUSDC,
		Strategy:  "pair_arb",
		Reason:    fmt.Sprintf("pair_cost_avg=%.4f", pairCost),
	}
}

// selectLegToBuy picks the lagging leg when share imbalance exceeds the
// threshold, otherwise the cheaper ask (ties go YES). A rebalance hint set
// by the last fill wins over both.
func (e *Engine) selectLegToBuy(bookYes, bookNo *types.OrderBook) (types.Side, bool) {
	if e.rebalanceSide != nil {
		side := *e.rebalanceSide
		e.rebalanceSide = nil
		return side, true
	}

	pos := e.st.Position
	imbalance := pos.QYes - pos.QNo
	if imbalance > e.cfg.LegShareThreshold {
		return types.SideNo, true
	}
	if imbalance < -e.cfg.LegShareThreshold {
		return types.SideYes, true
	}

	yesAsk, okYes := bookYes.BestAsk()
	noAsk, okNo := bookNo.BestAsk()
	switch {
	case !okYes && !okNo:
		return "", false
	case !okYes:
		return types.SideNo, true
	case !okNo:
		return types.SideYes, true
	case yesAsk.Price <= noAsk.Price:
		return types.SideYes, true
	default:
		return types.SideNo, true
	}
}

// -----------------------------------------------------------------------------
// Circuit breaker
// -----------------------------------------------------------------------------

// checkCircuitBreaker trips to HALT on a reject or cancel-failure burst,
// returning the resulting cancel intents. Non-nil only on a fresh trip.
func (e *Engine) checkCircuitBreaker() []*types.CancelIntent {
	if e.st.Status == StatusHalt {
		return nil
	}

	var reason string
	if e.st.ConsecutiveRejects >= e.cfg.MaxConsecutiveRejects {
		reason = fmt.Sprintf("consecutive_rejects:%d", e.st.ConsecutiveRejects)
	}
	if e.st.ConsecutiveCancelFailures >= e.cfg.MaxCancelFailures {
		reason = fmt.Sprintf("cancel_failures:%d", e.st.ConsecutiveCancelFailures)
	}
	if reason == "" {
		return nil
	}

	e.logger.Warn("circuit-breaker-tripping", zap.String("reason", reason))
	CircuitBreakerTripsTotal.Inc()
	return e.Halt(reason)
}

// cancelAllOrders emits cancel intents for every non-terminal open order.
func (e *Engine) cancelAllOrders() []*types.CancelIntent {
	var intents []*types.CancelIntent
	for id, order := range e.st.OpenOrders {
		if order.Status.Terminal() {
			continue
		}
		intents = append(intents, &types.CancelIntent{
			BaseEvent: types.NewBaseEvent(e.clk.NowMS(), e.st.MarketID),
			OrderID:   id,
			Reason:    "cancel_all",
		})
	}
	return intents
}
