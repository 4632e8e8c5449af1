package types

import (
	"github.com/google/uuid"
)

// GlobalPartition receives cross-cutting events (clock ticks, system halt).
const GlobalPartition = "__global__"

// EventKind tags an event variant. Kinds form an explicit hierarchy so a
// subscription to a parent kind also matches its refinements.
type EventKind string

const (
	KindAny EventKind = "event"

	KindMarketData    EventKind = "market_data"
	KindOrderBookTick EventKind = "orderbook_tick"
	KindFill          EventKind = "fill"

	KindMatchEvent EventKind = "match_event"

	KindTruth      EventKind = "truth"
	KindTruthDelta EventKind = "truth_delta"
	KindTruthFinal EventKind = "truth_final"

	KindIntent       EventKind = "intent"
	KindOrderIntent  EventKind = "order_intent"
	KindCancelIntent EventKind = "cancel_intent"

	KindOrderUpdate EventKind = "order_update"
	KindClockTick   EventKind = "clock_tick"
	KindSystemHalt  EventKind = "system_halt"
)

// kindParents is the tag-ancestry table. Kinds absent from the table are
// direct children of KindAny.
var kindParents = map[EventKind]EventKind{
	KindOrderBookTick: KindMarketData,
	KindFill:          KindMarketData,
	KindTruthDelta:    KindTruth,
	KindTruthFinal:    KindTruth,
	KindOrderIntent:   KindIntent,
	KindCancelIntent:  KindIntent,
}

// Ancestry returns the kind followed by its ancestors up to and including
// KindAny.
func (k EventKind) Ancestry() []EventKind {
	out := []EventKind{k}
	cur := k
	for cur != KindAny {
		parent, ok := kindParents[cur]
		if !ok {
			parent = KindAny
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

// IsA reports whether k equals other or refines it.
func (k EventKind) IsA(other EventKind) bool {
	for _, a := range k.Ancestry() {
		if a == other {
			return true
		}
	}
	return false
}

// Event is the bus payload contract.
type Event interface {
	EventID() string
	Kind() EventKind
	TimestampMS() int64
	PartitionKey() string
}

// BaseEvent carries the shared event fields. Concrete events embed it and
// provide Kind (and PartitionKey when they partition by something other
// than market id).
type BaseEvent struct {
	ID       string
	TSMS     int64
	MarketID string
}

// NewBaseEvent assigns a fresh event id.
func NewBaseEvent(timestampMS int64, marketID string) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), TSMS: timestampMS, MarketID: marketID}
}

func (e BaseEvent) EventID() string    { return e.ID }
func (e BaseEvent) TimestampMS() int64 { return e.TSMS }

func (e BaseEvent) PartitionKey() string {
	if e.MarketID == "" {
		return GlobalPartition
	}
	return e.MarketID
}

// -----------------------------------------------------------------------------
// Match events (truth engine input)
// -----------------------------------------------------------------------------

// MatchEventType enumerates normalized esports feed events.
type MatchEventType string

const (
	MatchCreated MatchEventType = "MATCH_CREATED"
	MatchStarted MatchEventType = "MATCH_STARTED"
	MatchPaused  MatchEventType = "PAUSED"
	MatchResumed MatchEventType = "RESUMED"
	MapStarted   MatchEventType = "MAP_STARTED"
	RoundEnded   MatchEventType = "ROUND_ENDED"
	MapEnded     MatchEventType = "MAP_ENDED"
	ScoreUpdate  MatchEventType = "SCORE_UPDATE"
	MatchEnded   MatchEventType = "MATCH_ENDED"
	Correction   MatchEventType = "CORRECTION"
)

// SourceTier classifies event-source quality. A: authoritative/low-latency,
// B: standard, C: confirmation-only.
type SourceTier string

const (
	TierA SourceTier = "A"
	TierB SourceTier = "B"
	TierC SourceTier = "C"
)

// MatchPayload carries the type-specific fields of a match event. Optional
// integers are pointers so absence survives canonicalization.
type MatchPayload struct {
	WinnerTeamID string `json:"winner_team_id,omitempty"`
	TeamAScore   *int   `json:"team_a_score,omitempty"`
	TeamBScore   *int   `json:"team_b_score,omitempty"`
	MapIndex     *int   `json:"map_index,omitempty"`
	RoundIndex   *int   `json:"round_index,omitempty"`
}

// MatchEvent is a normalized, possibly out-of-order observation of match
// progress from one source. Partitioned by match id.
type MatchEvent struct {
	BaseEvent
	MatchID       string
	Type          MatchEventType
	Source        string
	Tier          SourceTier
	SourceEventID string
	Seq           *int64
	Payload       MatchPayload
}

// NewMatchEvent builds a match event stamped with the feed timestamp.
func NewMatchEvent(matchID string, typ MatchEventType, source string, tier SourceTier, timestampMS int64) *MatchEvent {
	return &MatchEvent{
		BaseEvent: NewBaseEvent(timestampMS, ""),
		MatchID:   matchID,
		Type:      typ,
		Source:    source,
		Tier:      tier,
	}
}

func (e *MatchEvent) Kind() EventKind { return KindMatchEvent }

func (e *MatchEvent) PartitionKey() string {
	if e.MatchID == "" {
		return GlobalPartition
	}
	return e.MatchID
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

// OrderBookTick carries both legs' books for one market.
type OrderBookTick struct {
	BaseEvent
	BookYes *OrderBook
	BookNo  *OrderBook
}

func (e *OrderBookTick) Kind() EventKind { return KindOrderBookTick }

// FillEvent reports an execution against one of our orders.
type FillEvent struct {
	BaseEvent
	OrderID string
	Side    Side
	Qty     float64
	Price   float64
}

func (e *FillEvent) Kind() EventKind { return KindFill }

// -----------------------------------------------------------------------------
// Truth engine output
// -----------------------------------------------------------------------------

// TruthOutput is implemented by the truth engine's emissions.
type TruthOutput interface {
	Event
	truthOutput()
}

// TruthDelta reports an incremental change in the authoritative match view.
type TruthDelta struct {
	BaseEvent
	MatchID    string
	DeltaType  string // "status", "score", "round", "map", "confidence"
	OldValue   string
	NewValue   string
	Confidence float64
	Reason     string
}

func (e *TruthDelta) Kind() EventKind { return KindTruthDelta }
func (e *TruthDelta) truthOutput()    {}

func (e *TruthDelta) PartitionKey() string {
	if e.MatchID == "" {
		return GlobalPartition
	}
	return e.MatchID
}

// TruthFinal reports an irreversible match outcome.
type TruthFinal struct {
	BaseEvent
	MatchID       string
	WinnerTeamID  string
	Confidence    float64
	ConfirmedBy   []string
	FinalizedAtMS int64
}

func (e *TruthFinal) Kind() EventKind { return KindTruthFinal }
func (e *TruthFinal) truthOutput()    {}

func (e *TruthFinal) PartitionKey() string {
	if e.MatchID == "" {
		return GlobalPartition
	}
	return e.MatchID
}

// -----------------------------------------------------------------------------
// Trading engine output
// -----------------------------------------------------------------------------

// OrderIntent asks the execution collaborator to place an order.
type OrderIntent struct {
	BaseEvent
	Side     Side
	Price    float64
	Size     float64 // quote units
	Strategy string
	Reason   string
}

func (e *OrderIntent) Kind() EventKind { return KindOrderIntent }

// CancelIntent asks the execution collaborator to cancel an order.
type CancelIntent struct {
	BaseEvent
	OrderID string
	Reason  string
}

func (e *CancelIntent) Kind() EventKind { return KindCancelIntent }

// -----------------------------------------------------------------------------
// Order lifecycle feedback
// -----------------------------------------------------------------------------

// OrderUpdateType enumerates execution-side lifecycle results.
type OrderUpdateType string

const (
	OrderUpdatePlaced       OrderUpdateType = "placed"
	OrderUpdateRejected     OrderUpdateType = "rejected"
	OrderUpdateCancelled    OrderUpdateType = "cancelled"
	OrderUpdateCancelFailed OrderUpdateType = "cancel_failed"
)

// OrderUpdateEvent reports a placement or cancel result back to the owning
// trading engine.
type OrderUpdateEvent struct {
	BaseEvent
	OrderID string
	Update  OrderUpdateType
	Reason  string
}

func (e *OrderUpdateEvent) Kind() EventKind { return KindOrderUpdate }

// -----------------------------------------------------------------------------
// Cross-cutting (global partition)
// -----------------------------------------------------------------------------

// ClockTick is published ~1 Hz to drive timeout checks. Must stay small and
// idempotent.
type ClockTick struct {
	BaseEvent
	NowMS int64
}

func (e *ClockTick) Kind() EventKind { return KindClockTick }

// SystemHalt asks every engine to stop trading.
type SystemHalt struct {
	BaseEvent
	Reason string
}

func (e *SystemHalt) Kind() EventKind { return KindSystemHalt }
