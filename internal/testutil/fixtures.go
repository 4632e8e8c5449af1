// Package testutil provides shared fixtures and mocks for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/pkg/types"
)

// Book builds a one-level orderbook.
func Book(tokenID string, bidPrice, bidSize, askPrice, askSize float64) *types.OrderBook {
	var bids, asks []types.Level
	if bidPrice > 0 {
		bids = append(bids, types.Level{Price: bidPrice, Size: bidSize})
	}
	if askPrice > 0 {
		asks = append(asks, types.Level{Price: askPrice, Size: askSize})
	}
	return types.NewOrderBook(tokenID, bids, asks)
}

// EmptyBook builds a book with no levels.
func EmptyBook(tokenID string) *types.OrderBook {
	return types.NewOrderBook(tokenID, nil, nil)
}

// MatchEventOption mutates a fixture match event.
type MatchEventOption func(*types.MatchEvent)

// WithSourceEventID sets the source event id.
func WithSourceEventID(id string) MatchEventOption {
	return func(ev *types.MatchEvent) { ev.SourceEventID = id }
}

// WithSeq sets the sequence number.
func WithSeq(seq int64) MatchEventOption {
	return func(ev *types.MatchEvent) { ev.Seq = &seq }
}

// WithWinner sets the winner payload field.
func WithWinner(teamID string) MatchEventOption {
	return func(ev *types.MatchEvent) { ev.Payload.WinnerTeamID = teamID }
}

// WithScores sets the score payload fields.
func WithScores(a, b int) MatchEventOption {
	return func(ev *types.MatchEvent) {
		ev.Payload.TeamAScore = &a
		ev.Payload.TeamBScore = &b
	}
}

// NewMatchEvent builds a match event fixture.
func NewMatchEvent(matchID string, typ types.MatchEventType, source string, tier types.SourceTier, tsMS int64, opts ...MatchEventOption) *types.MatchEvent {
	ev := types.NewMatchEvent(matchID, typ, source, tier, tsMS)
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// MockStorage records calls in memory.
type MockStorage struct {
	mu         sync.Mutex
	Executions []*storage.ExecutionRecord
	Finals     []*types.TruthFinal
	Closed     bool
}

// NewMockStorage creates an empty mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) RecordExecution(_ context.Context, rec *storage.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executions = append(m.Executions, rec)
	return nil
}

func (m *MockStorage) RecordTruthFinal(_ context.Context, fin *types.TruthFinal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finals = append(m.Finals, fin)
	return nil
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// ExecutionCount returns the number of recorded executions.
func (m *MockStorage) ExecutionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Executions)
}
