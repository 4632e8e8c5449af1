package storage

import (
	"context"
	"time"

	"github.com/mselser95/esports-arb/pkg/types"
)

// ExecutionRecord captures one simulated or live execution.
type ExecutionRecord struct {
	OrderID       string
	MarketID      string
	Side          types.Side
	Price         float64
	Qty           float64
	Quote         float64
	Strategy      string
	ExecutedAt    time.Time
	GuaranteedPnL float64
}

// Storage persists executions and finalized match outcomes.
type Storage interface {
	// RecordExecution stores an execution.
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error

	// RecordTruthFinal stores a finalized match outcome.
	RecordTruthFinal(ctx context.Context, fin *types.TruthFinal) error

	// Close closes the storage connection.
	Close() error
}
