package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger: logger,
	}
}

// RecordExecution pretty-prints an execution to console.
func (c *ConsoleStorage) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	fmt.Println("\n" + strings.Repeat("━", 72))
	fmt.Println("EXECUTION")
	fmt.Println(strings.Repeat("━", 72))
	fmt.Printf("Order:    %s\n", shortID(rec.OrderID))
	fmt.Printf("Market:   %s\n", rec.MarketID)
	fmt.Printf("Strategy: %s\n", rec.Strategy)
	fmt.Printf("Leg:      %s %.2f shares @ %.4f ($%.2f)\n", rec.Side, rec.Qty, rec.Price, rec.Quote)
	fmt.Printf("Time:     %s\n", rec.ExecutedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Guaranteed PnL: $%.2f\n", rec.GuaranteedPnL)
	fmt.Println(strings.Repeat("━", 72))
	return nil
}

// RecordTruthFinal pretty-prints a finalized match outcome to console.
func (c *ConsoleStorage) RecordTruthFinal(ctx context.Context, fin *types.TruthFinal) error {
	fmt.Println("\n" + strings.Repeat("━", 72))
	fmt.Println("MATCH FINAL")
	fmt.Println(strings.Repeat("━", 72))
	fmt.Printf("Match:      %s\n", fin.MatchID)
	fmt.Printf("Winner:     %s\n", fin.WinnerTeamID)
	fmt.Printf("Confidence: %.2f\n", fin.Confidence)
	fmt.Printf("Confirmed:  %s\n", strings.Join(fin.ConfirmedBy, ", "))
	fmt.Println(strings.Repeat("━", 72))
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
