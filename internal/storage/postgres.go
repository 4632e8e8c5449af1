package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// newPostgresStorageWithDB wires an existing DB handle (tests).
func newPostgresStorageWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// RecordExecution stores an execution in PostgreSQL.
func (p *PostgresStorage) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO executions (
			order_id, market_id, side, price, qty, quote,
			strategy, executed_at, guaranteed_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := p.db.ExecContext(ctx, query,
		rec.OrderID,
		rec.MarketID,
		string(rec.Side),
		rec.Price,
		rec.Qty,
		rec.Quote,
		rec.Strategy,
		rec.ExecutedAt,
		rec.GuaranteedPnL,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	p.logger.Debug("execution-stored",
		zap.String("order_id", rec.OrderID),
		zap.String("market_id", rec.MarketID))
	return nil
}

// RecordTruthFinal stores a finalized match outcome in PostgreSQL.
func (p *PostgresStorage) RecordTruthFinal(ctx context.Context, fin *types.TruthFinal) error {
	query := `
		INSERT INTO match_finals (
			match_id, winner_team_id, confidence, confirmed_by, finalized_at_ms
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		fin.MatchID,
		fin.WinnerTeamID,
		fin.Confidence,
		strings.Join(fin.ConfirmedBy, ","),
		fin.FinalizedAtMS,
	)
	if err != nil {
		return fmt.Errorf("insert match final: %w", err)
	}

	p.logger.Debug("match-final-stored", zap.String("match_id", fin.MatchID))
	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
