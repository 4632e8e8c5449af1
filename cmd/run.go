package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mselser95/esports-arb/internal/app"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading bot",
	Long: `Starts the esports pair-arbitrage bot, which will:
1. Consume normalized esports match events from the configured feed
2. Maintain per-match truth state with calibrated confidence
3. Evaluate pair-arbitrage opportunities on each orderbook update
4. Execute in paper trading mode (live mode requires explicit config)`,
	RunE: runBot,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// A config error aborts in live mode; in paper mode it is logged and
	// the bot continues on defaults.
	if err := cfg.Validate(); err != nil {
		if cfg.ExecutionMode == "live" {
			return fmt.Errorf("validate config: %w", err)
		}
		logger.Warn("config-invalid-continuing-paper", zap.Error(err))
	}

	application, err := app.New(cfg, logger, clock.NewSystem(), nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
