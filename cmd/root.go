package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "esports-arb",
	Short: "Esports pair-arbitrage bot for binary prediction markets",
	Long: `Esports pair-arbitrage bot for binary prediction markets.

The bot fuses multi-source esports match events into an authoritative
match view with a confidence score, and accumulates YES/NO pairs whose
average cost stays below the fee-adjusted payout, locking a guaranteed
profit at resolution.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env is fine; env vars still apply.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
