package cmd

import (
	"fmt"
	"math/rand"

	"github.com/mselser95/esports-arb/internal/sim"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pair-arbitrage safety margin simulation",
	Long: `Runs the price-walk PnL simulation across a sweep of pair-cost caps
and prints per-cap summaries. Use it to choose a production pair_cost_cap.`,
	RunE: runSimulation,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int("episodes", 0, "Episodes per cap (default from SIM_EPISODES)")
	simulateCmd.Flags().Int64("seed", 1, "RNG seed for reproducible runs")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()

	simCfg := sim.DefaultConfig()
	simCfg.Episodes = cfg.Sim.Episodes
	simCfg.StepsPerEpisode = cfg.Sim.StepsPerEpisode
	simCfg.SlippageBPS = cfg.Sim.SlippageBPS
	simCfg.Volatility = cfg.Sim.Volatility
	simCfg.MeanRevert = cfg.Sim.MeanRevert
	simCfg.FeeRate = cfg.Trading.FeeRate
	simCfg.StepUSDC = cfg.Trading.StepUSDC
	simCfg.MaxTotalCost = cfg.Trading.MaxTotalCost

	if episodes, _ := cmd.Flags().GetInt("episodes"); episodes > 0 {
		simCfg.Episodes = episodes
	}
	seed, _ := cmd.Flags().GetInt64("seed")

	fmt.Println("=== Binary Pair Arb Safety Margin Simulation ===")
	fmt.Printf("episodes=%d steps=%d fee_rate=%.3f step_usdc=%.1f max_total=%.1f slippage_bps=%.1f\n\n",
		simCfg.Episodes, simCfg.StepsPerEpisode, simCfg.FeeRate, simCfg.StepUSDC, simCfg.MaxTotalCost, simCfg.SlippageBPS)

	rng := rand.New(rand.NewSource(seed))
	for _, summary := range sim.Run(simCfg, rng) {
		fmt.Println(summary.String())
	}

	return nil
}
