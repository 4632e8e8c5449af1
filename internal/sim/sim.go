// Package sim is the price-walk PnL simulator for pair-arbitrage safety
// margins. The YES price mean-reverts around 0.50 with gaussian shocks;
// the strategy buys the lagging or cheaper side in fixed quote steps
// through the ShouldBuyMore gate.
package sim

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/mselser95/esports-arb/internal/position"
	"github.com/mselser95/esports-arb/pkg/types"
)

// Config holds simulation parameters.
type Config struct {
	Episodes        int
	StepsPerEpisode int
	FeeRate         float64
	StepUSDC        float64
	MaxTotalCost    float64
	SlippageBPS     float64
	Volatility      float64
	MeanRevert      float64
	PairCostCaps    []float64
	MaxLegImbalance float64
}

// DefaultConfig mirrors the production pair-arb parameters.
func DefaultConfig() Config {
	return Config{
		Episodes:        2000,
		StepsPerEpisode: 120,
		FeeRate:         0.02,
		StepUSDC:        25.0,
		MaxTotalCost:    1500.0,
		SlippageBPS:     5.0,
		Volatility:      0.06,
		MeanRevert:      0.05,
		PairCostCaps:    []float64{0.99, 0.985, 0.98, 0.975, 0.97},
		MaxLegImbalance: 1500.0,
	}
}

// EpisodeResult is one episode's outcome.
type EpisodeResult struct {
	Spent       float64
	PnL         float64
	PairCostAvg float64 // -1 when the pair never completed
}

// CapSummary aggregates episodes run under one pair-cost cap.
type CapSummary struct {
	Cap             float64
	Episodes        int
	MeanSpent       float64
	MeanPnL         float64
	MedianPnL       float64
	P5PnL           float64
	P95PnL          float64
	PositiveRate    float64
	MeanPnLPerSpent float64
}

// String renders the summary as a single report line.
func (s CapSummary) String() string {
	return fmt.Sprintf(
		"pair_cost_cap=%.3f  ->  mean_pnl=%.2f  median_pnl=%.2f  p5=%.2f  pos_rate=%.1f%%  mean_pnl/spent=%.2f%%  mean_spent=%.2f",
		s.Cap, s.MeanPnL, s.MedianPnL, s.P5PnL, s.PositiveRate*100, s.MeanPnLPerSpent*100, s.MeanSpent)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func evolvePrice(pYes float64, cfg Config, rng *rand.Rand) float64 {
	shock := rng.NormFloat64() * cfg.Volatility
	drift := (0.5 - pYes) * cfg.MeanRevert
	return clamp01(pYes + drift + shock)
}

func applySlippage(price, slippageBPS float64) float64 {
	return clamp01(price * (1.0 + slippageBPS/10000.0))
}

// RunEpisode walks one episode under the given cap.
func RunEpisode(costCap float64, cfg Config, rng *rand.Rand) EpisodeResult {
	pos := position.New("sim", cfg.FeeRate)
	pYes := 0.5

	for step := 0; step < cfg.StepsPerEpisode; step++ {
		pYes = evolvePrice(pYes, cfg, rng)
		pNo := clamp01(1.0 - pYes)

		// Prefer balancing legs; if balanced, buy the cheaper side.
		var side types.Side
		var price float64
		switch {
		case pos.QYes < pos.QNo:
			side, price = types.SideYes, pYes
		case pos.QNo < pos.QYes:
			side, price = types.SideNo, pNo
		case pYes < pNo:
			side, price = types.SideYes, pYes
		default:
			side, price = types.SideNo, pNo
		}

		price = applySlippage(price, cfg.SlippageBPS)

		ok, _ := position.ShouldBuyMore(pos, side, cfg.StepUSDC, price, position.BuyParams{
			PairCostCap:          costCap,
			MaxTotalCost:         cfg.MaxTotalCost,
			MaxLegImbalanceQuote: cfg.MaxLegImbalance,
			RequireImprove:       pos.QYes > 0 && pos.QNo > 0,
		})
		if ok {
			pos = pos.HypoBuy(side, cfg.StepUSDC, price)
		}

		// Stop early once comfortably locked.
		if pc, has := pos.PairCostAvg(); has && pos.GuaranteedPnL() > 0 && pc < 1.0-cfg.FeeRate-0.005 {
			break
		}
	}

	result := EpisodeResult{Spent: pos.TotalCost(), PnL: pos.GuaranteedPnL(), PairCostAvg: -1}
	if pc, has := pos.PairCostAvg(); has {
		result.PairCostAvg = pc
	}
	return result
}

// Run sweeps all configured caps and summarizes each.
func Run(cfg Config, rng *rand.Rand) []CapSummary {
	summaries := make([]CapSummary, 0, len(cfg.PairCostCaps))
	for _, costCap := range cfg.PairCostCaps {
		results := make([]EpisodeResult, cfg.Episodes)
		for i := range results {
			results[i] = RunEpisode(costCap, cfg, rng)
		}
		summaries = append(summaries, summarize(costCap, results))
	}
	return summaries
}

func summarize(costCap float64, results []EpisodeResult) CapSummary {
	n := len(results)
	pnl := make([]float64, n)
	var sumSpent, sumPnL, sumPerSpent float64
	positive := 0

	for i, r := range results {
		pnl[i] = r.PnL
		sumSpent += r.Spent
		sumPnL += r.PnL
		if r.Spent > 0 {
			sumPerSpent += r.PnL / r.Spent
		}
		if r.PnL > 0 {
			positive++
		}
	}

	sort.Float64s(pnl)
	return CapSummary{
		Cap:             costCap,
		Episodes:        n,
		MeanSpent:       sumSpent / float64(n),
		MeanPnL:         sumPnL / float64(n),
		MedianPnL:       percentile(pnl, 0.50),
		P5PnL:           percentile(pnl, 0.05),
		P95PnL:          percentile(pnl, 0.95),
		PositiveRate:    float64(positive) / float64(n),
		MeanPnLPerSpent: sumPerSpent / float64(n),
	}
}

// percentile indexes into a sorted slice; xs must be non-empty.
func percentile(xs []float64, q float64) float64 {
	idx := int(float64(len(xs)-1) * q)
	return xs[idx]
}
