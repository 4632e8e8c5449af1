package position

import "github.com/mselser95/esports-arb/pkg/types"

// Reason enumerates ShouldBuyMore outcomes. Rejections are the strategy's
// observable surface; the order of checks is fixed.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonZeroAmount         Reason = "zero_amount"
	ReasonExceedsMaxTotal    Reason = "exceeds_max_total"
	ReasonPairCostExceedsNet Reason = "pair_cost_exceeds_net"
	ReasonPairCostExceedsCap Reason = "pair_cost_exceeds_cap"
	ReasonLegImbalance       Reason = "leg_imbalance"
	ReasonNoPnLImprovement   Reason = "no_pnl_improvement"
)

// BuyParams are the caps applied by ShouldBuyMore.
type BuyParams struct {
	PairCostCap          float64
	MaxTotalCost         float64
	MaxLegImbalanceQuote float64
	RequireImprove       bool
}

// ShouldBuyMore is the single gate for adding to a pair position. Checks
// run in a fixed order; all post-buy checks evaluate the HypoBuy
// projection, never the receiver.
func ShouldBuyMore(pos *PairPosition, side types.Side, quoteAmount, price float64, params BuyParams) (bool, Reason) {
	if quoteAmount <= 0 {
		return false, ReasonZeroAmount
	}
	if pos.TotalCost()+quoteAmount > params.MaxTotalCost {
		return false, ReasonExceedsMaxTotal
	}

	next := pos.HypoBuy(side, quoteAmount, price)

	if pc, ok := next.PairCostAvg(); ok {
		if pc >= 1.0-next.FeeRate {
			return false, ReasonPairCostExceedsNet
		}
		if pc >= params.PairCostCap {
			return false, ReasonPairCostExceedsCap
		}
	}

	if next.LegImbalanceQuote() > params.MaxLegImbalanceQuote {
		return false, ReasonLegImbalance
	}

	if params.RequireImprove && next.GuaranteedPnL() <= pos.GuaranteedPnL() {
		return false, ReasonNoPnLImprovement
	}

	return true, ReasonOK
}
