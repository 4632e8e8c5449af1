// Package position holds the pair-arbitrage inventory arithmetic and the
// single gate deciding whether a position may grow.
package position

import (
	"fmt"
	"math"

	"github.com/mselser95/esports-arb/pkg/types"
)

// PairPosition tracks YES/NO inventory for one market. Quantities are
// shares, costs are quote units. Mutated only through ApplyFill.
type PairPosition struct {
	MarketID string
	FeeRate  float64 // fraction of gross payout deducted at resolution, [0,1)

	QYes float64
	QNo  float64
	CYes float64
	CNo  float64
}

// New creates an empty position for a market.
func New(marketID string, feeRate float64) *PairPosition {
	return &PairPosition{MarketID: marketID, FeeRate: feeRate}
}

// ApplyFill adds a fill to the matching leg. Non-positive quantities are a
// no-op; an out-of-domain price refuses the mutation.
func (p *PairPosition) ApplyFill(f types.Fill) error {
	if f.Qty <= 0 {
		return nil
	}
	if f.Price < 0 || f.Price > 1 {
		return fmt.Errorf("%w: fill price %f outside [0,1]", types.ErrValidation, f.Price)
	}

	if f.Side == types.SideYes {
		p.QYes += f.Qty
		p.CYes += f.Qty * f.Price
	} else {
		p.QNo += f.Qty
		p.CNo += f.Qty * f.Price
	}
	return nil
}

// TotalCost is the quote spent across both legs.
func (p *PairPosition) TotalCost() float64 {
	return p.CYes + p.CNo
}

// QMin is the matched share count, the quantity that pays out regardless of
// outcome.
func (p *PairPosition) QMin() float64 {
	return math.Min(p.QYes, p.QNo)
}

// PayoutNet is the fee-adjusted payout of the matched shares.
func (p *PairPosition) PayoutNet() float64 {
	return p.QMin() * (1.0 - p.FeeRate)
}

// GuaranteedPnL is the worst-case profit at resolution.
func (p *PairPosition) GuaranteedPnL() float64 {
	return p.PayoutNet() - p.TotalCost()
}

// AvgYes is the volume-weighted YES entry price; false when the leg is empty.
func (p *PairPosition) AvgYes() (float64, bool) {
	if p.QYes <= 0 {
		return 0, false
	}
	return p.CYes / p.QYes, true
}

// AvgNo is the volume-weighted NO entry price; false when the leg is empty.
func (p *PairPosition) AvgNo() (float64, bool) {
	if p.QNo <= 0 {
		return 0, false
	}
	return p.CNo / p.QNo, true
}

// PairCostAvg is the summed average entry price of both legs; false unless
// both legs are present. Below 1 - fee the pair locks a profit.
func (p *PairPosition) PairCostAvg() (float64, bool) {
	ay, okY := p.AvgYes()
	an, okN := p.AvgNo()
	if !okY || !okN {
		return 0, false
	}
	return ay + an, true
}

// LegImbalanceQuote is the absolute quote-spend disparity between legs.
func (p *PairPosition) LegImbalanceQuote() float64 {
	return math.Abs(p.CYes - p.CNo)
}

// LegImbalanceShares is the absolute share disparity between legs.
func (p *PairPosition) LegImbalanceShares() float64 {
	return math.Abs(p.QYes - p.QNo)
}

// Clone returns an independent copy.
func (p *PairPosition) Clone() *PairPosition {
	cp := *p
	return &cp
}

// HypoBuy projects the position after a synthetic fill of
// qty = quoteAmount/price, leaving the receiver untouched. Non-positive
// amounts or prices return a plain copy.
func (p *PairPosition) HypoBuy(side types.Side, quoteAmount, price float64) *PairPosition {
	next := p.Clone()
	if quoteAmount <= 0 || price <= 0 {
		return next
	}
	if err := next.ApplyFill(types.Fill{Side: side, Qty: quoteAmount / price, Price: price}); err != nil {
		return p.Clone()
	}
	return next
}
