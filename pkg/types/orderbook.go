package types

import (
	"math"
	"sort"
)

// TakerSide selects which side of the book a taker crosses.
type TakerSide string

const (
	TakerBuy  TakerSide = "BUY"  // walks asks
	TakerSell TakerSide = "SELL" // walks bids
)

// Level is a single price level.
type Level struct {
	Price float64
	Size  float64 // shares available at Price
}

// OrderBook is a point-in-time view of one token's book. Bids are kept
// price-descending, asks price-ascending.
type OrderBook struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// NewOrderBook builds a book, normalizing level order.
func NewOrderBook(tokenID string, bids, asks []Level) *OrderBook {
	b := &OrderBook{TokenID: tokenID, Bids: bids, Asks: asks}
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	return b
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Mid returns the bid/ask midpoint.
func (b *OrderBook) Mid() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// SpreadBPS returns the bid/ask spread in basis points of the midpoint.
func (b *OrderBook) SpreadBPS() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	mid := (bid.Price + ask.Price) / 2
	if mid <= 0 {
		return 0, false
	}
	return (ask.Price - bid.Price) / mid * 10000, true
}

// EffectivePriceForSize walks book levels until quoteAmount is exhausted and
// returns the volume-weighted fill price. Returns +Inf when the book is too
// shallow for the requested amount.
func (b *OrderBook) EffectivePriceForSize(side TakerSide, quoteAmount float64) float64 {
	if quoteAmount <= 0 {
		return math.Inf(1)
	}

	levels := b.Asks
	if side == TakerSell {
		levels = b.Bids
	}

	remaining := quoteAmount
	shares := 0.0
	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		levelQuote := lvl.Price * lvl.Size
		spend := math.Min(remaining, levelQuote)
		shares += spend / lvl.Price
		remaining -= spend
		if remaining <= 0 {
			break
		}
	}

	if remaining > 0 || shares <= 0 {
		return math.Inf(1)
	}
	return quoteAmount / shares
}
