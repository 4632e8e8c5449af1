package position

import (
	"testing"

	"github.com/mselser95/esports-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPosition(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)

	assert.Zero(t, pos.TotalCost())
	assert.Zero(t, pos.QMin())
	assert.Zero(t, pos.PayoutNet())
	assert.Zero(t, pos.GuaranteedPnL())

	_, ok := pos.AvgYes()
	assert.False(t, ok)
	_, ok = pos.AvgNo()
	assert.False(t, ok)
	_, ok = pos.PairCostAvg()
	assert.False(t, ok)
}

func TestApplyFill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		side      types.Side
		qty       float64
		price     float64
		wantQYes  float64
		wantCYes  float64
		wantQNo   float64
		wantCNo   float64
		wantTotal float64
	}{
		{
			name:      "yes-leg",
			side:      types.SideYes,
			qty:       100,
			price:     0.45,
			wantQYes:  100,
			wantCYes:  45,
			wantTotal: 45,
		},
		{
			name:      "no-leg",
			side:      types.SideNo,
			qty:       100,
			price:     0.50,
			wantQNo:   100,
			wantCNo:   50,
			wantTotal: 50,
		},
		{
			name: "zero-qty-noop",
			side: types.SideYes,
			qty:  0,
		},
		{
			name: "negative-qty-noop",
			side: types.SideYes,
			qty:  -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pos := New("test", 0.02)
			err := pos.ApplyFill(types.Fill{Side: tt.side, Qty: tt.qty, Price: tt.price})
			require.NoError(t, err)

			assert.Equal(t, tt.wantQYes, pos.QYes)
			assert.InDelta(t, tt.wantCYes, pos.CYes, 1e-9)
			assert.Equal(t, tt.wantQNo, pos.QNo)
			assert.InDelta(t, tt.wantCNo, pos.CNo, 1e-9)
			assert.InDelta(t, tt.wantTotal, pos.TotalCost(), 1e-9)
		})
	}
}

func TestApplyFillRejectsInvalidPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price float64
	}{
		{name: "negative", price: -0.1},
		{name: "above-one", price: 1.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pos := New("test", 0.02)
			err := pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 10, Price: tt.price})
			require.ErrorIs(t, err, types.ErrValidation)

			// Refused fill never mutates.
			assert.Zero(t, pos.QYes)
			assert.Zero(t, pos.CYes)
		})
	}
}

func TestBalancedPairLocksProfit(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 100, Price: 0.45}))
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideNo, Qty: 100, Price: 0.50}))

	assert.InDelta(t, 95.0, pos.TotalCost(), 1e-9)
	assert.InDelta(t, 98.0, pos.PayoutNet(), 1e-9)
	assert.InDelta(t, 3.0, pos.GuaranteedPnL(), 1e-9)

	avgYes, ok := pos.AvgYes()
	require.True(t, ok)
	assert.InDelta(t, 0.45, avgYes, 1e-9)

	pairCost, ok := pos.PairCostAvg()
	require.True(t, ok)
	assert.InDelta(t, 0.95, pairCost, 1e-9)
}

func TestImbalancedPairLosesOnShortLeg(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 100, Price: 0.45}))
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideNo, Qty: 50, Price: 0.50}))

	assert.InDelta(t, 50.0, pos.QMin(), 1e-9)
	assert.InDelta(t, 49.0, pos.PayoutNet(), 1e-9)
	assert.InDelta(t, 70.0, pos.TotalCost(), 1e-9)
	assert.InDelta(t, -21.0, pos.GuaranteedPnL(), 1e-9)
	assert.InDelta(t, 40.0, pos.LegImbalanceShares(), 1e-9)
	assert.InDelta(t, 15.0, pos.LegImbalanceQuote(), 1e-9)
}

func TestHypoBuyIsPure(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 100, Price: 0.45}))

	next := pos.HypoBuy(types.SideNo, 50, 0.50)

	// Receiver untouched.
	assert.Zero(t, pos.QNo)
	assert.Zero(t, pos.CNo)

	// Projection equals a synthetic fill of qty = amount/price.
	assert.InDelta(t, 100.0, next.QNo, 1e-9)
	assert.InDelta(t, 50.0, next.CNo, 1e-9)
	assert.Equal(t, pos.QYes, next.QYes)
}

func TestHypoBuyDegenerateInputsReturnCopy(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 10, Price: 0.40}))

	for _, next := range []*PairPosition{
		pos.HypoBuy(types.SideNo, 0, 0.50),
		pos.HypoBuy(types.SideNo, -5, 0.50),
		pos.HypoBuy(types.SideNo, 50, 0),
		pos.HypoBuy(types.SideNo, 50, -1),
	} {
		assert.Equal(t, *pos, *next)
	}
}

func TestAvgSideExactAfterFills(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 40, Price: 0.30}))
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 60, Price: 0.50}))

	avg, ok := pos.AvgYes()
	require.True(t, ok)
	assert.InDelta(t, pos.CYes/pos.QYes, avg, 1e-12)
	assert.InDelta(t, 0.42, avg, 1e-9)
}

func TestGuaranteedPnLBoundedByFillCost(t *testing.T) {
	t.Parallel()

	// Applying a fill can never reduce guaranteed PnL by more than the
	// fill's cost.
	fills := []types.Fill{
		{Side: types.SideYes, Qty: 100, Price: 0.45},
		{Side: types.SideNo, Qty: 30, Price: 0.55},
		{Side: types.SideNo, Qty: 90, Price: 0.40},
		{Side: types.SideYes, Qty: 10, Price: 0.99},
	}

	pos := New("test", 0.02)
	for _, f := range fills {
		before := pos.GuaranteedPnL()
		require.NoError(t, pos.ApplyFill(f))
		after := pos.GuaranteedPnL()
		assert.GreaterOrEqual(t, after, before-f.Qty*f.Price-1e-9)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	pos := New("test", 0.02)
	require.NoError(t, pos.ApplyFill(types.Fill{Side: types.SideYes, Qty: 10, Price: 0.5}))

	cp := pos.Clone()
	require.NoError(t, cp.ApplyFill(types.Fill{Side: types.SideNo, Qty: 10, Price: 0.5}))

	assert.Zero(t, pos.QNo)
	assert.Equal(t, 10.0, cp.QNo)
}
