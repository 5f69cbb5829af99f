package amm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

func newLMSRMarket(t *testing.T, b int64) *market.Market {
	t.Helper()
	m, err := market.NewMarket(market.Spec{
		ID:             "m1",
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(b),
	})
	require.NoError(t, err)
	return m
}

func sumBps(prices []types.Bps) types.Bps {
	var sum types.Bps
	for _, p := range prices {
		sum += p
	}
	return sum
}

func TestLMSRPriceNormalizesToTenThousand(t *testing.T) {
	m := newLMSRMarket(t, 1_000_000)
	require.Equal(t, types.BpsScale, sumBps(m.PriceVector))

	_, err := LMSRTrade(m, 0, fixedpoint.FromInt64(10_000), true, 0)
	require.NoError(t, err)
	require.Equal(t, types.BpsScale, sumBps(m.PriceVector))
}

func TestLMSRBuyingIncreasesPrice(t *testing.T) {
	m := newLMSRMarket(t, 1_000_000)
	before := m.PriceVector[0]

	_, err := LMSRTrade(m, 0, fixedpoint.FromInt64(10_000), true, 0)
	require.NoError(t, err)

	require.Greater(t, m.PriceVector[0], before)
	require.Less(t, m.PriceVector[1], types.BpsScale-before)
}

func TestLMSRQuoteMatchesNearHalfForSymmetricMarket(t *testing.T) {
	m := newLMSRMarket(t, 1_000_000)
	cost, err := LMSRQuote(m, 0, fixedpoint.FromInt64(10_000), true)
	require.NoError(t, err)

	// A symmetric two-outcome LMSR market quotes near 0.5 per share for a
	// small trade relative to b; 10k shares against b=1M should land close
	// to 5000 microUSDC.
	costMicros := fixedpoint.ToMicros(cost.Abs())
	require.InDelta(t, 5000, int64(costMicros), 200)
}

func TestPMAMMInvariantPreservedWithinRounding(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m2",
		Kind:           types.KindPMAMM,
		OutcomeCount:   3,
		LiquidityParam: fixedpoint.FromInt64(1_000_000_000_000_000_000),
	})
	require.NoError(t, err)
	for i := range m.Shares {
		m.Shares[i] = fixedpoint.FromInt64(1_000_000)
	}

	before, err := pmammProduct(m.Shares)
	require.NoError(t, err)

	_, err = PMAMMTrade(m, 1, fixedpoint.FromInt64(50_000), true, 0)
	require.NoError(t, err)

	after, err := pmammProduct(m.Shares)
	require.NoError(t, err)

	diff, err := after.Sub(before)
	require.NoError(t, err)
	// Allow rounding drift from the bisection root-finder's fixed
	// iteration count; the invariant must hold to within a small relative
	// tolerance, not bit-exactly.
	tolerance := before.Mul1(fixedpoint.MustFromRatio(1, 1_000_000))
	require.True(t, diff.Abs().Cmp(tolerance) <= 0)
	require.Equal(t, types.BpsScale, sumBps(m.PriceVector))
}

func TestPMAMMBuyingIncreasesPrice(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m3",
		Kind:           types.KindPMAMM,
		OutcomeCount:   3,
		LiquidityParam: fixedpoint.FromInt64(1),
	})
	require.NoError(t, err)
	for i := range m.Shares {
		m.Shares[i] = fixedpoint.FromInt64(1_000_000)
	}
	before := m.PriceVector[1]

	_, err = PMAMMTrade(m, 1, fixedpoint.FromInt64(100_000), true, 0)
	require.NoError(t, err)

	require.Greater(t, m.PriceVector[1], before)
}

func TestL2AMMRangeTradeAndResolve(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m4",
		Kind:           types.KindL2AMM,
		BinCount:       20,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
		MinValue:       fixedpoint.FromInt64(0),
		MaxValue:       fixedpoint.FromInt64(100),
	})
	require.NoError(t, err)
	require.Equal(t, types.BpsScale, sumBps(m.PriceVector))

	spec := RangeOrderSpec{Lower: fixedpoint.FromInt64(45), Upper: fixedpoint.FromInt64(55)}
	result, err := L2AMMRangeTrade(m, spec, fixedpoint.FromInt64(50), true, fixedpoint.FromInt64(1))
	require.NoError(t, err)
	require.Equal(t, types.Micros(50), result.FilledSize)
	require.Equal(t, types.BpsScale, sumBps(m.PriceVector))

	binIdx, err := ResolveBin(m, fixedpoint.FromInt64(50))
	require.NoError(t, err)
	require.True(t, binIdx >= 9 && binIdx <= 10)
}

func TestL2AMMRangeTradeBelowMinimumSize(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m5",
		Kind:           types.KindL2AMM,
		BinCount:       10,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
		MinValue:       fixedpoint.FromInt64(0),
		MaxValue:       fixedpoint.FromInt64(100),
	})
	require.NoError(t, err)

	spec := RangeOrderSpec{Lower: fixedpoint.FromInt64(0), Upper: fixedpoint.FromInt64(100)}
	_, err = L2AMMRangeTrade(m, spec, fixedpoint.MustFromRatio(1, 10), true, fixedpoint.FromInt64(1))
	require.Error(t, err)
}

func TestRouterDispatchesByKind(t *testing.T) {
	m := newLMSRMarket(t, 1_000_000)
	_, err := Trade(m, 0, fixedpoint.FromInt64(1_000), true, 0)
	require.NoError(t, err)
	require.Equal(t, m.PriceVector[0], m.CurrentPrice)
}

func TestBinaryLMSREquivalentToTwoOutcomePMAMMPriceShape(t *testing.T) {
	// Boundary behavior: N=2 LMSR and a symmetric two-outcome PM-AMM both
	// start perfectly split 5000/5000.
	lmsr := newLMSRMarket(t, 1_000_000)
	require.Equal(t, types.Bps(5000), lmsr.PriceVector[0])
	require.Equal(t, types.Bps(5000), lmsr.PriceVector[1])

	pmamm, err := market.NewMarket(market.Spec{
		ID:             "m6",
		Kind:           types.KindPMAMM,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1),
	})
	require.NoError(t, err)
	require.Equal(t, types.Bps(5000), pmamm.PriceVector[0])
	require.Equal(t, types.Bps(5000), pmamm.PriceVector[1])
}
