package position

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

func newTestMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.NewMarket(market.Spec{
		ID:             "m1",
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
	})
	require.NoError(t, err)
	m.TotalLiquidity = 10_000_000
	return m
}

func newTestGlobalConfig() *market.GlobalConfig {
	return market.NewGlobalConfig(30, 10, []market.LeverageTier{
		{MinCoverageBps: 0, MaxLeverage: 1},
		{MinCoverageBps: 1000, MaxLeverage: 20},
	})
}

func TestLiquidationPriceLongBelowEntry(t *testing.T) {
	liq, err := LiquidationPrice(5000, 20, true, 200)
	require.NoError(t, err)
	require.Less(t, int64(liq), int64(5000))
}

func TestLiquidationPriceShortAboveEntry(t *testing.T) {
	liq, err := LiquidationPrice(5000, 20, false, 200)
	require.NoError(t, err)
	require.Greater(t, int64(liq), int64(5000))
}

func TestLiquidationPriceHigherLeverageCloserToEntry(t *testing.T) {
	liqLow, err := LiquidationPrice(5000, 2, true, 200)
	require.NoError(t, err)
	liqHigh, err := LiquidationPrice(5000, 20, true, 200)
	require.NoError(t, err)
	// Higher leverage means a smaller price move triggers liquidation, so
	// the liquidation price sits closer to entry than for low leverage.
	require.Less(t, int64(liqLow), int64(liqHigh))
}

func TestHealthBpsFreshPositionIsFull(t *testing.T) {
	health, err := HealthBps(fixedpoint.FromInt64(100), fixedpoint.Zero)
	require.NoError(t, err)
	require.Equal(t, types.Bps(10000), health)
}

func TestComputeFeeUsesBaseWhenSlopeSmaller(t *testing.T) {
	fee, err := ComputeFee(1000, 1_000_000, 30, 10)
	require.NoError(t, err)
	require.Equal(t, types.Micros(3), fee) // 1000 * 0.003
}

func TestComputeFeeUsesSlopeWhenLarger(t *testing.T) {
	fee, err := ComputeFee(500_000, 1_000_000, 30, 1000)
	require.NoError(t, err)
	// slope-driven: 1000bps * (500000/1000000) = 500bps -> 5% of size = 25000
	require.Equal(t, types.Micros(25_000), fee)
}

func TestSplitFeeAddsBackToTotal(t *testing.T) {
	maker, staker, vault := SplitFee(1000)
	require.Equal(t, types.Micros(1000), maker+staker+vault)
	require.Equal(t, types.Micros(200), maker)
	require.Equal(t, types.Micros(150), staker)
	require.Equal(t, types.Micros(650), vault)
}

func TestOpenPositionAllocatesAndLocksMargin(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	result, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 5)
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	require.Equal(t, types.PositionOpen, result.Position.Status)
	require.Equal(t, uint32(2), result.Position.Leverage)

	_, ok := m.OpenPositionIndex[result.Position.ID]
	require.True(t, ok)
}

func TestOpenPositionRejectsLeverageAboveCoverageTier(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 0 // coverage = 0, only tier 1 (max leverage 1) qualifies
	reg := NewRegistry()

	_, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 5, true, 200, 10_000_000, 1)
	require.ErrorIs(t, err, errs.ErrLeverageTooHigh)
}

func TestOpenPositionRejectsInsufficientCredit(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	_, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 1, 1)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)
}

func TestCloseAfterOpenFreesOpenInterestAndIndex(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	result, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)

	oiBefore := g.TotalOpenInterest
	require.Greater(t, oiBefore, types.Micros(0))

	closeResult, err := ClosePosition(reg, m, g, result.Position.ID, 2)
	require.NoError(t, err)
	require.Greater(t, closeResult.Refund, types.Micros(0))
	require.Less(t, g.TotalOpenInterest, oiBefore)

	closed, ok := reg.Get(result.Position.ID)
	require.True(t, ok)
	require.Equal(t, types.PositionClosed, closed.Status)
	_, stillIndexed := m.OpenPositionIndex[result.Position.ID]
	require.False(t, stillIndexed)
}

// TestRoundTripAtSamePriceReturnsMarginMinusTwoFees locks in §8's round
// trip law: opening then immediately closing at the same price refunds
// margin minus exactly 2x fee, since LMSR with a buy-then-sell of the
// same size at an unmoved book charges the same fee on each leg and PnL
// is zero.
func TestRoundTripAtSamePriceReturnsMarginMinusTwoFees(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	openResult, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)
	marginLocked := fixedpoint.ToMicros(openResult.Position.MarginLocked)

	closeResult, err := ClosePosition(reg, m, g, openResult.Position.ID, 1)
	require.NoError(t, err)

	require.Equal(t, openResult.Fee, closeResult.Fee)
	require.True(t, closeResult.PnL.IsZero())
	require.Equal(t, marginLocked-2*openResult.Fee, closeResult.Refund)
}

func TestClosePositionAlreadyClosedFails(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	result, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)

	_, err = ClosePosition(reg, m, g, result.Position.ID, 2)
	require.NoError(t, err)

	_, err = ClosePosition(reg, m, g, result.Position.ID, 3)
	require.ErrorIs(t, err, errs.ErrPositionAlreadyClosed)
}

func TestUpdateMarkToMarketFlagsUnhealthyPosition(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	g.VaultBalance = 1_000_000
	reg := NewRegistry()

	result, err := OpenPosition(reg, m, g, "user1", 0, fixedpoint.FromInt64(1000), 10, true, 200, 10_000_000, 1)
	require.NoError(t, err)

	// Simulate an adverse price move against the long position.
	m.PriceVector[0] = result.Position.EntryPrice - 2000
	m.PriceVector[1] = types.BpsScale - m.PriceVector[0]

	healths, err := UpdateMarkToMarket(reg, m, 5)
	require.NoError(t, err)

	var found bool
	for _, h := range healths {
		if h.PositionID == result.Position.ID {
			found = true
			require.Less(t, int64(h.Health), int64(2500))
		}
	}
	require.True(t, found)
}
