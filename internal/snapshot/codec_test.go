package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/orderbook"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/pkg/types"
)

func TestGlobalConfigRoundTrip(t *testing.T) {
	tiers := []market.LeverageTier{
		{MinCoverageBps: 0, MaxLeverage: 1},
		{MinCoverageBps: 5000, MaxLeverage: 10},
		{MinCoverageBps: 10000, MaxLeverage: 25},
	}
	g := market.NewGlobalConfig(30, 10, tiers)
	g.Lock()
	g.ApplyVaultDeltaLocked(2_500_000)
	g.Unlock()
	g.FeeBaseBps = 25
	g.FeeSlopeBps = 5
	g.HaltFlag = true

	b := EncodeGlobalConfig(g, 7, 3, tiers)
	out, err := DecodeGlobalConfig(b)
	require.NoError(t, err)

	require.Equal(t, uint64(7), out.Epoch)
	require.Equal(t, uint64(3), out.Season)
	require.Equal(t, g.VaultBalance, out.VaultBalance)
	require.Equal(t, g.TotalOpenInterest, out.TotalOpenInterest)
	require.Equal(t, types.Bps(25), out.FeeBaseBps)
	require.Equal(t, types.Bps(5), out.FeeSlopeBps)
	require.True(t, out.HaltFlag)
	require.Equal(t, tiers, out.LeverageTiers)
}

func TestDecodeGlobalConfigRejectsUnknownVersion(t *testing.T) {
	e := newEncoder()
	e.WriteUint64(schemaVersion + 1)
	_, err := DecodeGlobalConfig(e.Bytes())
	require.Error(t, err)
}

func TestMarketRoundTrip(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m1",
		VerseID:        "v1",
		Kind:           types.KindLMSR,
		OutcomeCount:   3,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
		SettleSlot:     100,
		CreatedSlot:    1,
	})
	require.NoError(t, err)
	m.TotalVolume = 50_000
	m.TotalLiquidity = 1_000_000
	m.CurrentPrice = 3400
	m.ResolutionIndex = 2
	m.ResolutionSet = true

	b := EncodeMarket(m)
	out, err := DecodeMarket(b)
	require.NoError(t, err)

	require.Equal(t, m.ID, out.ID)
	require.Equal(t, m.VerseID, out.VerseID)
	require.Equal(t, m.Kind, out.Kind)
	require.Equal(t, m.OutcomeCount, out.OutcomeCount)
	require.Equal(t, m.PriceVector, out.PriceVector)
	require.Equal(t, m.Shares, out.Shares)
	require.True(t, m.LiquidityParam.Cmp(out.LiquidityParam) == 0)
	require.Equal(t, m.TotalVolume, out.TotalVolume)
	require.Equal(t, m.TotalLiquidity, out.TotalLiquidity)
	require.Equal(t, m.CurrentPrice, out.CurrentPrice)
	require.Equal(t, m.State, out.State)
	require.Equal(t, m.SettleSlot, out.SettleSlot)
	require.Equal(t, m.CreatedSlot, out.CreatedSlot)
	require.Equal(t, m.ResolutionIndex, out.ResolutionIndex)
	require.Equal(t, m.ResolutionSet, out.ResolutionSet)
}

func TestMarketRoundTripL2AMMOutcomes(t *testing.T) {
	m, err := market.NewMarket(market.Spec{
		ID:             "m2",
		Kind:           types.KindL2AMM,
		LiquidityParam: fixedpoint.FromInt64(500_000),
		SettleSlot:     50,
		MinValue:       fixedpoint.FromInt64(0),
		MaxValue:       fixedpoint.FromInt64(100),
		BinCount:       4,
	})
	require.NoError(t, err)

	b := EncodeMarket(m)
	out, err := DecodeMarket(b)
	require.NoError(t, err)

	require.True(t, m.MinValue.Cmp(out.MinValue) == 0)
	require.True(t, m.MaxValue.Cmp(out.MaxValue) == 0)
	require.Equal(t, len(m.Outcomes), len(out.Outcomes))
	for i := range m.Outcomes {
		require.Equal(t, m.Outcomes[i].BinIndex, out.Outcomes[i].BinIndex)
		require.True(t, m.Outcomes[i].LowerValue.Cmp(out.Outcomes[i].LowerValue) == 0)
		require.True(t, m.Outcomes[i].UpperValue.Cmp(out.Outcomes[i].UpperValue) == 0)
		require.Equal(t, m.Outcomes[i].ProbabilityWeight, out.Outcomes[i].ProbabilityWeight)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	p := &position.Position{
		ID:                    "p1",
		Owner:                 "u1",
		MarketID:              "m1",
		OutcomeIdx:            1,
		Size:                  fixedpoint.FromInt64(1000),
		MarginLocked:          fixedpoint.FromInt64(100),
		Leverage:              5,
		EntryPrice:            4200,
		LiquidationPx:         3900,
		IsLong:                true,
		UnrealizedPnL:         fixedpoint.FromInt64(-50),
		FundingAccrued:        fixedpoint.FromInt64(3),
		Status:                types.PositionOpen,
		OpenedSlot:            42,
		PartialLiqAccumulated: fixedpoint.FromInt64(0),
	}

	b := EncodePosition(p)
	out, err := DecodePosition(b)
	require.NoError(t, err)

	require.Equal(t, p.ID, out.ID)
	require.Equal(t, p.Owner, out.Owner)
	require.Equal(t, p.MarketID, out.MarketID)
	require.Equal(t, p.OutcomeIdx, out.OutcomeIdx)
	require.True(t, p.Size.Cmp(out.Size) == 0)
	require.True(t, p.MarginLocked.Cmp(out.MarginLocked) == 0)
	require.Equal(t, p.Leverage, out.Leverage)
	require.Equal(t, p.EntryPrice, out.EntryPrice)
	require.Equal(t, p.LiquidationPx, out.LiquidationPx)
	require.Equal(t, p.IsLong, out.IsLong)
	require.True(t, p.UnrealizedPnL.Cmp(out.UnrealizedPnL) == 0)
	require.True(t, p.FundingAccrued.Cmp(out.FundingAccrued) == 0)
	require.Equal(t, p.Status, out.Status)
	require.Equal(t, p.OpenedSlot, out.OpenedSlot)
	require.True(t, p.PartialLiqAccumulated.Cmp(out.PartialLiqAccumulated) == 0)
}

func TestPositionRoundTripNegativeFixed(t *testing.T) {
	p := &position.Position{
		ID:            "p2",
		Size:          fixedpoint.FromInt64(-777),
		UnrealizedPnL: fixedpoint.FromInt64(-1),
	}
	b := EncodePosition(p)
	out, err := DecodePosition(b)
	require.NoError(t, err)
	require.True(t, p.Size.Cmp(out.Size) == 0)
	require.True(t, out.Size.IsNeg())
}

func TestOrderRoundTrip(t *testing.T) {
	o := &orderbook.Order{
		ID:          "o1",
		UserID:      "u1",
		MarketID:    "m1",
		OutcomeIdx:  0,
		Side:        types.Buy,
		Kind:        types.OrderLimit,
		Status:      types.OrderOpen,
		TIF:         types.TIFGoodTilCancelled,
		LimitPrice:  4500,
		Size:        fixedpoint.FromInt64(200),
		FilledSize:  fixedpoint.FromInt64(50),
		CreatedSlot: 9,
		Deadline:    0,
	}

	b := EncodeOrder(o)
	out, err := DecodeOrder(b)
	require.NoError(t, err)

	require.Equal(t, o.ID, out.ID)
	require.Equal(t, o.UserID, out.UserID)
	require.Equal(t, o.MarketID, out.MarketID)
	require.Equal(t, o.OutcomeIdx, out.OutcomeIdx)
	require.Equal(t, o.Side, out.Side)
	require.Equal(t, o.Kind, out.Kind)
	require.Equal(t, o.Status, out.Status)
	require.Equal(t, o.TIF, out.TIF)
	require.Equal(t, o.LimitPrice, out.LimitPrice)
	require.True(t, o.Size.Cmp(out.Size) == 0)
	require.True(t, o.FilledSize.Cmp(out.FilledSize) == 0)
	require.Equal(t, o.CreatedSlot, out.CreatedSlot)
	require.Equal(t, o.Deadline, out.Deadline)
}

func TestDecodeTruncatedBytesFails(t *testing.T) {
	e := newEncoder()
	e.WriteUint64(schemaVersion)
	e.WriteString("short")
	_, err := DecodeOrder(e.Bytes()[:5])
	require.Error(t, err)
}
