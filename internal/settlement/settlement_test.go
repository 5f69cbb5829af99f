package settlement

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/pkg/types"
)

func newTestMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.NewMarket(market.Spec{
		ID:             "m1",
		Kind:           types.KindLMSR,
		OutcomeCount:   2,
		LiquidityParam: fixedpoint.FromInt64(1_000_000),
		SettleSlot:     10,
	})
	require.NoError(t, err)
	return m
}

func newTestGlobalConfig() *market.GlobalConfig {
	return market.NewGlobalConfig(30, 10, []market.LeverageTier{
		{MinCoverageBps: 0, MaxLeverage: 1},
		{MinCoverageBps: 1000, MaxLeverage: 20},
	})
}

func newTestOracleRecord(m *market.Market, winner int) *oracle.Record {
	vector := make([]types.Bps, m.OutcomeCount)
	for i := range vector {
		vector[i] = 100
	}
	vector[winner] = 9900
	return oracle.NewRecord(m.ID, common.Address{}, vector)
}

func TestResolveTooEarlyFails(t *testing.T) {
	m := newTestMarket(t)
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 0)

	_, err := Resolve(reg, m, rec, 5)
	require.ErrorIs(t, err, errs.ErrTooEarlyToSettle)
}

func TestResolvePicksArgmaxAndOpensDisputeWindow(t *testing.T) {
	m := newTestMarket(t)
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 1)

	settled, err := Resolve(reg, m, rec, 10)
	require.NoError(t, err)
	require.Equal(t, 1, settled.WinningOutcome)
	require.Equal(t, types.SettlementPending, settled.State)
	require.Equal(t, types.MarketResolving, m.State)
	require.Equal(t, currentSlotPlusWindow(10), settled.DisputeWindowEndSlot)
}

func currentSlotPlusWindow(slot types.Slot) types.Slot {
	return slot + DisputeWindowSlots
}

func TestDisputeReopensPendingSettlement(t *testing.T) {
	m := newTestMarket(t)
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 0)
	_, err := Resolve(reg, m, rec, 10)
	require.NoError(t, err)

	require.NoError(t, Dispute(reg, m))
	require.Equal(t, types.MarketDisputed, m.State)

	_, err = Resolve(reg, m, rec, 11)
	require.ErrorIs(t, err, errs.ErrMarketDisputed)
}

func TestMirrorDisputePropagatesToDependentMarket(t *testing.T) {
	source := newTestMarket(t)
	dependent := newTestMarket(t)
	dependent.ID = "m2"
	reg := NewRegistry()
	rec := newTestOracleRecord(source, 0)
	_, err := Resolve(reg, source, rec, 10)
	require.NoError(t, err)
	require.NoError(t, Dispute(reg, source))

	require.NoError(t, MirrorDispute(reg, source, dependent))
	require.Equal(t, types.MarketDisputed, dependent.State)
}

func TestMirrorDisputeRequiresSourceActuallyDisputed(t *testing.T) {
	source := newTestMarket(t)
	dependent := newTestMarket(t)
	dependent.ID = "m2"
	reg := NewRegistry()
	rec := newTestOracleRecord(source, 0)
	_, err := Resolve(reg, source, rec, 10)
	require.NoError(t, err)

	err = MirrorDispute(reg, source, dependent)
	require.ErrorIs(t, err, errs.ErrMarketNotResolved)
}

func TestArbitrateFixesWinnerAndReopensWindow(t *testing.T) {
	m := newTestMarket(t)
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 0)
	_, err := Resolve(reg, m, rec, 10)
	require.NoError(t, err)
	require.NoError(t, Dispute(reg, m))

	require.NoError(t, Arbitrate(reg, m, 1, 20))
	got, ok := reg.Get(m.ID)
	require.True(t, ok)
	require.Equal(t, 1, got.WinningOutcome)
	require.Equal(t, types.MarketResolving, m.State)
}

func TestFinalizeRequiresWindowElapsedAndNoDispute(t *testing.T) {
	m := newTestMarket(t)
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 0)
	_, err := Resolve(reg, m, rec, 10)
	require.NoError(t, err)

	_, err = Finalize(reg, m, 11)
	require.ErrorIs(t, err, errs.ErrTooEarlyToSettle)

	finalRec, err := Finalize(reg, m, 10+DisputeWindowSlots+1)
	require.NoError(t, err)
	require.Equal(t, types.SettlementFinal, finalRec.State)
	require.Equal(t, types.MarketResolved, m.State)
}

func TestSettlePositionCreditsWinnerAndForfeitsLoser(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	posReg := position.NewRegistry()
	reg := NewRegistry()
	rec := newTestOracleRecord(m, 0)

	g.VaultBalance = 1_000_000
	openResult, err := position.OpenPosition(posReg, m, g, "winner", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)
	loserResult, err := position.OpenPosition(posReg, m, g, "loser", 1, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)

	_, err = Resolve(reg, m, rec, 10)
	require.NoError(t, err)
	finalRec, err := Finalize(reg, m, 10+DisputeWindowSlots+1)
	require.NoError(t, err)

	winResult, err := SettlePosition(posReg, m, g, finalRec, openResult.Position.ID)
	require.NoError(t, err)
	require.True(t, winResult.Won)
	require.Greater(t, winResult.Payout, types.Micros(0))

	loseResult, err := SettlePosition(posReg, m, g, finalRec, loserResult.Position.ID)
	require.NoError(t, err)
	require.False(t, loseResult.Won)
	require.Equal(t, types.Micros(0), loseResult.Payout)

	_, stillIndexed := m.OpenPositionIndex[openResult.Position.ID]
	require.False(t, stillIndexed)
}

func TestSettlePositionRejectsBeforeFinal(t *testing.T) {
	m := newTestMarket(t)
	g := newTestGlobalConfig()
	posReg := position.NewRegistry()
	g.VaultBalance = 1_000_000

	openResult, err := position.OpenPosition(posReg, m, g, "u1", 0, fixedpoint.FromInt64(1000), 2, true, 200, 10_000_000, 1)
	require.NoError(t, err)

	pending := &Record{MarketID: m.ID, State: types.SettlementPending}
	_, err = SettlePosition(posReg, m, g, pending, openResult.Position.ID)
	require.ErrorIs(t, err, errs.ErrMarketNotResolved)
}
