package solvency

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

func newTestMonitor() *Monitor {
	return NewMonitor(DefaultConfig(), 10, 1)
}

func newTestGlobalConfigForSolvency() *market.GlobalConfig {
	return market.NewGlobalConfig(30, 10, []market.LeverageTier{
		{MinCoverageBps: 0, MaxLeverage: 1},
		{MinCoverageBps: 10000, MaxLeverage: 10},
	})
}

func TestCheckTradeTripsPriceBreakerOnLargeDeviation(t *testing.T) {
	m := newTestMonitor()
	require.NoError(t, m.CheckTrade("m1", 1, 5000, 100))
	require.NoError(t, m.CheckTrade("m1", 2, 5100, 105)) // 2% move, under the 5% threshold
	err := m.CheckTrade("m1", 3, 6000, 110)               // vs the oldest sample in-window: ~20% move
	require.ErrorIs(t, err, errs.ErrCircuitBreakerTriggered)
}

func TestAllowTradingBlockedAfterPriceBreakerTrips(t *testing.T) {
	m := newTestMonitor()
	m.CheckTrade("m1", 1, 5000, 100)
	m.CheckTrade("m1", 2, 9500, 100)
	require.Error(t, m.AllowTrading("m1", 3))

	other := m.AllowTrading("m2", 3)
	require.NoError(t, other) // breaker state is per-market
}

func TestAllowNewPositionBlockedWhenCoverageBelowHalt(t *testing.T) {
	m := newTestMonitor()
	m.CheckCoverage(1, 10500) // below 11000 halt threshold
	err := m.AllowNewPosition(1, 5)
	require.ErrorIs(t, err, errs.ErrInsufficientCoverage)

	// leverage 1 is always allowed regardless of coverage breaker.
	require.NoError(t, m.AllowNewPosition(1, 1))
}

func TestCheckCoverageForcesShutdownBelowCritical(t *testing.T) {
	m := newTestMonitor()
	m.CheckCoverage(1, 9000) // below 10000 critical threshold
	err := m.AllowTrading("m1", 1)
	require.ErrorIs(t, err, errs.ErrCircuitBreakerTriggered)
}

func TestResetCoverageIfRecoveredClearsBreaker(t *testing.T) {
	m := newTestMonitor()
	m.CheckCoverage(1, 10500)
	require.Error(t, m.AllowNewPosition(1, 5))

	m.ResetCoverageIfRecovered(12500) // above 12000 resume threshold
	require.NoError(t, m.AllowNewPosition(2, 5))
}

func TestRecordLiquidationsTripsSurgeBreakerOverMax(t *testing.T) {
	m := newTestMonitor()
	m.RecordLiquidations("m1", 1, 25) // default LiquidationSurgeMax is 20
	snap := m.Snapshot()
	var found bool
	for _, s := range snap {
		if s.Name == "liquidation-surge:m1" {
			found = true
			require.Equal(t, int64(1), s.TotalTrips)
			require.Equal(t, StateOpen, s.State)
		}
	}
	require.True(t, found)
}

func TestAllowOrderSubmissionExhaustsBucket(t *testing.T) {
	m := NewMonitor(DefaultConfig(), 1, 0)
	require.True(t, m.AllowOrderSubmission())
	require.False(t, m.AllowOrderSubmission())
}

func TestEmergencyShutdownAndResume(t *testing.T) {
	m := newTestMonitor()
	m.EmergencyShutdown("administrative halt")
	require.Error(t, m.AllowTrading("m1", 1))
	require.Error(t, m.AllowNewPosition(1, 1))

	m.Resume()
	require.NoError(t, m.AllowTrading("m1", 2))
}

func TestCoverageRatioBpsComputesFromGlobalConfig(t *testing.T) {
	g := newTestGlobalConfigForSolvency()
	g.VaultBalance = 1_500_000
	g.TotalOpenInterest = 1_000_000

	bps, err := CoverageRatioBps(g)
	require.NoError(t, err)
	require.Equal(t, types.Bps(15000), bps)
}
