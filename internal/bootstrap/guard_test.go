package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

func TestRecordDepositCompletesAtTarget(t *testing.T) {
	g := NewGuard(DefaultConfig(1000), 500)

	completed := g.RecordDeposit("u1", 600, 1)
	require.False(t, completed)
	require.False(t, g.Complete)

	completed = g.RecordDeposit("u2", 400, 2)
	require.True(t, completed)
	require.True(t, g.Complete)
}

func TestCheckWithdrawalBlockedDuringGracePeriod(t *testing.T) {
	cfg := DefaultConfig(1000)
	g := NewGuard(cfg, 500)
	g.RecordDeposit("u1", 100, 10)

	err := g.CheckWithdrawal("u1", 10, 10+cfg.MinHoldSlots-1)
	require.ErrorIs(t, err, errs.ErrInGracePeriod)
}

func TestCheckWithdrawalRejectsUnknownDepositor(t *testing.T) {
	g := NewGuard(DefaultConfig(1000), 500)
	err := g.CheckWithdrawal("nobody", 10, 1000)
	require.ErrorIs(t, err, errs.ErrInsufficientPrepaidBounty)
}

func TestCheckWithdrawalRejectsAboveSingleWindowCap(t *testing.T) {
	cfg := DefaultConfig(10_000)
	g := NewGuard(cfg, 500)
	g.RecordDeposit("u1", 1000, 1)

	// cap is 20% of deposited = 200; request exceeds it outright.
	afterHold := types.Slot(1) + cfg.MinHoldSlots + 1
	err := g.CheckWithdrawal("u1", 300, afterHold)
	require.ErrorIs(t, err, errs.ErrSuspiciousWithdrawal)
}

func TestCheckWithdrawalDetectsRapidWithdrawalsWithinWindow(t *testing.T) {
	cfg := DefaultConfig(10_000)
	g := NewGuard(cfg, 500)
	g.RecordDeposit("u1", 1000, 1)

	afterHold := types.Slot(1) + cfg.MinHoldSlots + 1
	require.NoError(t, g.CheckWithdrawal("u1", 100, afterHold))
	g.RecordWithdrawal("u1", 100, afterHold)

	// second withdrawal within the same rolling window pushes the
	// cumulative total over the 200 cap even though neither alone exceeds it.
	err := g.CheckWithdrawal("u1", 150, afterHold+1)
	require.ErrorIs(t, err, errs.ErrRapidWithdrawalsDetected)
}

func TestCheckWithdrawalUnrestrictedAfterComplete(t *testing.T) {
	g := NewGuard(DefaultConfig(100), 500)
	g.RecordDeposit("u1", 100, 1)
	require.True(t, g.Complete)

	require.NoError(t, g.CheckWithdrawal("u1", 1_000_000, 1))
}

func TestAllocateMMTDistributesProRataAndZeroesRemaining(t *testing.T) {
	g := NewGuard(DefaultConfig(1000), 500)
	g.RecordDeposit("u1", 750, 1)
	g.RecordDeposit("u2", 250, 2)

	shares := g.AllocateMMT()
	require.Len(t, shares, 2)

	var total types.Micros
	for _, share := range shares {
		total += share
	}
	require.Equal(t, types.Micros(500), total)
	require.Equal(t, types.Micros(0), g.MMTAllocationRemaining)
}

func TestAllocateMMTReturnsNilBeforeComplete(t *testing.T) {
	g := NewGuard(DefaultConfig(1000), 500)
	g.RecordDeposit("u1", 100, 1)

	require.Nil(t, g.AllocateMMT())
}
