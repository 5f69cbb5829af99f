// Package bootstrap implements §4.12: the initial deposit phase toward a
// target, pro-rata MMT allocation on completion, and a vampire-attack
// guard that throttles rapid deposit-then-withdraw patterns during that
// phase, using a rolling withdrawal window with an evict-stale-then-score
// pipeline.
package bootstrap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/pkg/types"
)

// withdrawal is one entry in a participant's rolling window, mirroring
// FlowTracker's Fill entries.
type withdrawal struct {
	slot   types.Slot
	amount types.Micros
}

// participantState tracks one user's deposit/withdrawal history during
// bootstrap.
type participantState struct {
	totalDeposited   types.Micros
	totalWithdrawn   types.Micros
	recentWithdrawal []withdrawal
}

// Config tunes the vampire-attack guard, mirroring FlowTracker's
// constructor parameters (window, threshold, cooldown) generalized to
// withdrawal-rate units.
type Config struct {
	WindowSlots          types.Slot   // rolling window width, e.g. 600 slots
	MaxWithdrawalBpsOfDeposit types.Bps // per-window cap as a fraction of total deposited
	MinHoldSlots         types.Slot   // deposits can't be withdrawn before this many slots have passed
	TargetDeposits       types.Micros // bootstrap completes once total_deposits reaches this
}

// DefaultConfig returns reasonable bootstrap-phase defaults.
func DefaultConfig(target types.Micros) Config {
	return Config{
		WindowSlots:               600,
		MaxWithdrawalBpsOfDeposit: 2000, // 20% of a user's deposit per window
		MinHoldSlots:              50,
		TargetDeposits:            target,
	}
}

// Guard is the per-exchange bootstrap state (§3's BootstrapState): total
// deposits, remaining MMT allocation, the participant registry, and the
// withdrawal-rate window every withdrawal is checked against. It
// transitions from active to Complete once TotalDeposits reaches
// cfg.TargetDeposits; after that, Guard.CheckWithdrawal always allows.
type Guard struct {
	mu sync.Mutex

	cfg Config

	TotalDeposits         types.Micros
	MMTAllocationRemaining types.Micros
	Complete              bool

	participants map[types.UserID]*participantState
	depositSlot  map[types.UserID]types.Slot // first-deposit slot, for MinHoldSlots
}

// NewGuard constructs a bootstrap guard with the full MMT allocation
// still unclaimed.
func NewGuard(cfg Config, mmtAllocation types.Micros) *Guard {
	return &Guard{
		cfg:                    cfg,
		MMTAllocationRemaining: mmtAllocation,
		participants:           make(map[types.UserID]*participantState),
		depositSlot:            make(map[types.UserID]types.Slot),
	}
}

func (g *Guard) participant(owner types.UserID) *participantState {
	p, ok := g.participants[owner]
	if !ok {
		p = &participantState{}
		g.participants[owner] = p
	}
	return p
}

// RecordDeposit applies a deposit; it always succeeds and returns whether
// this deposit completed the bootstrap target. Deposits are not locked
// before completion: withdrawals during bootstrap are throttled by
// CheckWithdrawal instead.
func (g *Guard) RecordDeposit(owner types.UserID, amount types.Micros, currentSlot types.Slot) (completed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.participant(owner)
	p.totalDeposited += amount
	g.TotalDeposits += amount
	if _, seen := g.depositSlot[owner]; !seen {
		g.depositSlot[owner] = currentSlot
	}

	if !g.Complete && g.TotalDeposits >= g.cfg.TargetDeposits {
		g.Complete = true
		return true
	}
	return false
}

// CheckWithdrawal implements §4.12's throttle: once bootstrap is
// Complete, withdrawals are unrestricted. During bootstrap, a withdrawal
// is rejected with InGracePeriod if it's within MinHoldSlots of the
// user's first deposit, SuspiciousWithdrawal if it alone exceeds the
// per-window cap, or RapidWithdrawalsDetected if the user's rolling-window
// total (including this one) exceeds the cap — mirroring FlowTracker's
// evict-then-score pipeline.
func (g *Guard) CheckWithdrawal(owner types.UserID, amount types.Micros, currentSlot types.Slot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Complete {
		return nil
	}

	firstDeposit, everDeposited := g.depositSlot[owner]
	if !everDeposited {
		return fmt.Errorf("bootstrap check withdrawal %s: %w", owner, errs.ErrInsufficientPrepaidBounty)
	}
	if currentSlot < firstDeposit+g.cfg.MinHoldSlots {
		return fmt.Errorf("bootstrap check withdrawal %s: %w", owner, errs.ErrInGracePeriod)
	}

	p := g.participant(owner)
	limit := windowCap(p.totalDeposited, g.cfg.MaxWithdrawalBpsOfDeposit)
	if amount > limit {
		return fmt.Errorf("bootstrap check withdrawal %s: %w", owner, errs.ErrSuspiciousWithdrawal)
	}

	p.recentWithdrawal = evictStale(p.recentWithdrawal, currentSlot, g.cfg.WindowSlots)
	var windowed types.Micros
	for _, w := range p.recentWithdrawal {
		windowed += w.amount
	}
	if windowed+amount > limit {
		return fmt.Errorf("bootstrap check withdrawal %s: %w", owner, errs.ErrRapidWithdrawalsDetected)
	}
	return nil
}

// RecordWithdrawal applies an already-checked withdrawal to the rolling
// window.
func (g *Guard) RecordWithdrawal(owner types.UserID, amount types.Micros, currentSlot types.Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.participant(owner)
	p.totalWithdrawn += amount
	p.recentWithdrawal = append(p.recentWithdrawal, withdrawal{slot: currentSlot, amount: amount})
	p.recentWithdrawal = evictStale(p.recentWithdrawal, currentSlot, g.cfg.WindowSlots)
}

func evictStale(hist []withdrawal, currentSlot types.Slot, window types.Slot) []withdrawal {
	cutoff := int64(currentSlot) - int64(window)
	i := 0
	for i < len(hist) && int64(hist[i].slot) < cutoff {
		i++
	}
	if i == 0 {
		return hist
	}
	return append([]withdrawal(nil), hist[i:]...)
}

func windowCap(deposited types.Micros, bps types.Bps) types.Micros {
	return types.Micros(int64(deposited) * int64(bps) / int64(types.BpsScale))
}

// AllocateMMT distributes the remaining MMT allocation pro rata across
// every participant by their share of total deposits, called once on
// transition to Complete. Returns each participant's share; the caller
// credits it through whatever external token-distribution hook exists
// (out of scope per spec.md §1 — this just computes the split).
func (g *Guard) AllocateMMT() map[types.UserID]types.Micros {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.Complete || g.TotalDeposits == 0 {
		return nil
	}
	out := make(map[types.UserID]types.Micros, len(g.participants))
	var distributed types.Micros
	owners := make([]types.UserID, 0, len(g.participants))
	for owner := range g.participants {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for i, owner := range owners {
		p := g.participants[owner]
		var share types.Micros
		if i == len(owners)-1 {
			share = g.MMTAllocationRemaining - distributed // residue to the last owner in sorted order
		} else {
			share = types.Micros(int64(g.MMTAllocationRemaining) * int64(p.totalDeposited) / int64(g.TotalDeposits))
		}
		out[owner] = share
		distributed += share
	}
	g.MMTAllocationRemaining = 0
	return out
}
