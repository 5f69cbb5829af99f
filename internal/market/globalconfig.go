// Package market holds the core entities of the exchange — GlobalConfig,
// Market, and Outcome — and the arena-style registry that owns them. Per
// the cyclic-reference design note, positions and the liquidation queue
// never hold back-pointers into a Market; they hold IDs and look up the
// registry when they need current state.
package market

import (
	"sync"

	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// LeverageTier bounds the maximum leverage available once global coverage
// is at or above MinCoverageBps. Tiers are immutable after genesis and
// read without locking, per §5's shared-resource rule.
type LeverageTier struct {
	MinCoverageBps types.Bps
	MaxLeverage    uint32
}

// GlobalConfig is the process-wide singleton described in §3 and §9: a
// single record guarded by its own lock, passed explicitly to the
// operations that need it rather than embedded as a back-reference in
// other structs. Any caller that also holds a market lock must acquire
// this lock strictly after the market lock (§5 lock ordering).
type GlobalConfig struct {
	mu sync.Mutex

	Epoch             uint64
	Season            uint64
	VaultBalance      types.Micros
	TotalOpenInterest types.Micros
	FeeBaseBps        types.Bps
	FeeSlopeBps       types.Bps
	HaltFlag          bool
	LeverageTiers     []LeverageTier // immutable after genesis
}

// NewGlobalConfig constructs the genesis GlobalConfig record.
func NewGlobalConfig(feeBaseBps, feeSlopeBps types.Bps, tiers []LeverageTier) *GlobalConfig {
	return &GlobalConfig{
		FeeBaseBps:    feeBaseBps,
		FeeSlopeBps:   feeSlopeBps,
		LeverageTiers: tiers,
	}
}

// Lock acquires the global lock. Callers that also need a market lock must
// have acquired it first.
func (g *GlobalConfig) Lock()   { g.mu.Lock() }
func (g *GlobalConfig) Unlock() { g.mu.Unlock() }

// CoverageRatioLocked returns vault / max(total_oi, 1) as a Fixed. Caller
// must hold the lock.
func (g *GlobalConfig) CoverageRatioLocked() (fixedpoint.Fixed, error) {
	denom := g.TotalOpenInterest
	if denom == 0 {
		denom = 1
	}
	return fixedpoint.FromMicros(g.VaultBalance).Div(fixedpoint.FromMicros(denom))
}

// MaxLeverageForCoverage returns the highest leverage allowed at the given
// coverage ratio, by scanning the immutable tier table (no lock needed —
// tiers never change post-genesis).
func (g *GlobalConfig) MaxLeverageForCoverage(coverage fixedpoint.Fixed) uint32 {
	coverageBps := fixedpoint.ToBps(coverage)
	var best uint32 = 1
	for _, tier := range g.LeverageTiers {
		if coverageBps >= tier.MinCoverageBps && tier.MaxLeverage > best {
			best = tier.MaxLeverage
		}
	}
	return best
}

// ApplyVaultDeltaLocked adjusts the vault balance. delta may be negative;
// callers pass signed deltas via the fee/settlement pure functions. Caller
// must hold the lock.
func (g *GlobalConfig) ApplyVaultDeltaLocked(deltaMicros int64) {
	if deltaMicros >= 0 {
		g.VaultBalance += types.Micros(deltaMicros)
		return
	}
	dec := types.Micros(-deltaMicros)
	if dec > g.VaultBalance {
		g.VaultBalance = 0
		return
	}
	g.VaultBalance -= dec
}

// ApplyOpenInterestDeltaLocked adjusts total_open_interest; see
// ApplyVaultDeltaLocked for sign convention. Caller must hold the lock.
func (g *GlobalConfig) ApplyOpenInterestDeltaLocked(deltaMicros int64) {
	if deltaMicros >= 0 {
		g.TotalOpenInterest += types.Micros(deltaMicros)
		return
	}
	dec := types.Micros(-deltaMicros)
	if dec > g.TotalOpenInterest {
		g.TotalOpenInterest = 0
		return
	}
	g.TotalOpenInterest -= dec
}
