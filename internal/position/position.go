// Package position implements leveraged positions: margin/collateral
// accounting, mark-price-driven unrealized PnL, liquidation price, and
// funding while a market is paused pending resolution (§4.7). Positions
// are owned by their user but referenced by the liquidation queue only
// through their ID (§3's weak-reference ownership note) — this package's
// Registry is the arena the queue looks up into.
package position

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Position is one user's leveraged exposure to a single outcome of a
// market.
type Position struct {
	ID               types.PositionID
	Owner            types.UserID
	MarketID         types.MarketID
	OutcomeIdx       int
	Size             fixedpoint.Fixed
	MarginLocked     fixedpoint.Fixed
	Leverage         uint32
	EntryPrice       types.Bps
	LiquidationPx    types.Bps
	IsLong           bool
	UnrealizedPnL    fixedpoint.Fixed
	FundingAccrued   fixedpoint.Fixed
	LastFundingTouch types.Slot
	Status           types.PositionStatus
	OpenedSlot       types.Slot

	// PartialLiqAccumulated tracks cumulative notional liquidated across
	// partial liquidations (§4.8); once it reaches Size the position is
	// force-closed regardless of recovered health.
	PartialLiqAccumulated fixedpoint.Fixed
}

// Registry is the arena owning every live position, keyed by ID. Per §9,
// nothing outside this package dereferences a *Position directly across a
// long-lived reference — the liquidation queue and market's
// OpenPositionIndex hold IDs and call Get.
type Registry struct {
	mu       sync.RWMutex
	nextSeq  uint64
	byID     map[types.PositionID]*Position
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[types.PositionID]*Position)}
}

// NextID allocates a deterministic, monotonically increasing position ID.
func (r *Registry) NextID() types.PositionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	return types.PositionID(fmt.Sprintf("pos-%d", r.nextSeq))
}

// Insert adds a new position to the registry.
func (r *Registry) Insert(p *Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
}

// Get looks up a position by ID.
func (r *Registry) Get(id types.PositionID) (*Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// MustGet looks up a position, failing with PositionNotFound.
func (r *Registry) MustGet(id types.PositionID) (*Position, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("position registry: %w", errs.ErrPositionNotFound)
	}
	return p, nil
}

// OpenPositionsOn returns every open position on a market, for the mark
// price sweep (§4.7).
func (r *Registry) OpenPositionsOn(marketID types.MarketID) []*Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Position
	for _, p := range r.byID {
		if p.MarketID == marketID && p.Status == types.PositionOpen {
			out = append(out, p)
		}
	}
	return out
}
