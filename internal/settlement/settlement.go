// Package settlement implements §4.11's resolution state machine: once a
// market reaches its settle_slot, the oracle's current price vector
// selects a winning outcome, a dispute window opens, and on Final every
// open position settles synchronously with an instant refund for the
// non-winning leg — no per-user claim action. Resolution is a slot-driven
// state check, evaluated each time a caller touches the market rather
// than on a background timer.
package settlement

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/internal/oracle"
	"github.com/0x-verse/verse-core/internal/position"
	"github.com/0x-verse/verse-core/pkg/types"
)

// ConfidenceThresholdBps is §4.11's "argmax above 95% confidence" bar for
// a clean (non-conflicting) resolution.
const ConfidenceThresholdBps types.Bps = 9500

// Record is one market's settlement state (§3's Settlement entity).
type Record struct {
	MarketID               types.MarketID
	WinningOutcome         int
	FinalizationSlot       types.Slot
	DisputeWindowEndSlot   types.Slot
	State                  types.SettlementState
}

// Registry owns every market's settlement Record, keyed by MarketID.
type Registry struct {
	mu      sync.Mutex
	records map[types.MarketID]*Record
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[types.MarketID]*Record)}
}

// DisputeWindowSlots is how long after resolution a dispute may re-open
// it, per §3/§4.11. A fixed platform-wide window; markets don't override
// it individually in this spec.
const DisputeWindowSlots types.Slot = 600

// Resolve implements §6's resolve_market operation: at slot >=
// settle_slot, reads the oracle's current vector and picks a winner
// (argmax above confidence, tie -> lower index per §4.11), opens the
// dispute window, and transitions the market to Resolving. Caller must
// hold m's write lock.
func Resolve(reg *Registry, m *market.Market, rec *oracle.Record, currentSlot types.Slot) (*Record, error) {
	if currentSlot < m.SettleSlot {
		return nil, fmt.Errorf("resolve market %s: %w", m.ID, errs.ErrTooEarlyToSettle)
	}
	if m.State == types.MarketDisputed {
		return nil, fmt.Errorf("resolve market %s: %w", m.ID, errs.ErrMarketDisputed)
	}

	reg.mu.Lock()
	if existing, ok := reg.records[m.ID]; ok && existing.State == types.SettlementFinal {
		reg.mu.Unlock()
		return existing, nil // re-applying a resolved settlement is a no-op (§8)
	}
	reg.mu.Unlock()

	winner, err := rec.ArgmaxOutcome(ConfidenceThresholdBps)
	if err != nil {
		return nil, fmt.Errorf("resolve market %s: %w", m.ID, err)
	}

	settlement := &Record{
		MarketID:             m.ID,
		WinningOutcome:       winner,
		FinalizationSlot:     currentSlot,
		DisputeWindowEndSlot: currentSlot + DisputeWindowSlots,
		State:                types.SettlementPending,
	}

	reg.mu.Lock()
	reg.records[m.ID] = settlement
	reg.mu.Unlock()

	m.State = types.MarketResolving
	m.ResolutionIndex = winner
	m.ResolutionSet = true
	return settlement, nil
}

// Dispute re-opens a pending settlement for administrative arbitration
// per §4.11: "disputes re-open resolution and require administrative
// arbitration". Caller must hold m's write lock.
func Dispute(reg *Registry, m *market.Market) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[m.ID]
	if !ok || rec.State == types.SettlementFinal {
		return fmt.Errorf("dispute market %s: %w", m.ID, errs.ErrMarketNotResolved)
	}
	rec.State = types.SettlementDisputed
	m.State = types.MarketDisputed
	return nil
}

// MirrorDispute propagates a dispute from a source market to a dependent
// market whose outcome is correlated with it — e.g. a market resolving
// on "did the disputed market settle YES". Without this, a dependent
// market would keep trading on an oracle answer that's still under
// arbitration. Caller must hold both markets' write locks, source before
// dependent (§5 lock ordering by market).
func MirrorDispute(reg *Registry, sourceMarket, dependentMarket *market.Market) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[sourceMarket.ID]
	if !ok || rec.State != types.SettlementDisputed {
		return fmt.Errorf("mirror dispute from %s: %w", sourceMarket.ID, errs.ErrMarketNotResolved)
	}
	dependentMarket.State = types.MarketDisputed
	return nil
}

// Arbitrate resolves an administrative dispute by fixing the winning
// outcome and re-opening the dispute window from the arbitration slot.
// Caller must hold m's write lock.
func Arbitrate(reg *Registry, m *market.Market, winningOutcome int, currentSlot types.Slot) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[m.ID]
	if !ok {
		return fmt.Errorf("arbitrate market %s: %w", m.ID, errs.ErrMarketNotResolved)
	}
	rec.WinningOutcome = winningOutcome
	rec.FinalizationSlot = currentSlot
	rec.DisputeWindowEndSlot = currentSlot + DisputeWindowSlots
	rec.State = types.SettlementPending
	m.State = types.MarketResolving
	m.ResolutionIndex = winningOutcome
	return nil
}

// Finalize transitions a Pending settlement to Final once the dispute
// window has elapsed with no active dispute (§3: "Final requires slot >
// dispute_window_end_slot AND no active dispute"). Caller must hold m's
// write lock.
func Finalize(reg *Registry, m *market.Market, currentSlot types.Slot) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[m.ID]
	if !ok {
		return nil, fmt.Errorf("finalize market %s: %w", m.ID, errs.ErrMarketNotResolved)
	}
	if rec.State == types.SettlementFinal {
		return rec, nil // idempotent
	}
	if rec.State == types.SettlementDisputed {
		return nil, fmt.Errorf("finalize market %s: %w", m.ID, errs.ErrMarketDisputed)
	}
	if currentSlot <= rec.DisputeWindowEndSlot {
		return nil, fmt.Errorf("finalize market %s: %w", m.ID, errs.ErrTooEarlyToSettle)
	}
	rec.State = types.SettlementFinal
	m.State = types.MarketResolved
	return rec, nil
}

// Get returns a market's settlement record.
func (reg *Registry) Get(marketID types.MarketID) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[marketID]
	return rec, ok
}

// SettlePositionResult is what SettlePosition hands back: the payout
// credited to the user (size on a winning position, residual margin
// either way) and whether the position won.
type SettlePositionResult struct {
	Payout types.Micros
	Won    bool
}

// SettlePosition implements §4.11's synchronous, instant settlement for
// one position once a market is Final: a winning position is credited
// size*1 (its payoff, in the position's own collateral unit) plus
// residual margin; a losing position forfeits its margin to the vault.
// No per-user claim action is required — this executes as part of the
// same operation that calls Finalize (or immediately after, if the
// caller iterates positions), never queued.
func SettlePosition(posReg *position.Registry, m *market.Market, g *market.GlobalConfig, settlementRec *Record, positionID types.PositionID) (SettlePositionResult, error) {
	p, err := posReg.MustGet(positionID)
	if err != nil {
		return SettlePositionResult{}, err
	}
	if p.Status != types.PositionOpen {
		return SettlePositionResult{}, fmt.Errorf("settle position %s: %w", positionID, errs.ErrPositionAlreadyClosed)
	}
	if settlementRec.State != types.SettlementFinal {
		return SettlePositionResult{}, fmt.Errorf("settle position %s: %w", positionID, errs.ErrMarketNotResolved)
	}

	won := p.OutcomeIdx == settlementRec.WinningOutcome && p.IsLong
	won = won || (p.OutcomeIdx != settlementRec.WinningOutcome && !p.IsLong)

	g.Lock()
	defer g.Unlock()
	g.ApplyOpenInterestDeltaLocked(-int64(fixedpoint.ToMicros(p.MarginLocked)))

	var payout types.Micros
	if won {
		payout = fixedpoint.ToMicros(p.Size) + fixedpoint.ToMicros(p.MarginLocked)
	} else {
		g.ApplyVaultDeltaLocked(int64(fixedpoint.ToMicros(p.MarginLocked)))
		payout = 0
	}

	p.Status = types.PositionClosed
	p.UnrealizedPnL = fixedpoint.Zero
	delete(m.OpenPositionIndex, p.ID)

	return SettlePositionResult{Payout: payout, Won: won}, nil
}
