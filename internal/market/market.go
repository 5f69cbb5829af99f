package market

import (
	"fmt"
	"sync"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Outcome is an L2-AMM bin: a slice of [min_value, max_value] with a
// probability weight. LMSR and PM-AMM markets don't populate Outcomes —
// they address outcomes by plain index into PriceVector.
type Outcome struct {
	BinIndex          int
	LowerValue        fixedpoint.Fixed
	UpperValue        fixedpoint.Fixed
	ProbabilityWeight types.Bps
}

// Market is one tradeable instrument. Every field reachable through the
// market's own lock is mutated under that lock only; cross-market fields
// live on GlobalConfig instead. Per §9, there are no back-pointers from a
// Market to the positions or orders trading it — those hold this market's
// ID and look it up through the Registry.
type Market struct {
	mu sync.RWMutex

	ID             types.MarketID
	VerseID        string
	Kind           types.MarketKind
	OutcomeCount   int
	PriceVector    []types.Bps      // sums to exactly 10000
	Shares         []fixedpoint.Fixed // q_i (LMSR) or r_i (PM-AMM) or per-bin cumulative (L2)
	LiquidityParam fixedpoint.Fixed  // b / L / k depending on Kind
	TotalVolume    types.Micros
	TotalLiquidity types.Micros
	CurrentPrice   types.Bps // implicit probability of outcome 0 (binary/PM-AMM) or the argmax bin (L2-AMM)
	State          types.MarketState
	SettleSlot     types.Slot
	CreatedSlot    types.Slot

	// Resolution, set once settlement picks a winner.
	ResolutionIndex int  // winning outcome index, or winning bin for L2
	ResolutionSet   bool

	// L2-AMM only.
	MinValue fixedpoint.Fixed
	MaxValue fixedpoint.Fixed
	Outcomes []Outcome

	// OpenPositionIndex lets the position subsystem iterate open positions
	// on this market without the Market holding references to them (§9).
	OpenPositionIndex map[types.PositionID]struct{}
}

// Spec for constructing a market; validated by NewMarket.
type Spec struct {
	ID             types.MarketID
	VerseID        string
	Kind           types.MarketKind
	OutcomeCount   int
	LiquidityParam fixedpoint.Fixed
	SettleSlot     types.Slot
	CreatedSlot    types.Slot
	MinValue       fixedpoint.Fixed // L2-AMM only
	MaxValue       fixedpoint.Fixed // L2-AMM only
	BinCount       int              // L2-AMM only
}

// NewMarket validates the hybrid-init policy (SPEC_FULL.md §12: kind is
// explicit, never inferred, and must match the outcome/bin shape) and
// constructs a Market with a uniform starting price vector.
func NewMarket(spec Spec) (*Market, error) {
	switch spec.Kind {
	case types.KindLMSR, types.KindPMAMM:
		if spec.OutcomeCount < 2 {
			return nil, fmt.Errorf("market %s: %w: outcome_count must be >= 2", spec.ID, errs.ErrInvalidInput)
		}
		return newDiscreteMarket(spec)
	case types.KindL2AMM:
		if spec.BinCount < 2 {
			return nil, fmt.Errorf("market %s: %w: l2-amm requires bin_count >= 2", spec.ID, errs.ErrInvalidInput)
		}
		if spec.MaxValue.Cmp(spec.MinValue) <= 0 {
			return nil, fmt.Errorf("market %s: %w: max_value must exceed min_value", spec.ID, errs.ErrInvalidRange)
		}
		return newContinuousMarket(spec)
	default:
		return nil, fmt.Errorf("market %s: %w: unknown kind", spec.ID, errs.ErrInvalidInput)
	}
}

func newDiscreteMarket(spec Spec) (*Market, error) {
	n := spec.OutcomeCount
	prices := uniformPriceVector(n)
	shares := make([]fixedpoint.Fixed, n)
	for i := range shares {
		shares[i] = fixedpoint.Zero
	}
	return &Market{
		ID:                spec.ID,
		VerseID:           spec.VerseID,
		Kind:              spec.Kind,
		OutcomeCount:      n,
		PriceVector:       prices,
		Shares:            shares,
		LiquidityParam:    spec.LiquidityParam,
		State:             types.MarketActive,
		SettleSlot:        spec.SettleSlot,
		CreatedSlot:       spec.CreatedSlot,
		OpenPositionIndex: make(map[types.PositionID]struct{}),
	}, nil
}

func newContinuousMarket(spec Spec) (*Market, error) {
	n := spec.BinCount
	binWidth, err := spec.MaxValue.Sub(spec.MinValue)
	if err != nil {
		return nil, err
	}
	binWidth, err = binWidth.Div(fixedpoint.FromInt64(int64(n)))
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, n)
	prices := uniformPriceVector(n)
	shares := make([]fixedpoint.Fixed, n)
	lower := spec.MinValue
	for i := 0; i < n; i++ {
		upper, err := lower.Add(binWidth)
		if err != nil {
			return nil, err
		}
		if i == n-1 {
			upper = spec.MaxValue
		}
		outcomes[i] = Outcome{
			BinIndex:          i,
			LowerValue:        lower,
			UpperValue:        upper,
			ProbabilityWeight: prices[i],
		}
		shares[i] = fixedpoint.Zero
		lower = upper
	}

	return &Market{
		ID:                spec.ID,
		VerseID:           spec.VerseID,
		Kind:              spec.Kind,
		OutcomeCount:      n,
		PriceVector:       prices,
		Shares:            shares,
		LiquidityParam:    spec.LiquidityParam,
		State:             types.MarketActive,
		SettleSlot:        spec.SettleSlot,
		CreatedSlot:       spec.CreatedSlot,
		MinValue:          spec.MinValue,
		MaxValue:          spec.MaxValue,
		Outcomes:          outcomes,
		OpenPositionIndex: make(map[types.PositionID]struct{}),
	}, nil
}

// uniformPriceVector distributes 10000 bps as evenly as possible across n
// outcomes, with any rounding residue on the last outcome so the sum is
// always exactly 10000 (§8 invariant 1).
func uniformPriceVector(n int) []types.Bps {
	base := types.BpsScale / types.Bps(n)
	residue := types.BpsScale - base*types.Bps(n)
	prices := make([]types.Bps, n)
	for i := range prices {
		prices[i] = base
	}
	prices[n-1] += residue
	return prices
}

// Lock/Unlock/RLock/RUnlock expose the market's single-writer discipline
// to the AMM router and order book: writers take Lock, readers (quotes,
// snapshots, book depth) take RLock per §5.
func (m *Market) Lock()    { m.mu.Lock() }
func (m *Market) Unlock()  { m.mu.Unlock() }
func (m *Market) RLock()   { m.mu.RLock() }
func (m *Market) RUnlock() { m.mu.RUnlock() }

// CheckTradable returns the state-machine error blocking a trade, or nil
// if the market will accept one.
func (m *Market) CheckTradable() error {
	switch m.State {
	case types.MarketActive:
		return nil
	case types.MarketPaused:
		return errs.ErrMarketHalted
	case types.MarketResolving, types.MarketResolved:
		return errs.ErrMarketResolving
	case types.MarketDisputed:
		return errs.ErrMarketDisputed
	default:
		return errs.ErrInvalidInput
	}
}

// NormalizePriceVector renormalizes PriceVector so it sums to exactly
// 10000 bps, pushing any residue onto the largest entry, per §4.2's
// rounding rule (reused by every AMM engine after quantizing prices).
func (m *Market) NormalizePriceVector() {
	var sum types.Bps
	maxIdx := 0
	for i, p := range m.PriceVector {
		sum += p
		if p > m.PriceVector[maxIdx] {
			maxIdx = i
		}
	}
	residue := types.BpsScale - sum
	m.PriceVector[maxIdx] += residue
}
