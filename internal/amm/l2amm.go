package amm

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// RangeOrderSpec names the bins a range order touches: every bin whose
// midpoint lies in [lower, upper], per §4.4.
type RangeOrderSpec struct {
	Lower fixedpoint.Fixed
	Upper fixedpoint.Fixed
}

// binsInRange returns the indices of bins whose midpoint falls in
// [lower, upper].
func binsInRange(m *market.Market, lower, upper fixedpoint.Fixed) ([]int, error) {
	if upper.Cmp(lower) <= 0 {
		return nil, fmt.Errorf("l2-amm range: %w", errs.ErrInvalidRange)
	}
	var idxs []int
	for i, o := range m.Outcomes {
		span, err := o.UpperValue.Sub(o.LowerValue)
		if err != nil {
			return nil, err
		}
		half, err := span.Div(fixedpoint.FromInt64(2))
		if err != nil {
			return nil, err
		}
		mid, err := o.LowerValue.Add(half)
		if err != nil {
			return nil, err
		}
		if mid.Cmp(lower) >= 0 && mid.Cmp(upper) <= 0 {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) == 0 {
		return nil, fmt.Errorf("l2-amm range: %w", errs.ErrInvalidRange)
	}
	return idxs, nil
}

// L2AMMRangeQuote prices a range order: the uniform-across-bins
// log-sum-exp cost function of §4.4, evaluated as an equal-weighted LMSR
// trade split across every bin the range touches.
func L2AMMRangeQuote(m *market.Market, spec RangeOrderSpec, deltaShares fixedpoint.Fixed, isBuy bool) (fixedpoint.Fixed, error) {
	idxs, err := binsInRange(m, spec.Lower, spec.Upper)
	if err != nil {
		return fixedpoint.Zero, err
	}
	perBin, err := deltaShares.Div(fixedpoint.FromInt64(int64(len(idxs))))
	if err != nil {
		return fixedpoint.Zero, err
	}

	before, err := lmsrCost(m.Shares, m.LiquidityParam)
	if err != nil {
		return fixedpoint.Zero, err
	}

	qPrime := make([]fixedpoint.Fixed, len(m.Shares))
	copy(qPrime, m.Shares)
	signed := perBin
	if !isBuy {
		signed = signed.Neg()
	}
	for _, idx := range idxs {
		nv, err := qPrime[idx].Add(signed)
		if err != nil {
			return fixedpoint.Zero, err
		}
		qPrime[idx] = nv
	}

	after, err := lmsrCost(qPrime, m.LiquidityParam)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return after.Sub(before)
}

// L2AMMRangeTrade executes a range order, updating every touched bin's
// cumulative shares and the whole market's price vector. Caller must hold
// the write lock on m. minSize enforces BelowMinimumSize (§4.4).
func L2AMMRangeTrade(m *market.Market, spec RangeOrderSpec, deltaShares fixedpoint.Fixed, isBuy bool, minSize fixedpoint.Fixed) (types.TradeResult, error) {
	if err := m.CheckTradable(); err != nil {
		return types.TradeResult{}, err
	}
	if deltaShares.Cmp(minSize) < 0 {
		return types.TradeResult{}, fmt.Errorf("l2-amm trade: %w", errs.ErrBelowMinimumSize)
	}

	idxs, err := binsInRange(m, spec.Lower, spec.Upper)
	if err != nil {
		return types.TradeResult{}, err
	}
	cost, err := L2AMMRangeQuote(m, spec, deltaShares, isBuy)
	if err != nil {
		return types.TradeResult{}, err
	}

	perBin, err := deltaShares.Div(fixedpoint.FromInt64(int64(len(idxs))))
	if err != nil {
		return types.TradeResult{}, err
	}
	signed := perBin
	if !isBuy {
		signed = signed.Neg()
	}
	for _, idx := range idxs {
		nv, err := m.Shares[idx].Add(signed)
		if err != nil {
			return types.TradeResult{}, err
		}
		m.Shares[idx] = nv
	}

	newPrices, err := lmsrPrices(m.Shares, m.LiquidityParam)
	if err != nil {
		return types.TradeResult{}, err
	}
	m.PriceVector = newPrices
	m.NormalizePriceVector()
	m.TotalVolume += fixedpoint.ToMicros(deltaShares)

	return types.TradeResult{
		FilledSize: fixedpoint.ToMicros(deltaShares),
		Cost:       fixedpoint.ToMicros(cost.Abs()),
		NewPrices:  m.PriceVector,
	}, nil
}

// ResolveBin selects the bin containing v: bins are half-open on the
// right except the last, which is closed (§4.11 tie policy extended to
// range markets).
func ResolveBin(m *market.Market, v fixedpoint.Fixed) (int, error) {
	for i, o := range m.Outcomes {
		isLast := i == len(m.Outcomes)-1
		aboveLower := v.Cmp(o.LowerValue) >= 0
		belowUpper := v.Cmp(o.UpperValue) < 0 || (isLast && v.Cmp(o.UpperValue) <= 0)
		if aboveLower && belowUpper {
			return i, nil
		}
	}
	return 0, fmt.Errorf("l2-amm resolve: %w", errs.ErrInvalidRange)
}
