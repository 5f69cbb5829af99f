package amm

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// bisectIterations bounds the root-finder used to solve for the collateral
// d in the PM-AMM invariant equation. Fixed at a constant iteration count
// (rather than an epsilon-based stopping rule) so two independent
// implementations converge to the exact same Fixed value bit-for-bit.
const bisectIterations = 80

// pmammProduct returns Π reserves.
func pmammProduct(reserves []fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	prod := fixedpoint.FromInt64(1)
	for _, r := range reserves {
		var err error
		prod, err = prod.Mul(r)
		if err != nil {
			return fixedpoint.Zero, err
		}
	}
	return prod, nil
}

// pmammInvariantAt evaluates Π r'ⱼ for the candidate collateral d, where
// r'ᵢ = rᵢ - deltaShares + d and r'ⱼ = rⱼ + d for j != i.
func pmammInvariantAt(reserves []fixedpoint.Fixed, outcomeIdx int, deltaShares, d fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	prod := fixedpoint.FromInt64(1)
	for j, r := range reserves {
		var rPrime fixedpoint.Fixed
		var err error
		if j == outcomeIdx {
			rPrime, err = r.Sub(deltaShares)
			if err != nil {
				return fixedpoint.Zero, err
			}
			rPrime, err = rPrime.Add(d)
		} else {
			rPrime, err = r.Add(d)
		}
		if err != nil {
			return fixedpoint.Zero, err
		}
		if rPrime.IsNeg() || rPrime.IsZero() {
			return fixedpoint.Zero, fmt.Errorf("pm-amm invariant: %w", errs.ErrInsufficientLiquidity)
		}
		prod, err = prod.Mul(rPrime)
		if err != nil {
			return fixedpoint.Zero, err
		}
	}
	return prod, nil
}

// solveCollateral bisects for the d satisfying
// pmammInvariantAt(reserves, idx, deltaShares, d) == targetProduct,
// over d in [0, hi]. The invariant is monotone increasing in d (pumping
// collateral into every reserve while draining only one), so bisection
// converges unconditionally within bisectIterations steps.
func solveCollateral(reserves []fixedpoint.Fixed, outcomeIdx int, deltaShares, targetProduct, hi fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	lo := fixedpoint.Zero
	for i := 0; i < bisectIterations; i++ {
		mid, err := lo.Add(hi)
		if err != nil {
			return fixedpoint.Zero, err
		}
		mid, err = mid.Div(fixedpoint.FromInt64(2))
		if err != nil {
			return fixedpoint.Zero, err
		}

		val, err := pmammInvariantAt(reserves, outcomeIdx, deltaShares, mid)
		if err != nil {
			// mid pushed a reserve non-positive: d needs to be larger.
			lo = mid
			continue
		}

		if val.Cmp(targetProduct) < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// PMAMMQuote returns the collateral required (buy) or refunded (sell) to
// move deltaShares of outcomeIdx while preserving Π reserves. Caller must
// hold at least a read lock on m.
func PMAMMQuote(m *market.Market, outcomeIdx int, deltaShares fixedpoint.Fixed, isBuy bool) (fixedpoint.Fixed, error) {
	if outcomeIdx < 0 || outcomeIdx >= m.OutcomeCount {
		return fixedpoint.Zero, fmt.Errorf("pm-amm quote: %w", errs.ErrInvalidInput)
	}
	if !isBuy {
		deltaShares = deltaShares.Neg()
	}

	target, err := pmammProduct(m.Shares)
	if err != nil {
		return fixedpoint.Zero, err
	}

	if deltaShares.Cmp(m.Shares[outcomeIdx]) >= 0 {
		return fixedpoint.Zero, fmt.Errorf("pm-amm quote: %w", errs.ErrInsufficientLiquidity)
	}

	// Upper bound for bisection: the collateral that alone (without
	// draining) would double every other reserve comfortably dominates
	// any feasible root for reasonably sized trades.
	hi := m.Shares[outcomeIdx]
	if hi.IsZero() {
		hi = fixedpoint.FromInt64(1)
	}
	for i := 0; i < 32; i++ {
		val, err := pmammInvariantAt(m.Shares, outcomeIdx, deltaShares, hi)
		if err == nil && val.Cmp(target) >= 0 {
			break
		}
		hi = hi.Mul1(fixedpoint.FromInt64(2))
	}

	return solveCollateral(m.Shares, outcomeIdx, deltaShares, target, hi)
}

// pmammPrices computes pᵢ = (1/rᵢ) / Σ(1/rⱼ), quantized to bps. It does
// not renormalize the sum to 10000; PMAMMTrade normalizes after storing.
func pmammPrices(reserves []fixedpoint.Fixed) ([]types.Bps, error) {
	invs := make([]fixedpoint.Fixed, len(reserves))
	sum := fixedpoint.Zero
	for i, r := range reserves {
		inv, err := fixedpoint.FromInt64(1).Div(r)
		if err != nil {
			return nil, err
		}
		invs[i] = inv
		sum, err = sum.Add(inv)
		if err != nil {
			return nil, err
		}
	}
	prices := make([]types.Bps, len(reserves))
	for i, inv := range invs {
		p, err := inv.Div(sum)
		if err != nil {
			return nil, err
		}
		prices[i] = fixedpoint.ToBps(p)
	}
	return prices, nil
}

// PMAMMTrade executes a buy/sell of deltaShares at outcomeIdx. Caller must
// hold the write lock on m.
func PMAMMTrade(m *market.Market, outcomeIdx int, deltaShares fixedpoint.Fixed, isBuy bool, maxSlippageBps types.Bps) (types.TradeResult, error) {
	if err := m.CheckTradable(); err != nil {
		return types.TradeResult{}, err
	}

	d, err := PMAMMQuote(m, outcomeIdx, deltaShares, isBuy)
	if err != nil {
		return types.TradeResult{}, err
	}

	signed := deltaShares
	if !isBuy {
		signed = signed.Neg()
	}

	newReserves := make([]fixedpoint.Fixed, len(m.Shares))
	for j, r := range m.Shares {
		var rPrime fixedpoint.Fixed
		var err error
		if j == outcomeIdx {
			rPrime, err = r.Sub(signed)
			if err != nil {
				return types.TradeResult{}, err
			}
			rPrime, err = rPrime.Add(d)
		} else {
			rPrime, err = r.Add(d)
		}
		if err != nil {
			return types.TradeResult{}, err
		}
		newReserves[j] = rPrime
	}

	newPrices, err := pmammPrices(newReserves)
	if err != nil {
		return types.TradeResult{}, err
	}

	if maxSlippageBps > 0 {
		moved := newPrices[outcomeIdx] - m.PriceVector[outcomeIdx]
		if moved < 0 {
			moved = -moved
		}
		if moved > maxSlippageBps {
			return types.TradeResult{}, fmt.Errorf("pm-amm trade: %w", errs.ErrSlippageExceeded)
		}
	}

	m.Shares = newReserves
	m.PriceVector = newPrices
	m.NormalizePriceVector()
	m.TotalVolume += fixedpoint.ToMicros(deltaShares)

	return types.TradeResult{
		FilledSize: fixedpoint.ToMicros(deltaShares),
		Cost:       fixedpoint.ToMicros(d.Abs()),
		NewPrices:  m.PriceVector,
	}, nil
}

// AddLiquidity deposits d collateral units, scaling every reserve
// uniformly so prices are unchanged, and returns the LP allocation
// (proportional to the n-th root of the reserve product, approximated
// here by the product ratio since n is fixed per market and cancels in
// relative allocations).
func AddLiquidity(m *market.Market, d fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	if d.IsNeg() || d.IsZero() {
		return fixedpoint.Zero, fmt.Errorf("pm-amm add liquidity: %w", errs.ErrInvalidInput)
	}
	before, err := pmammProduct(m.Shares)
	if err != nil {
		return fixedpoint.Zero, err
	}
	for i, r := range m.Shares {
		nr, err := r.Add(d)
		if err != nil {
			return fixedpoint.Zero, err
		}
		m.Shares[i] = nr
	}
	after, err := pmammProduct(m.Shares)
	if err != nil {
		return fixedpoint.Zero, err
	}
	m.TotalLiquidity += fixedpoint.ToMicros(d)
	return after.Div(before)
}

// RemoveLiquidity is AddLiquidity's inverse: withdraws d collateral units
// uniformly, failing with InsufficientLiquidity if it would drain any
// single reserve to zero or below.
func RemoveLiquidity(m *market.Market, d fixedpoint.Fixed) error {
	for _, r := range m.Shares {
		if r.Cmp(d) <= 0 {
			return fmt.Errorf("pm-amm remove liquidity: %w", errs.ErrInsufficientLiquidity)
		}
	}
	for i, r := range m.Shares {
		nr, err := r.Sub(d)
		if err != nil {
			return err
		}
		m.Shares[i] = nr
	}
	if types.Micros(fixedpoint.ToMicros(d)) > m.TotalLiquidity {
		m.TotalLiquidity = 0
	} else {
		m.TotalLiquidity -= fixedpoint.ToMicros(d)
	}
	return nil
}
