// Package amm implements the three cost-function engines named in §4.2-§4.4
// (LMSR, PM-AMM, L2-AMM) plus the hybrid router of §4.5. Each engine is a
// plain set of functions over a *market.Market rather than an interface
// implementation — per §9's "avoid dynamic dispatch on the hot path" note,
// the router in router.go dispatches with a type switch on Market.Kind,
// never through a vtable.
package amm

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// lmsrCost evaluates C(q) = b * ln(Σ exp(qᵢ/b)) using LogSumExp for
// numerical stability (subtracting the max term before summing, per
// §4.2).
func lmsrCost(shares []fixedpoint.Fixed, b fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	scaled := make([]fixedpoint.Fixed, len(shares))
	for i, q := range shares {
		s, err := q.Div(b)
		if err != nil {
			return fixedpoint.Zero, err
		}
		scaled[i] = s
	}
	lse, err := fixedpoint.LogSumExp(scaled)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return b.Mul(lse)
}

// LMSRQuote returns C(q') - C(q) for buying or selling delta shares of
// outcomeIdx, without mutating the market. Caller must hold at least a
// read lock on m.
func LMSRQuote(m *market.Market, outcomeIdx int, delta fixedpoint.Fixed, isBuy bool) (fixedpoint.Fixed, error) {
	if outcomeIdx < 0 || outcomeIdx >= m.OutcomeCount {
		return fixedpoint.Zero, fmt.Errorf("lmsr quote: %w", errs.ErrInvalidInput)
	}

	before, err := lmsrCost(m.Shares, m.LiquidityParam)
	if err != nil {
		return fixedpoint.Zero, err
	}

	qPrime := make([]fixedpoint.Fixed, len(m.Shares))
	copy(qPrime, m.Shares)
	signedDelta := delta
	if !isBuy {
		signedDelta = delta.Neg()
	}
	newQ, err := qPrime[outcomeIdx].Add(signedDelta)
	if err != nil {
		return fixedpoint.Zero, err
	}
	qPrime[outcomeIdx] = newQ

	after, err := lmsrCost(qPrime, m.LiquidityParam)
	if err != nil {
		return fixedpoint.Zero, err
	}

	return after.Sub(before)
}

// lmsrPrices computes the full price vector pᵢ = exp(qᵢ/b - lse) in bps,
// quantized by truncation. It does not renormalize the sum to 10000;
// LMSRTrade applies market.NormalizePriceVector after storing the vector.
func lmsrPrices(shares []fixedpoint.Fixed, b fixedpoint.Fixed) ([]types.Bps, error) {
	scaled := make([]fixedpoint.Fixed, len(shares))
	for i, q := range shares {
		s, err := q.Div(b)
		if err != nil {
			return nil, err
		}
		scaled[i] = s
	}
	lse, err := fixedpoint.LogSumExp(scaled)
	if err != nil {
		return nil, err
	}

	prices := make([]types.Bps, len(shares))
	for i, s := range scaled {
		logP, err := s.Sub(lse)
		if err != nil {
			return nil, err
		}
		p, err := fixedpoint.Exp(logP)
		if err != nil {
			return nil, err
		}
		prices[i] = fixedpoint.ToBps(p)
	}
	return prices, nil
}

// LMSRTrade executes a buy/sell of delta shares at outcomeIdx, updating
// the market's share vector, price vector, and total volume. Fails with
// SlippageExceeded if maxSlippageBps is non-zero and the trade moves
// outcomeIdx's price by more than maxSlippageBps; the realized cost is not
// compared against any earlier quote. Fails with InsufficientLiquidity if the clamp would
// push any price outside [1, 9999] bps. Caller must hold the write lock
// on m.
func LMSRTrade(m *market.Market, outcomeIdx int, delta fixedpoint.Fixed, isBuy bool, maxSlippageBps types.Bps) (types.TradeResult, error) {
	if err := m.CheckTradable(); err != nil {
		return types.TradeResult{}, err
	}

	quotedCost, err := LMSRQuote(m, outcomeIdx, delta, isBuy)
	if err != nil {
		return types.TradeResult{}, err
	}

	signedDelta := delta
	if !isBuy {
		signedDelta = delta.Neg()
	}
	newShares := make([]fixedpoint.Fixed, len(m.Shares))
	copy(newShares, m.Shares)
	nv, err := newShares[outcomeIdx].Add(signedDelta)
	if err != nil {
		return types.TradeResult{}, err
	}
	newShares[outcomeIdx] = nv

	newPrices, err := lmsrPrices(newShares, m.LiquidityParam)
	if err != nil {
		return types.TradeResult{}, err
	}
	for _, p := range newPrices {
		if p < 1 || p > types.BpsScale-1 {
			return types.TradeResult{}, fmt.Errorf("lmsr trade: %w", errs.ErrInsufficientLiquidity)
		}
	}

	// A single LMSRTrade call computes and applies its cost atomically
	// under the market's write lock, so realized price can never diverge
	// from the quote within this call. maxSlippageBps instead bounds this
	// trade's own price impact on outcomeIdx; zero disables the check.
	if maxSlippageBps > 0 {
		prevPrice := m.PriceVector[outcomeIdx]
		newPrice := newPrices[outcomeIdx]
		moved := newPrice - prevPrice
		if moved < 0 {
			moved = -moved
		}
		if moved > maxSlippageBps {
			return types.TradeResult{}, fmt.Errorf("lmsr trade: %w", errs.ErrSlippageExceeded)
		}
	}

	m.Shares = newShares
	m.PriceVector = newPrices
	m.NormalizePriceVector()
	m.TotalVolume += fixedpoint.ToMicros(delta)

	return types.TradeResult{
		FilledSize: fixedpoint.ToMicros(delta),
		Cost:       fixedpoint.ToMicros(quotedCost.Abs()),
		NewPrices:  m.PriceVector,
	}, nil
}
