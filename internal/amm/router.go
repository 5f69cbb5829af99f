package amm

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// Quote prices a trade without mutating market state. Caller must hold at
// least a read lock on m. This is the only entry point trading paths
// should call to price a trade (§4.5) — it enforces no state beyond the
// dispatch itself; Trade enforces MarketHalted/MarketResolved.
func Quote(m *market.Market, outcomeIdx int, delta fixedpoint.Fixed, isBuy bool) (fixedpoint.Fixed, error) {
	switch m.Kind {
	case types.KindLMSR:
		return LMSRQuote(m, outcomeIdx, delta, isBuy)
	case types.KindPMAMM:
		return PMAMMQuote(m, outcomeIdx, delta, isBuy)
	case types.KindL2AMM:
		return fixedpoint.Zero, fmt.Errorf("amm quote: %w: l2-amm requires a range, use L2AMMRangeQuote", errs.ErrInvalidInput)
	default:
		return fixedpoint.Zero, fmt.Errorf("amm quote: %w", errs.ErrInvalidInput)
	}
}

// Trade executes a priced trade through the engine selected by the
// market's fixed Kind tag, then updates the denormalized CurrentPrice
// (§4.5). Caller must hold the write lock on m.
func Trade(m *market.Market, outcomeIdx int, delta fixedpoint.Fixed, isBuy bool, maxSlippageBps types.Bps) (types.TradeResult, error) {
	var (
		result types.TradeResult
		err    error
	)
	switch m.Kind {
	case types.KindLMSR:
		result, err = LMSRTrade(m, outcomeIdx, delta, isBuy, maxSlippageBps)
	case types.KindPMAMM:
		result, err = PMAMMTrade(m, outcomeIdx, delta, isBuy, maxSlippageBps)
	case types.KindL2AMM:
		return types.TradeResult{}, fmt.Errorf("amm trade: %w: l2-amm requires a range, use L2AMMRangeTrade", errs.ErrInvalidInput)
	default:
		return types.TradeResult{}, fmt.Errorf("amm trade: %w", errs.ErrInvalidInput)
	}
	if err != nil {
		return types.TradeResult{}, err
	}
	updateCurrentPrice(m)
	return result, nil
}

// TradeRange executes an L2-AMM range order; the discrete engines have no
// range concept so this is a separate entry point rather than a branch
// inside Trade.
func TradeRange(m *market.Market, spec RangeOrderSpec, deltaShares fixedpoint.Fixed, isBuy bool, minSize fixedpoint.Fixed) (types.TradeResult, error) {
	if m.Kind != types.KindL2AMM {
		return types.TradeResult{}, fmt.Errorf("amm trade range: %w: not an l2-amm market", errs.ErrInvalidInput)
	}
	result, err := L2AMMRangeTrade(m, spec, deltaShares, isBuy, minSize)
	if err != nil {
		return types.TradeResult{}, err
	}
	updateCurrentPrice(m)
	return result, nil
}

// updateCurrentPrice recomputes the market's denormalized current_price:
// the implicit probability of outcome 0 for LMSR/PM-AMM, or the price of
// the argmax bin for L2-AMM.
func updateCurrentPrice(m *market.Market) {
	switch m.Kind {
	case types.KindLMSR, types.KindPMAMM:
		m.CurrentPrice = m.PriceVector[0]
	case types.KindL2AMM:
		best := 0
		for i, p := range m.PriceVector {
			if p > m.PriceVector[best] {
				best = i
			}
		}
		m.CurrentPrice = m.PriceVector[best]
	}
}
