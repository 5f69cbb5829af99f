package position

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/amm"
	"github.com/0x-verse/verse-core/internal/errs"
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// OpenResult is what OpenPosition hands back to the caller: the
// allocated position, its fill price, and the fee charged (split into
// shares the caller credits to the maker/staker ledgers that live
// outside this package; the vault share is already applied to g).
type OpenResult struct {
	Position    *Position
	FillPrice   types.Bps
	Fee         types.Micros
	MakerShare  types.Micros
	StakerShare types.Micros
}

// OpenPosition implements §4.7's open sequence. Caller must hold m's
// write lock before calling; OpenPosition acquires g's lock internally,
// strictly after m's (§5 lock ordering).
func OpenPosition(reg *Registry, m *market.Market, g *market.GlobalConfig, owner types.UserID, outcomeIdx int, size fixedpoint.Fixed, leverage uint32, isLong bool, maintenanceBps types.Bps, availableCredit types.Micros, currentSlot types.Slot) (*OpenResult, error) {
	if err := m.CheckTradable(); err != nil {
		return nil, err
	}

	g.Lock()
	if g.HaltFlag {
		g.Unlock()
		return nil, fmt.Errorf("open position: %w", errs.ErrMarketHalted)
	}
	coverage, err := g.CoverageRatioLocked()
	if err != nil {
		g.Unlock()
		return nil, err
	}
	maxLev := g.MaxLeverageForCoverage(coverage)
	if leverage > maxLev {
		g.Unlock()
		return nil, fmt.Errorf("open position: %w", errs.ErrLeverageTooHigh)
	}
	feeBase, feeSlope := g.FeeBaseBps, g.FeeSlopeBps
	g.Unlock()

	marginLocked, err := size.Div(fixedpoint.FromInt64(int64(leverage)))
	if err != nil {
		return nil, err
	}

	fee, err := ComputeFee(fixedpoint.ToMicros(size), m.TotalLiquidity, feeBase, feeSlope)
	if err != nil {
		return nil, err
	}

	requiredCredit := fixedpoint.ToMicros(marginLocked) + fee
	if requiredCredit > availableCredit {
		return nil, fmt.Errorf("open position: %w", errs.ErrInsufficientFunds)
	}

	trade, err := amm.Trade(m, outcomeIdx, size, isLong, 0)
	if err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}
	fillPrice := trade.NewPrices[outcomeIdx]

	liqPrice, err := LiquidationPrice(fillPrice, leverage, isLong, maintenanceBps)
	if err != nil {
		return nil, err
	}

	p := &Position{
		ID:               reg.NextID(),
		Owner:            owner,
		MarketID:         m.ID,
		OutcomeIdx:       outcomeIdx,
		Size:             size,
		MarginLocked:     marginLocked,
		Leverage:         leverage,
		EntryPrice:       fillPrice,
		LiquidationPx:    liqPrice,
		IsLong:           isLong,
		Status:           types.PositionOpen,
		OpenedSlot:       currentSlot,
		LastFundingTouch: currentSlot,
	}
	reg.Insert(p)
	m.OpenPositionIndex[p.ID] = struct{}{}

	maker, staker, vault := SplitFee(fee)
	g.Lock()
	g.ApplyOpenInterestDeltaLocked(int64(fixedpoint.ToMicros(marginLocked)))
	g.ApplyVaultDeltaLocked(int64(vault))
	g.Unlock()

	return &OpenResult{Position: p, FillPrice: fillPrice, Fee: fee, MakerShare: maker, StakerShare: staker}, nil
}

// CloseResult is what ClosePosition hands back: realized PnL, the refund
// credited to the user after the close-side fee, and that fee's
// maker/staker breakdown for the caller to credit the ledgers that live
// outside this package (the vault share is already applied to g) —
// mirroring OpenResult so a round trip charges the fee symmetrically on
// both legs per §4.10/§8.
type CloseResult struct {
	PnL         fixedpoint.Fixed
	Refund      types.Micros
	Fee         types.Micros
	MakerShare  types.Micros
	StakerShare types.Micros
}

// ClosePosition implements §4.7's close sequence: settle any outstanding
// paused-market funding (§4.7's "settled on the next touch"), reverse the
// trade at current price, realize PnL, charge the close-side fee (§4.10,
// same formula and split as open so a same-price round trip nets out to
// margin minus exactly 2x fee per §8), free open interest, and refund the
// user (clamped at zero — any shortfall, including an uncollectible fee
// or funding charge, is absorbed by the vault since margin was already
// collected at open). Caller must hold m's write lock.
func ClosePosition(reg *Registry, m *market.Market, g *market.GlobalConfig, id types.PositionID, currentSlot types.Slot) (*CloseResult, error) {
	p, err := reg.MustGet(id)
	if err != nil {
		return nil, err
	}
	if p.Status != types.PositionOpen {
		return nil, fmt.Errorf("close position: %w", errs.ErrPositionAlreadyClosed)
	}
	if m.State == types.MarketResolving || m.State == types.MarketResolved {
		return nil, fmt.Errorf("close position: %w", errs.ErrMarketResolving)
	}

	if err := SettleFunding(p, m, currentSlot); err != nil {
		return nil, err
	}

	// Closing a long sells the outcome back; closing a short buys it back.
	trade, tradeErr := amm.Trade(m, p.OutcomeIdx, p.Size, !p.IsLong, 0)
	if tradeErr != nil {
		return nil, fmt.Errorf("close position: %w", tradeErr)
	}
	closePrice := trade.NewPrices[p.OutcomeIdx]

	tradePnL, err := realizedPnL(p.EntryPrice, closePrice, p.Size, p.IsLong)
	if err != nil {
		return nil, err
	}
	netPnL, err := tradePnL.Sub(p.FundingAccrued)
	if err != nil {
		return nil, err
	}

	g.Lock()
	feeBase, feeSlope := g.FeeBaseBps, g.FeeSlopeBps
	g.Unlock()

	fee, err := ComputeFee(fixedpoint.ToMicros(p.Size), m.TotalLiquidity, feeBase, feeSlope)
	if err != nil {
		return nil, err
	}

	gross, err := p.MarginLocked.Add(netPnL)
	if err != nil {
		return nil, err
	}
	afterFee, err := gross.Sub(fixedpoint.FromMicros(fee))
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()
	g.ApplyOpenInterestDeltaLocked(-int64(fixedpoint.ToMicros(p.MarginLocked)))

	var refund, maker, staker types.Micros
	if afterFee.IsNeg() {
		// The fee and any accrued funding are folded into gross above, so
		// the shortfall absorbed here already covers both — crediting the
		// fee split again below would double count it.
		g.ApplyVaultDeltaLocked(int64(fixedpoint.ToMicros(afterFee.Abs())))
		refund = 0
	} else {
		refund = fixedpoint.ToMicros(afterFee)
		var vault types.Micros
		maker, staker, vault = SplitFee(fee)
		g.ApplyVaultDeltaLocked(int64(vault))
		g.ApplyVaultDeltaLocked(int64(fixedpoint.ToMicros(p.FundingAccrued)))
	}

	p.Status = types.PositionClosed
	p.UnrealizedPnL = fixedpoint.Zero
	p.FundingAccrued = fixedpoint.Zero
	delete(m.OpenPositionIndex, p.ID)

	return &CloseResult{PnL: netPnL, Refund: refund, Fee: fee, MakerShare: maker, StakerShare: staker}, nil
}

// realizedPnL computes (close - entry) * size * side, per §4.7.
func realizedPnL(entry, close types.Bps, size fixedpoint.Fixed, isLong bool) (fixedpoint.Fixed, error) {
	entryF, err := fixedpoint.FromBps(entry)
	if err != nil {
		return fixedpoint.Zero, err
	}
	closeF, err := fixedpoint.FromBps(close)
	if err != nil {
		return fixedpoint.Zero, err
	}
	diff, err := closeF.Sub(entryF)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if !isLong {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}
