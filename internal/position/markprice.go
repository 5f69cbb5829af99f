package position

import (
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// fundingRatePerHour is the +1.25%/hour charge accrued to open positions
// while their market is Paused pending resolution (§4.7). Expressed as a
// Fixed fraction rather than bps since it accrues linearly per elapsed
// hour, not per trade.
var fundingRatePerHour = fixedpoint.MustFromRatio(125, 10000)

// slotsPerHour fixes the elapsed-slots-to-elapsed-hours conversion the
// funding charge needs. The spec leaves the real wall-clock slot duration
// to the deployment; what matters for determinism (§4.1, §9) is that two
// independent implementations agree on the same constant, so it's fixed
// here rather than threaded through as configuration.
const slotsPerHour = 3600

// PositionHealth pairs a position's id with its freshly recomputed health
// in bps, one per open position on a market (§4.8's monitor sweep).
type PositionHealth struct {
	PositionID types.PositionID
	Health     types.Bps
}

// UpdateMarkToMarket recomputes unrealized_pnl for every open position on
// m against its current price, settling any paused-market funding charge
// first (§4.7's "settled on the next touch"), and returns every open
// position's refreshed health so the liquidation monitor (§4.8) can both
// enqueue newly-unhealthy positions and drop entries that have recovered.
// Caller must hold at least a read lock on m and must hold reg's
// positions' locks implicitly via reg's own synchronization.
func UpdateMarkToMarket(reg *Registry, m *market.Market, currentSlot types.Slot) ([]PositionHealth, error) {
	var out []PositionHealth
	for _, p := range reg.OpenPositionsOn(m.ID) {
		if err := SettleFunding(p, m, currentSlot); err != nil {
			return nil, err
		}

		currentPrice := m.PriceVector[p.OutcomeIdx]
		pnl, err := realizedPnL(p.EntryPrice, currentPrice, p.Size, p.IsLong)
		if err != nil {
			return nil, err
		}
		pnl, err = pnl.Sub(p.FundingAccrued)
		if err != nil {
			return nil, err
		}
		p.UnrealizedPnL = pnl

		health, err := HealthBps(p.MarginLocked, p.UnrealizedPnL)
		if err != nil {
			return nil, err
		}
		out = append(out, PositionHealth{PositionID: p.ID, Health: health})
	}
	return out, nil
}

// SettleFunding applies the Paused-market funding charge (§4.7) for the
// slots elapsed since p's last touch, then advances LastFundingTouch to
// currentSlot — a no-op once per touch when the market isn't currently
// Paused, so funding never accrues while a market is actively trading.
func SettleFunding(p *Position, m *market.Market, currentSlot types.Slot) error {
	if currentSlot <= p.LastFundingTouch {
		return nil
	}
	elapsedSlots := currentSlot - p.LastFundingTouch
	p.LastFundingTouch = currentSlot
	if m.State != types.MarketPaused {
		return nil
	}

	elapsedHours, err := fixedpoint.FromInt64(int64(elapsedSlots)).Div(fixedpoint.FromInt64(slotsPerHour))
	if err != nil {
		return err
	}
	return ApplyFunding(p, elapsedHours)
}

// ApplyFunding accrues the paused-market funding charge to a position,
// settled on the next touch (mark update or close) rather than a
// separate ticking schedule. elapsedHours is the Fixed number of hours
// the market has been Paused since the position's last touch.
func ApplyFunding(p *Position, elapsedHours fixedpoint.Fixed) error {
	charge, err := p.MarginLocked.Mul(fundingRatePerHour)
	if err != nil {
		return err
	}
	charge, err = charge.Mul(elapsedHours)
	if err != nil {
		return err
	}

	accrued, err := p.FundingAccrued.Add(charge)
	if err != nil {
		return err
	}
	p.FundingAccrued = accrued

	pnl, err := p.UnrealizedPnL.Sub(charge)
	if err != nil {
		return err
	}
	p.UnrealizedPnL = pnl
	return nil
}
