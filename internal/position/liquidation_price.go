package position

import (
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// LiquidationPrice is the pure function named directly in §4.7/§8: for
// entry price, leverage, side, and maintenance_bps, it returns
// liq = entry * (1 - sign/leverage * maintenance_factor), where sign is
// +1 for long and -1 for short and maintenance_factor = 1 -
// maintenance_bps/10000. It takes no Position or Market — every input is
// a value, so two calls with the same arguments always return the same
// result.
func LiquidationPrice(entry types.Bps, leverage uint32, isLong bool, maintenanceBps types.Bps) (types.Bps, error) {
	entryF, err := fixedpoint.FromBps(entry)
	if err != nil {
		return 0, err
	}
	factor, err := fixedpoint.FromRatio(int64(types.BpsScale-maintenanceBps), int64(types.BpsScale))
	if err != nil {
		return 0, err
	}
	leverageF := fixedpoint.FromInt64(int64(leverage))

	adj, err := factor.Div(leverageF)
	if err != nil {
		return 0, err
	}
	if !isLong {
		adj = adj.Neg()
	}

	one := fixedpoint.FromInt64(1)
	multiplier, err := one.Sub(adj)
	if err != nil {
		return 0, err
	}
	liq, err := entryF.Mul(multiplier)
	if err != nil {
		return 0, err
	}
	return fixedpoint.ToBps(liq), nil
}

// HealthBps computes (margin_locked + unrealized_pnl) / margin_locked in
// bps (§4.7's health formula). A healthy, freshly opened position (zero
// unrealized PnL) reports exactly 10000 bps.
func HealthBps(marginLocked, unrealizedPnL fixedpoint.Fixed) (types.Bps, error) {
	numerator, err := marginLocked.Add(unrealizedPnL)
	if err != nil {
		return 0, err
	}
	if marginLocked.IsZero() {
		return 0, nil
	}
	ratio, err := numerator.Div(marginLocked)
	if err != nil {
		return 0, err
	}
	scaled, err := ratio.Mul(fixedpoint.FromInt64(int64(types.BpsScale)))
	if err != nil {
		return 0, err
	}
	return types.Bps(scaled.Int64()), nil
}
