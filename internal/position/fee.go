package position

import (
	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// makerShareBps, stakerShareBps, vaultShareBps are the fee split
// percentages from §4.10: 20% makers, 15% stakers, 65% vault.
const (
	makerShareBps = 2000
	stakerShareBps = 1500
	vaultShareBps  = 6500
)

// ComputeFee returns max(fee_base_bps, fee_slope_bps * size/liquidity)
// applied to size, per §4.10.
func ComputeFee(size, liquidity types.Micros, feeBaseBps, feeSlopeBps types.Bps) (types.Micros, error) {
	sizeF := fixedpoint.FromMicros(size)
	// Rates stay in whole bps until the final division so that exact
	// results (e.g. 1000 * 30bps = 3) are not truncated by an inexact
	// binary fraction like 30/10000.
	base := fixedpoint.FromInt64(int64(feeBaseBps))

	var slopeAdjusted fixedpoint.Fixed
	if liquidity == 0 {
		slopeAdjusted = fixedpoint.FromInt64(int64(types.BpsScale)) // size/0 liquidity: maximal rate, clamps below
	} else {
		utilization, err := sizeF.Div(fixedpoint.FromMicros(liquidity))
		if err != nil {
			return 0, err
		}
		slopeAdjusted, err = fixedpoint.FromInt64(int64(feeSlopeBps)).Mul(utilization)
		if err != nil {
			return 0, err
		}
	}

	rate := base
	if slopeAdjusted.Cmp(base) > 0 {
		rate = slopeAdjusted
	}

	scaled, err := sizeF.Mul(rate)
	if err != nil {
		return 0, err
	}
	fee, err := scaled.Div(fixedpoint.FromInt64(int64(types.BpsScale)))
	if err != nil {
		return 0, err
	}
	return fixedpoint.ToMicros(fee), nil
}

// SplitFee divides a fee into the maker/staker/vault shares of §4.10,
// pushing rounding residue onto the vault share so the three add back to
// the input exactly.
func SplitFee(fee types.Micros) (maker, staker, vault types.Micros) {
	maker = types.Micros(int64(fee) * makerShareBps / int64(types.BpsScale))
	staker = types.Micros(int64(fee) * stakerShareBps / int64(types.BpsScale))
	vault = fee - maker - staker
	return
}
