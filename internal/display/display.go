// Package display formats the core's integer units (Micros, Bps, Fixed)
// into human-readable decimal strings for logs, CLI output, and snapshot
// summaries. Nothing in here ever feeds back into pricing math — it's a
// one-way conversion at the edge of the system, scaling to USDC's 6
// decimal places.
package display

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/0x-verse/verse-core/internal/fixedpoint"
	"github.com/0x-verse/verse-core/pkg/types"
)

// microsScale is the 10^6 divisor that converts a USDC integer amount
// to a decimal string.
var microsScale = decimal.New(1, 6)

// Micros renders a Micros quantity as a fixed 6-decimal collateral string,
// e.g. Micros(1_500_000) -> "1.500000".
func Micros(m types.Micros) string {
	return decimal.NewFromInt(int64(m)).DivRound(microsScale, 6).StringFixed(6)
}

// Bps renders a basis-point quantity as a percentage string, e.g.
// Bps(2500) -> "25.00%".
func Bps(b types.Bps) string {
	pct := decimal.NewFromInt(int64(b)).DivRound(decimal.NewFromInt(int64(types.BpsScale)), 6).Mul(decimal.NewFromInt(100))
	return pct.StringFixed(2) + "%"
}

// PriceVector renders a full price vector as a bracketed list of
// percentages, e.g. "[25.00%, 75.00%]".
func PriceVector(v []types.Bps) string {
	out := "["
	for i, p := range v {
		if i > 0 {
			out += ", "
		}
		out += Bps(p)
	}
	return out + "]"
}

// Fixed renders a Q64.64 value as a decimal string with 8 fractional
// digits, parsing fixedpoint.Fixed's own big.Float text representation
// through shopspring/decimal so every non-hot-path caller gets a
// consistently rounded string regardless of which formatter produced the
// underlying Fixed.
func Fixed(f fixedpoint.Fixed) string {
	d, err := decimal.NewFromString(f.String())
	if err != nil {
		// f.String() always emits a valid decimal literal; this branch
		// exists only to avoid a panic if that invariant is ever broken.
		return fmt.Sprintf("<unrenderable:%s>", f.String())
	}
	return d.StringFixed(8)
}

// Leverage renders a leverage multiplier, e.g. Leverage(5) -> "5x".
func Leverage(l uint32) string {
	return fmt.Sprintf("%dx", l)
}
