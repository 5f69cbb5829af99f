package fixedpoint

import "github.com/0x-verse/verse-core/pkg/types"

// FromBps lifts a basis-point quantity into Q64.64, scaled by 1/10000 so
// FromBps(10000) == FromInt64(1).
func FromBps(b types.Bps) (Fixed, error) {
	return FromRatio(int64(b), int64(types.BpsScale))
}

// ToBps truncates a Fixed in [0,1]-ish range back to basis points, rounding
// toward zero. Callers that need exact 10000-bps normalization (§8
// invariant 1) must renormalize after calling this on a full price vector.
func ToBps(f Fixed) types.Bps {
	scaled := f.Mul1(FromInt64(int64(types.BpsScale)))
	return types.Bps(scaled.Int64())
}

// FromMicros lifts a Micros quantity into Q64.64 with no scaling — micros
// are already the core's base integer unit.
func FromMicros(m types.Micros) Fixed {
	return FromInt64(int64(m))
}

// ToMicros truncates a non-negative Fixed back to Micros, rounding toward
// zero.
func ToMicros(f Fixed) types.Micros {
	if f.IsNeg() {
		return 0
	}
	return types.Micros(f.Int64())
}
