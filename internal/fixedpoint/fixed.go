// Package fixedpoint implements the exchange's deterministic numeric
// layer: Q64.64 fixed-point arithmetic backed by 256-bit integers, plus
// the transcendental and normal-distribution primitives the AMM engines
// need (ln, exp, Φ, φ). Every primitive operates on integer
// representations only — no native float64 ever appears in a pricing
// computation, so two independent implementations given the same inputs
// produce bit-identical outputs.
//
// Values are represented as a sign bit plus a 256-bit unsigned magnitude
// in Q64.64 form (64 integer bits, 64 fractional bits, scaled by 2^64).
// uint256.Int backs the magnitude so that the full-width intermediate
// product of two Q64.64 operands never silently wraps before it is
// truncated back to 64.64 — any operation that would lose bits returns
// MathOverflow instead of wrapping.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/0x-verse/verse-core/internal/errs"
)

// Frac is the number of fractional bits in the Q64.64 representation.
const Frac = 64

// Fixed is a signed Q64.64 value. The zero value is a valid representation
// of 0. Fixed is a value type; operations return new Fixed values and
// never mutate their operands.
type Fixed struct {
	neg bool
	mag uint256.Int
}

var (
	one      = uint256.NewInt(1)
	maxShift = uint256.NewInt(1).Lsh(one, 192) // values with mag >= 2^192 can't be left-shifted by 64 more bits
)

// Zero is the additive identity.
var Zero = Fixed{}

// FromInt64 builds a Fixed from a plain integer (no fractional part).
func FromInt64(v int64) Fixed {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	var mag uint256.Int
	mag.SetUint64(u)
	mag.Lsh(&mag, Frac)
	return Fixed{neg: neg && !mag.IsZero(), mag: mag}
}

// FromRatio builds num/den as a Fixed, failing on division by zero or on a
// numerator too wide to scale into Q64.64 without overflow.
func FromRatio(num, den int64) (Fixed, error) {
	if den == 0 {
		return Zero, errs.ErrMathOverflow
	}
	n := FromInt64(num)
	d := FromInt64(den)
	return n.Div(d)
}

// MustFromRatio is FromRatio that panics on error; used only for compile-time
// constant construction in table initializers.
func MustFromRatio(num, den int64) Fixed {
	f, err := FromRatio(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

// IsZero reports whether the value is exactly zero.
func (f Fixed) IsZero() bool { return f.mag.IsZero() }

// IsNeg reports whether the value is strictly negative.
func (f Fixed) IsNeg() bool { return f.neg && !f.mag.IsZero() }

// Neg returns -f.
func (f Fixed) Neg() Fixed {
	if f.mag.IsZero() {
		return f
	}
	return Fixed{neg: !f.neg, mag: f.mag}
}

// Abs returns |f|.
func (f Fixed) Abs() Fixed {
	return Fixed{neg: false, mag: f.mag}
}

// Cmp returns -1, 0, or 1 comparing f to g.
func (f Fixed) Cmp(g Fixed) int {
	if f.neg != g.neg {
		if f.mag.IsZero() && g.mag.IsZero() {
			return 0
		}
		if f.neg {
			return -1
		}
		return 1
	}
	c := f.mag.Cmp(&g.mag)
	if f.neg {
		return -c
	}
	return c
}

// Add returns f+g, failing with MathOverflow if the magnitude overflows
// 256 bits.
func (f Fixed) Add(g Fixed) (Fixed, error) {
	if f.neg == g.neg {
		var sum uint256.Int
		_, overflow := sum.AddOverflow(&f.mag, &g.mag)
		if overflow {
			return Zero, fmt.Errorf("fixedpoint add: %w", errs.ErrMathOverflow)
		}
		return Fixed{neg: f.neg && !sum.IsZero(), mag: sum}, nil
	}
	// Opposite signs: subtract the smaller magnitude from the larger and
	// take the sign of the larger.
	if f.mag.Cmp(&g.mag) >= 0 {
		var diff uint256.Int
		diff.Sub(&f.mag, &g.mag)
		return Fixed{neg: f.neg && !diff.IsZero(), mag: diff}, nil
	}
	var diff uint256.Int
	diff.Sub(&g.mag, &f.mag)
	return Fixed{neg: g.neg && !diff.IsZero(), mag: diff}, nil
}

// Sub returns f-g.
func (f Fixed) Sub(g Fixed) (Fixed, error) {
	return f.Add(g.Neg())
}

// Mul returns f*g, failing with MathOverflow if the 512-bit intermediate
// product doesn't fit back into 256 bits after the 64-bit right shift.
func (f Fixed) Mul(g Fixed) (Fixed, error) {
	// uint256 has no native 512-bit product, so split g into high/low
	// Frac-bit halves and combine: (f * gHi << 64) + (f * gLo >> 64),
	// checking overflow at each step.
	var gHi, gLo uint256.Int
	gHi.Rsh(&g.mag, Frac)
	mask := new(uint256.Int).Sub(new(uint256.Int).Lsh(one, Frac), one)
	gLo.And(&g.mag, mask)

	hiTerm, overflow := new(uint256.Int).MulOverflow(&f.mag, &gHi)
	if overflow {
		return Zero, fmt.Errorf("fixedpoint mul: %w", errs.ErrMathOverflow)
	}
	loTerm, overflow := new(uint256.Int).MulOverflow(&f.mag, &gLo)
	if overflow {
		return Zero, fmt.Errorf("fixedpoint mul: %w", errs.ErrMathOverflow)
	}
	loTerm.Rsh(loTerm, Frac)

	var result uint256.Int
	_, overflow = result.AddOverflow(hiTerm, loTerm)
	if overflow {
		return Zero, fmt.Errorf("fixedpoint mul: %w", errs.ErrMathOverflow)
	}

	return Fixed{neg: (f.neg != g.neg) && !result.IsZero(), mag: result}, nil
}

// Div returns f/g, failing with DivisionByZero when g is zero and
// MathOverflow when the numerator can't be shifted left by Frac bits
// without losing precision-carrying high bits.
func (f Fixed) Div(g Fixed) (Fixed, error) {
	if g.mag.IsZero() {
		return Zero, fmt.Errorf("fixedpoint div: %w", errs.ErrDivisionByZero)
	}
	if f.mag.Cmp(maxShift) >= 0 {
		return Zero, fmt.Errorf("fixedpoint div: %w", errs.ErrMathOverflow)
	}
	var scaled uint256.Int
	scaled.Lsh(&f.mag, Frac)
	var q uint256.Int
	q.Div(&scaled, &g.mag)
	return Fixed{neg: (f.neg != g.neg) && !q.IsZero(), mag: q}, nil
}

// Int64 truncates toward zero and returns the integer part as an int64.
// Used for table indexing, never for pricing math.
func (f Fixed) Int64() int64 {
	var whole uint256.Int
	whole.Rsh(&f.mag, Frac)
	v := int64(whole.Uint64())
	if f.neg {
		return -v
	}
	return v
}

// ToBig converts a Fixed to a big.Rat-equivalent big.Float for display
// purposes only; never use this on a pricing hot path.
func (f Fixed) ToBig() *big.Float {
	num := new(big.Float).SetInt(f.mag.ToBig())
	denom := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), Frac))
	v := new(big.Float).Quo(num, denom)
	if f.neg {
		v.Neg(v)
	}
	return v
}

// String renders the value for logs/errors. Not used on the hot path.
func (f Fixed) String() string {
	return f.ToBig().Text('f', 8)
}

// Raw returns the underlying magnitude and sign, for serialization.
func (f Fixed) Raw() (neg bool, mag uint256.Int) {
	return f.neg, f.mag
}

// FromRaw reconstructs a Fixed from a sign and magnitude, as produced by
// Raw. Used by the snapshot codec to round-trip values deterministically.
func FromRaw(neg bool, mag uint256.Int) Fixed {
	return Fixed{neg: neg && !mag.IsZero(), mag: mag}
}
