package fixedpoint

import (
	"fmt"

	"github.com/0x-verse/verse-core/internal/errs"
)

// ln2 = ln(2) in Q64.64, used to range-reduce before the polynomial.
var ln2 = MustFromRatio(6931471805599453, 10000000000000000)

// lnPoly holds the coefficients of the minimax polynomial approximating
// ln(1+x) for x in [0, 1), evaluated via Horner's method. Degree 7 keeps
// the error within the fixed-point ULP across the whole reduced range.
var lnPoly = []Fixed{
	MustFromRatio(0, 1),
	FromInt64(1),
	MustFromRatio(-1, 2),
	MustFromRatio(1, 3),
	MustFromRatio(-1, 4),
	MustFromRatio(1, 5),
	MustFromRatio(-1, 6),
	MustFromRatio(1, 7),
}

// Ln computes the natural logarithm of a strictly positive Fixed. Range
// reduction writes f = m * 2^k with m in [1, 2), so ln(f) = k*ln2 + ln(m),
// and ln(m) is evaluated as ln(1 + (m-1)) via the Horner polynomial above.
func Ln(f Fixed) (Fixed, error) {
	if f.IsNeg() || f.IsZero() {
		return Zero, fmt.Errorf("fixedpoint ln: %w", errs.ErrOutOfRange)
	}

	m, k, err := normalize(f)
	if err != nil {
		return Zero, err
	}

	x, err := m.Sub(FromInt64(1))
	if err != nil {
		return Zero, err
	}

	var acc Fixed = Zero
	for i := len(lnPoly) - 1; i >= 0; i-- {
		acc, err = acc.Mul(x)
		if err != nil {
			return Zero, err
		}
		acc, err = acc.Add(lnPoly[i])
		if err != nil {
			return Zero, err
		}
	}

	kTerm, err := FromInt64(int64(k)).Mul(ln2)
	if err != nil {
		return Zero, err
	}
	return kTerm.Add(acc)
}

// normalize writes f = m * 2^k with m in [1,2). Implemented by repeated
// halving/doubling on the raw magnitude, which is exact since it's a pure
// bit shift.
func normalize(f Fixed) (Fixed, int, error) {
	one := FromInt64(1)
	two := FromInt64(2)
	m := f
	k := 0
	for m.Cmp(two) >= 0 {
		var err error
		m, err = m.Div(two)
		if err != nil {
			return Zero, 0, err
		}
		k++
	}
	for m.Cmp(one) < 0 {
		var err error
		m, err = m.Mul(two)
		if err != nil {
			return Zero, 0, err
		}
		k--
	}
	return m, k, nil
}

// expPoly holds Taylor coefficients for exp(x) around 0, 1/n! terms,
// evaluated over a range-reduced x in [0, ln2).
var expPoly = []Fixed{
	FromInt64(1),
	FromInt64(1),
	MustFromRatio(1, 2),
	MustFromRatio(1, 6),
	MustFromRatio(1, 24),
	MustFromRatio(1, 120),
	MustFromRatio(1, 720),
	MustFromRatio(1, 5040),
	MustFromRatio(1, 40320),
}

// Exp computes e^f for any signed Fixed. Range reduction writes f =
// k*ln2 + r with r in [0, ln2), so exp(f) = 2^k * exp(r), and exp(r) is
// evaluated via the degree-8 Taylor series above.
func Exp(f Fixed) (Fixed, error) {
	k := 0
	r := f
	for r.Cmp(ln2) >= 0 {
		var err error
		r, err = r.Sub(ln2)
		if err != nil {
			return Zero, err
		}
		k++
	}
	negLn2 := ln2.Neg()
	for r.Cmp(Zero) < 0 {
		var err error
		r, err = r.Sub(negLn2)
		if err != nil {
			return Zero, err
		}
		k--
	}

	var acc Fixed = Zero
	for i := len(expPoly) - 1; i >= 0; i-- {
		var err error
		acc, err = acc.Mul(r)
		if err != nil {
			return Zero, err
		}
		acc, err = acc.Add(expPoly[i])
		if err != nil {
			return Zero, err
		}
	}

	two := FromInt64(2)
	if k >= 0 {
		for i := 0; i < k; i++ {
			var err error
			acc, err = acc.Mul(two)
			if err != nil {
				return Zero, fmt.Errorf("fixedpoint exp: %w", errs.ErrMathOverflow)
			}
		}
		return acc, nil
	}
	for i := 0; i < -k; i++ {
		var err error
		acc, err = acc.Div(two)
		if err != nil {
			return Zero, err
		}
	}
	return acc, nil
}

// LogSumExp computes ln(Σ exp(xᵢ)) stably by subtracting the maximum term
// before summing, exactly as §4.2 requires for LMSR cost-function
// evaluation.
func LogSumExp(xs []Fixed) (Fixed, error) {
	if len(xs) == 0 {
		return Zero, fmt.Errorf("fixedpoint logsumexp: %w", errs.ErrInvalidInput)
	}
	max := xs[0]
	for _, x := range xs[1:] {
		if x.Cmp(max) > 0 {
			max = x
		}
	}
	sum := Zero
	for _, x := range xs {
		shifted, err := x.Sub(max)
		if err != nil {
			return Zero, err
		}
		e, err := Exp(shifted)
		if err != nil {
			return Zero, err
		}
		sum, err = sum.Add(e)
		if err != nil {
			return Zero, err
		}
	}
	lnSum, err := Ln(sum)
	if err != nil {
		return Zero, err
	}
	return max.Add(lnSum)
}
