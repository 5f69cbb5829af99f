package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a := FromInt64(5)
	b := FromInt64(3)

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, int64(8), sum.Int64())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, int64(2), diff.Int64())

	diff2, err := b.Sub(a)
	require.NoError(t, err)
	require.True(t, diff2.IsNeg())
	require.Equal(t, int64(-2), diff2.Int64())
}

func TestMulDiv(t *testing.T) {
	half := MustFromRatio(1, 2)
	four := FromInt64(4)

	p, err := half.Mul(four)
	require.NoError(t, err)
	require.Equal(t, int64(2), p.Int64())

	q, err := four.Div(half)
	require.NoError(t, err)
	require.Equal(t, int64(8), q.Int64())
}

func TestDivByZero(t *testing.T) {
	_, err := FromInt64(1).Div(Zero)
	require.Error(t, err)
}

func TestNegSignHandling(t *testing.T) {
	neg := FromInt64(-7)
	require.True(t, neg.IsNeg())
	pos := neg.Neg()
	require.False(t, pos.IsNeg())
	require.Equal(t, int64(7), pos.Int64())
}

func TestExpLnRoundTrip(t *testing.T) {
	x := MustFromRatio(3, 2)
	e, err := Exp(x)
	require.NoError(t, err)
	back, err := Ln(e)
	require.NoError(t, err)

	diff, err := back.Sub(x)
	require.NoError(t, err)
	tolerance := MustFromRatio(1, 1000)
	require.True(t, diff.Abs().Cmp(tolerance) < 0, "ln(exp(x)) should round-trip within tolerance, got %s", back.String())
}

func TestLogSumExpStability(t *testing.T) {
	xs := []Fixed{FromInt64(1000), FromInt64(1000), FromInt64(1000)}
	lse, err := LogSumExp(xs)
	require.NoError(t, err)
	// ln(3) + 1000
	ln3, err := Ln(FromInt64(3))
	require.NoError(t, err)
	expected, err := FromInt64(1000).Add(ln3)
	require.NoError(t, err)
	diff, err := lse.Sub(expected)
	require.NoError(t, err)
	require.True(t, diff.Abs().Cmp(MustFromRatio(1, 100)) < 0)
}

func TestPhiSymmetry(t *testing.T) {
	z := MustFromRatio(3, 2)
	pz, err := Phi(z)
	require.NoError(t, err)
	pnz, err := Phi(z.Neg())
	require.NoError(t, err)

	sum, err := pz.Add(pnz)
	require.NoError(t, err)
	diff, err := sum.Sub(FromInt64(1))
	require.NoError(t, err)
	require.True(t, diff.Abs().Cmp(MustFromRatio(1, 1000)) < 0)
}

func TestPhiOutOfRange(t *testing.T) {
	_, err := Phi(FromInt64(7))
	require.Error(t, err)
}

func TestPhiMonotone(t *testing.T) {
	prev, err := Phi(FromInt64(-5))
	require.NoError(t, err)
	for _, z := range []int64{-4, -3, -2, -1, 0, 1, 2, 3, 4, 5} {
		cur, err := Phi(FromInt64(z))
		require.NoError(t, err)
		require.True(t, cur.Cmp(prev) >= 0)
		prev = cur
	}
}
