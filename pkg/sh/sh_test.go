package sh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumCoefAndLmax(t *testing.T) {
	cases := []struct{ lmax, ncoef int }{
		{0, 1},
		{2, 6},
		{4, 15},
		{6, 28},
		{8, 45},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ncoef, NumCoef(tc.lmax))
		lmax, err := LmaxFor(tc.ncoef)
		require.NoError(t, err)
		assert.Equal(t, tc.lmax, lmax)
	}

	_, err := LmaxFor(7)
	assert.Error(t, err)
}

func TestIsotropicTerm(t *testing.T) {
	want := 1 / math.Sqrt(4*math.Pi)

	out := make([]float64, NumCoef(4))
	for _, dir := range [][3]float64{
		{0, 0, 1},
		{1, 0, 0},
		{0.267, -0.535, 0.802},
	} {
		Basis(dir, 4, out)
		assert.InDelta(t, want, out[0], 1e-12, "dir %v", dir)
	}
}

func TestBasisAtPole(t *testing.T) {
	out := make([]float64, NumCoef(2))
	Basis([3]float64{0, 0, 1}, 2, out)

	// Y_2^0 at the pole is sqrt(5/4pi); all m != 0 terms vanish.
	assert.InDelta(t, math.Sqrt(5/(4*math.Pi)), out[Index(2, 0)], 1e-12)
	for _, m := range []int{-2, -1, 1, 2} {
		assert.InDelta(t, 0, out[Index(2, m)], 1e-12, "m=%d", m)
	}
}

func TestBasisOrderTwoClosedForm(t *testing.T) {
	// In-plane direction theta=pi/2: P_2^0(0) = -1/2.
	out := make([]float64, NumCoef(2))
	Basis([3]float64{1, 0, 0}, 2, out)
	assert.InDelta(t, -0.5*math.Sqrt(5/(4*math.Pi)), out[Index(2, 0)], 1e-12)
}

func TestBasisNormalizesDirection(t *testing.T) {
	a := make([]float64, NumCoef(2))
	b := make([]float64, NumCoef(2))
	Basis([3]float64{0, 0, 1}, 2, a)
	Basis([3]float64{0, 0, 2.5}, 2, b)
	for i := range a {
		assert.InDelta(t, a[i], b[i], 1e-12)
	}
}

func TestZeroDirectionIsIsotropic(t *testing.T) {
	out := make([]float64, NumCoef(2))
	Basis([3]float64{0, 0, 0}, 2, out)

	assert.InDelta(t, 1/math.Sqrt(4*math.Pi), out[0], 1e-12)
	for i := 1; i < len(out); i++ {
		assert.Zero(t, out[i])
	}
}
