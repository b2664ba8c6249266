// Package sh evaluates the real even-order spherical harmonic basis
// used by multi-shell signal predictions. Only even harmonic orders are
// carried because the diffusion signal is antipodally symmetric.
//
// Coefficient ordering follows the usual diffusion convention: for each
// even order l the 2l+1 phases m = -l..l are stored contiguously, so a
// coefficient's index is l(l+1)/2 + m.
package sh

import (
	"fmt"
	"math"
)

// NumCoef returns the number of coefficients of an even-order basis
// truncated at lmax.
func NumCoef(lmax int) int {
	return (lmax + 1) * (lmax + 2) / 2
}

// LmaxFor returns the even truncation order of a basis with ncoef
// coefficients, or an error if ncoef does not correspond to one.
func LmaxFor(ncoef int) (int, error) {
	for l := 0; NumCoef(l) <= ncoef; l += 2 {
		if NumCoef(l) == ncoef {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%d is not a valid even-order SH coefficient count", ncoef)
}

// Index returns the coefficient index of order l, phase m.
func Index(l, m int) int {
	return l*(l+1)/2 + m
}

// Basis fills out with the real SH basis evaluated at the unit
// direction dir, for even orders up to lmax. len(out) must be
// NumCoef(lmax). A zero direction (b=0 volumes) evaluates the
// isotropic term only.
func Basis(dir [3]float64, lmax int, out []float64) {
	if len(out) != NumCoef(lmax) {
		panic(fmt.Sprintf("sh: basis buffer length %d, want %d", len(out), NumCoef(lmax)))
	}
	norm := math.Sqrt(dir[0]*dir[0] + dir[1]*dir[1] + dir[2]*dir[2])
	if norm == 0 {
		for i := range out {
			out[i] = 0
		}
		out[0] = 1.0 / math.Sqrt(4*math.Pi)
		return
	}
	cosTheta := dir[2] / norm
	phi := math.Atan2(dir[1], dir[0])

	for l := 0; l <= lmax; l += 2 {
		out[Index(l, 0)] = normCoef(l, 0) * legendre(l, 0, cosTheta)
		for m := 1; m <= l; m++ {
			v := math.Sqrt2 * normCoef(l, m) * legendre(l, m, cosTheta)
			out[Index(l, m)] = v * math.Cos(float64(m)*phi)
			out[Index(l, -m)] = v * math.Sin(float64(m)*phi)
		}
	}
}

// normCoef is sqrt((2l+1)/(4π) · (l-m)!/(l+m)!).
func normCoef(l, m int) float64 {
	r := float64(2*l+1) / (4 * math.Pi)
	for k := l - m + 1; k <= l+m; k++ {
		r /= float64(k)
	}
	return math.Sqrt(r)
}

// legendre evaluates the associated Legendre function P_l^m(x) with the
// Condon-Shortley phase, 0 <= m <= l.
func legendre(l, m int, x float64) float64 {
	pmm := 1.0
	if m > 0 {
		somx2 := math.Sqrt((1 - x) * (1 + x))
		fact := 1.0
		for i := 0; i < m; i++ {
			pmm *= -fact * somx2
			fact += 2
		}
	}
	if l == m {
		return pmm
	}
	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm = pmmp1
		pmmp1 = pll
	}
	return pll
}
