// Package rigid represents 6-parameter rigid body transforms: three
// translations in voxel units followed by three intrinsic Z-Y-X Euler
// rotation angles in radians, rotating about a fixed volume centre.
package rigid

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NumParams is the rigid degree-of-freedom count.
const NumParams = 6

// Params is a motion estimate: [tx ty tz rx ry rz].
type Params [NumParams]float64

// Slice returns the parameters as a fresh []float64.
func (p Params) Slice() []float64 {
	return []float64{p[0], p[1], p[2], p[3], p[4], p[5]}
}

// FromSlice builds Params from a 6-element slice.
func FromSlice(v []float64) Params {
	var p Params
	copy(p[:], v)
	return p
}

// Transform is a rigid map y = R(p - c) + c + t, precomputed from
// Params for repeated point and direction mapping.
type Transform struct {
	r *mat.Dense // 3x3 rotation
	t [3]float64 // translation
	c [3]float64 // centre of rotation
}

// NewTransform composes the rotation Rz(rz)·Ry(ry)·Rx(rx) and
// translation described by p, rotating about centre c.
func NewTransform(p Params, c [3]float64) *Transform {
	rx, ry, rz := p[3], p[4], p[5]

	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	mx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cx, -sx,
		0, sx, cx,
	})
	my := mat.NewDense(3, 3, []float64{
		cy, 0, sy,
		0, 1, 0,
		-sy, 0, cy,
	})
	mz := mat.NewDense(3, 3, []float64{
		cz, -sz, 0,
		sz, cz, 0,
		0, 0, 1,
	})

	r := mat.NewDense(3, 3, nil)
	r.Mul(mz, my)
	r.Mul(mat.DenseCopyOf(r), mx)

	return &Transform{
		r: r,
		t: [3]float64{p[0], p[1], p[2]},
		c: c,
	}
}

// Point maps a spatial position through the transform.
func (tr *Transform) Point(x, y, z float64) (float64, float64, float64) {
	dx, dy, dz := x-tr.c[0], y-tr.c[1], z-tr.c[2]
	ox := tr.r.At(0, 0)*dx + tr.r.At(0, 1)*dy + tr.r.At(0, 2)*dz
	oy := tr.r.At(1, 0)*dx + tr.r.At(1, 1)*dy + tr.r.At(1, 2)*dz
	oz := tr.r.At(2, 0)*dx + tr.r.At(2, 1)*dy + tr.r.At(2, 2)*dz
	return ox + tr.c[0] + tr.t[0], oy + tr.c[1] + tr.t[1], oz + tr.c[2] + tr.t[2]
}

// Direction maps a direction vector through the rotation only.
func (tr *Transform) Direction(d [3]float64) [3]float64 {
	return [3]float64{
		tr.r.At(0, 0)*d[0] + tr.r.At(0, 1)*d[1] + tr.r.At(0, 2)*d[2],
		tr.r.At(1, 0)*d[0] + tr.r.At(1, 1)*d[1] + tr.r.At(1, 2)*d[2],
		tr.r.At(2, 0)*d[0] + tr.r.At(2, 1)*d[1] + tr.r.At(2, 2)*d[2],
	}
}

// Rotation returns the 3x3 rotation matrix. The returned matrix is
// shared; callers must not modify it.
func (tr *Transform) Rotation() mat.Matrix { return tr.r }
