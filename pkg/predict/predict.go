// Package predict resamples a multi-shell spherical harmonic signal
// model into the geometry of an acquired slice under a candidate rigid
// transform. The result is the model's prediction of what the scanner
// should have measured at each slice voxel, ready to be compared
// against the acquired intensities.
package predict

import (
	"fmt"
	"math"

	"dwislicealign/internal/models"
	"dwislicealign/pkg/rigid"
	"dwislicealign/pkg/sh"
	"dwislicealign/pkg/ssp"
)

// Predictor evaluates slice predictions from an MSSH model. It is
// immutable after construction and safe to share across workers;
// per-call scratch space is owned by the caller.
type Predictor struct {
	mssh   *models.MSSH
	mask   *models.Mask
	kernel *ssp.SSP
	lmax   int
	centre [3]float64
}

// NewPredictor validates the model against the mask and derives the
// harmonic order from the coefficient count.
func NewPredictor(mssh *models.MSSH, mask *models.Mask, kernel *ssp.SSP) (*Predictor, error) {
	if err := mssh.Validate(); err != nil {
		return nil, err
	}
	lmax, err := sh.LmaxFor(mssh.Ncoef)
	if err != nil {
		return nil, fmt.Errorf("MSSH coefficient dimension: %w", err)
	}
	if mask != nil && (mask.Nx != mssh.Nx || mask.Ny != mssh.Ny || mask.Nz != mssh.Nz) {
		return nil, fmt.Errorf("mask dimensions [%d %d %d] do not match MSSH [%d %d %d]",
			mask.Nx, mask.Ny, mask.Nz, mssh.Nx, mssh.Ny, mssh.Nz)
	}
	return &Predictor{
		mssh:   mssh,
		mask:   mask,
		kernel: kernel,
		lmax:   lmax,
		centre: [3]float64{
			float64(mssh.Nx-1) / 2,
			float64(mssh.Ny-1) / 2,
			float64(mssh.Nz-1) / 2,
		},
	}, nil
}

// Lmax is the harmonic truncation order of the model.
func (p *Predictor) Lmax() int { return p.lmax }

// NumCoef is the per-shell coefficient count of the model.
func (p *Predictor) NumCoef() int { return p.mssh.Ncoef }

// Centre is the rotation centre used for slice transforms, the
// geometric middle of the voxel grid.
func (p *Predictor) Centre() [3]float64 { return p.centre }

// ShellOf maps a b-value to the shell with the nearest recorded
// b-value. Ties resolve to the lower shell index.
func (p *Predictor) ShellOf(bval float64) int {
	best, bestDist := 0, math.Abs(bval-p.mssh.Shells[0])
	for s := 1; s < p.mssh.Nshell; s++ {
		if d := math.Abs(bval - p.mssh.Shells[s]); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// PredictSlices fills out with the predicted signal for the listed
// slices under transform tr, for a DWI volume with gradient direction
// dir on the given shell. out and valid are slice-major, x-fastest,
// length len(slices)·Nx·Ny. basis is caller-owned scratch of length
// NumCoef().
//
// A voxel is invalid when it is outside the mask or when every SSP tap
// maps outside the model's spatial domain. Out-of-bounds taps carry
// zero weight and are excluded from the weight normalization.
func (p *Predictor) PredictSlices(tr *rigid.Transform, dir [3]float64, shell int, slices []int, out []float64, valid []bool, basis []float64) {
	rdir := tr.Direction(dir)
	sh.Basis(rdir, p.lmax, basis)

	nx, ny := p.mssh.Nx, p.mssh.Ny
	radius := p.kernel.Radius()

	for si, z := range slices {
		base := si * nx * ny
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := base + y*nx + x
				if !p.mask.At(x, y, z) {
					out[i], valid[i] = 0, false
					continue
				}
				acc, wsum := 0.0, 0.0
				for k := -radius; k <= radius; k++ {
					px, py, pz := tr.Point(float64(x), float64(y), float64(z+k))
					v, ok := p.sample(px, py, pz, shell, basis)
					if !ok {
						continue
					}
					w := p.kernel.Weight(k)
					acc += w * v
					wsum += w
				}
				if wsum > 0 {
					out[i], valid[i] = acc/wsum, true
				} else {
					out[i], valid[i] = 0, false
				}
			}
		}
	}
}

// sample trilinearly interpolates the model at a continuous position
// and projects the interpolated coefficients onto the basis. ok is
// false when the position lies outside the interpolation domain.
func (p *Predictor) sample(px, py, pz float64, shell int, basis []float64) (float64, bool) {
	m := p.mssh
	if px < 0 || py < 0 || pz < 0 ||
		px > float64(m.Nx-1) || py > float64(m.Ny-1) || pz > float64(m.Nz-1) {
		return 0, false
	}

	ix, iy, iz := int(px), int(py), int(pz)
	if ix > m.Nx-2 {
		ix = m.Nx - 2
	}
	if iy > m.Ny-2 {
		iy = m.Ny - 2
	}
	if iz > m.Nz-2 {
		iz = m.Nz - 2
	}
	// Degenerate single-voxel axes sample at voxel 0.
	if ix < 0 {
		ix = 0
	}
	if iy < 0 {
		iy = 0
	}
	if iz < 0 {
		iz = 0
	}
	fx, fy, fz := px-float64(ix), py-float64(iy), pz-float64(iz)

	val := 0.0
	for dz := 0; dz < 2; dz++ {
		wz := fz
		if dz == 0 {
			wz = 1 - fz
		}
		if wz == 0 || iz+dz >= m.Nz {
			continue
		}
		for dy := 0; dy < 2; dy++ {
			wy := fy
			if dy == 0 {
				wy = 1 - fy
			}
			if wy == 0 || iy+dy >= m.Ny {
				continue
			}
			for dx := 0; dx < 2; dx++ {
				wx := fx
				if dx == 0 {
					wx = 1 - fx
				}
				if wx == 0 || ix+dx >= m.Nx {
					continue
				}
				w := wx * wy * wz
				dot := 0.0
				for c := 0; c < m.Ncoef; c++ {
					dot += basis[c] * m.At(ix+dx, iy+dy, iz+dz, c, shell)
				}
				val += w * dot
			}
		}
	}
	return val, true
}
