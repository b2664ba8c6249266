// Package models holds the in-memory data types shared by the
// registration pipeline: DWI series, MSSH predictions, masks and
// gradient tables. All volumes store their samples as flat float64
// arrays in x-fastest order, matching the layout used throughout the
// prediction and registration code.
package models

import (
	"fmt"
	"math"
)

// Volume4D is a diffusion-weighted series: a stack of 3-D volumes, one
// per gradient direction.
type Volume4D struct {
	// Data is the voxel data as a flat array, ordered x-fastest:
	// index = ((v*Nz + z)*Ny + y)*Nx + x.
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels.
	Nx, Ny, Nz int

	// Nv is the number of volumes (gradient directions).
	Nv int
}

// NewVolume4D allocates a zero-filled series with the given dimensions.
func NewVolume4D(nx, ny, nz, nv int) *Volume4D {
	return &Volume4D{
		Data: make([]float64, nx*ny*nz*nv),
		Nx:   nx, Ny: ny, Nz: nz, Nv: nv,
	}
}

// Index returns the flat index of voxel (x, y, z) in volume v.
func (vol *Volume4D) Index(x, y, z, v int) int {
	return ((v*vol.Nz+z)*vol.Ny+y)*vol.Nx + x
}

// At returns the intensity of voxel (x, y, z) in volume v.
func (vol *Volume4D) At(x, y, z, v int) float64 {
	return vol.Data[vol.Index(x, y, z, v)]
}

// Set stores an intensity at voxel (x, y, z) in volume v.
func (vol *Volume4D) Set(x, y, z, v int, val float64) {
	vol.Data[vol.Index(x, y, z, v)] = val
}

// SliceSize is the number of voxels in one axial slice.
func (vol *Volume4D) SliceSize() int { return vol.Nx * vol.Ny }

// CheckSameDims reports an error unless b has identical dimensions.
func (vol *Volume4D) CheckSameDims(b *Volume4D) error {
	if b == nil || vol.Nx != b.Nx || vol.Ny != b.Ny || vol.Nz != b.Nz || vol.Nv != b.Nv {
		return fmt.Errorf("volume dimension mismatch: have %s, want %s", dims4(b), dims4(vol))
	}
	return nil
}

func dims4(v *Volume4D) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[%d %d %d %d]", v.Nx, v.Ny, v.Nz, v.Nv)
}

// MSSH is a multi-shell spherical harmonic signal prediction: per shell,
// a volume of SH coefficient images sampled on the same spatial grid as
// the DWI series it predicts.
type MSSH struct {
	// Data is ordered x-fastest: index =
	// (((s*Ncoef + c)*Nz + z)*Ny + y)*Nx + x.
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels.
	Nx, Ny, Nz int

	// Ncoef is the number of spherical harmonic coefficients per shell.
	Ncoef int

	// Nshell is the number of shells.
	Nshell int

	// Shells holds the representative b-value of each shell,
	// length Nshell.
	Shells []float64
}

// NewMSSH allocates a zero-filled prediction with the given dimensions.
func NewMSSH(nx, ny, nz, ncoef int, shells []float64) *MSSH {
	return &MSSH{
		Data:   make([]float64, nx*ny*nz*ncoef*len(shells)),
		Nx:     nx, Ny: ny, Nz: nz,
		Ncoef:  ncoef,
		Nshell: len(shells),
		Shells: shells,
	}
}

// Index returns the flat index of coefficient c of shell s at (x, y, z).
func (m *MSSH) Index(x, y, z, c, s int) int {
	return (((s*m.Ncoef+c)*m.Nz+z)*m.Ny+y)*m.Nx + x
}

// At returns coefficient c of shell s at voxel (x, y, z).
func (m *MSSH) At(x, y, z, c, s int) float64 {
	return m.Data[m.Index(x, y, z, c, s)]
}

// Set stores coefficient c of shell s at voxel (x, y, z).
func (m *MSSH) Set(x, y, z, c, s int, val float64) {
	m.Data[m.Index(x, y, z, c, s)] = val
}

// Validate checks internal consistency of the header fields.
func (m *MSSH) Validate() error {
	if m.Nshell != len(m.Shells) {
		return fmt.Errorf("MSSH shell count %d does not match b-value list length %d", m.Nshell, len(m.Shells))
	}
	if m.Nshell == 0 {
		return fmt.Errorf("MSSH prediction has no shells")
	}
	if want := m.Nx * m.Ny * m.Nz * m.Ncoef * m.Nshell; len(m.Data) != want {
		return fmt.Errorf("MSSH buffer length %d does not match dimensions (want %d)", len(m.Data), want)
	}
	return nil
}

// CheckSameDims reports an error unless b has identical dimensions.
func (m *MSSH) CheckSameDims(b *MSSH) error {
	if b == nil || m.Nx != b.Nx || m.Ny != b.Ny || m.Nz != b.Nz || m.Ncoef != b.Ncoef || m.Nshell != b.Nshell {
		return fmt.Errorf("MSSH dimension mismatch")
	}
	return nil
}

// CheckSpatialMatch reports an error unless the prediction shares the
// DWI series' spatial grid.
func (m *MSSH) CheckSpatialMatch(vol *Volume4D) error {
	if m.Nx != vol.Nx || m.Ny != vol.Ny || m.Nz != vol.Nz {
		return fmt.Errorf("MSSH spatial dimensions [%d %d %d] do not match DWI [%d %d %d]",
			m.Nx, m.Ny, m.Nz, vol.Nx, vol.Ny, vol.Nz)
	}
	return nil
}

// Mask is an optional 3-D validity volume. A nil *Mask means every
// voxel is valid.
type Mask struct {
	Data       []bool
	Nx, Ny, Nz int
}

// NewMask allocates an all-false mask with the given dimensions.
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{Data: make([]bool, nx*ny*nz), Nx: nx, Ny: ny, Nz: nz}
}

// At reports whether voxel (x, y, z) is inside the mask. A nil
// receiver accepts every voxel.
func (m *Mask) At(x, y, z int) bool {
	if m == nil {
		return true
	}
	return m.Data[(z*m.Ny+y)*m.Nx+x]
}

// CheckSpatialMatch reports an error unless the mask covers the DWI
// series' spatial grid. A nil mask always matches.
func (m *Mask) CheckSpatialMatch(vol *Volume4D) error {
	if m == nil {
		return nil
	}
	if m.Nx != vol.Nx || m.Ny != vol.Ny || m.Nz != vol.Nz {
		return fmt.Errorf("mask dimensions [%d %d %d] do not match DWI [%d %d %d]",
			m.Nx, m.Ny, m.Nz, vol.Nx, vol.Ny, vol.Nz)
	}
	return nil
}

// Gradient is one row of the diffusion gradient table.
type Gradient struct {
	// Dir is the unit gradient direction.
	Dir [3]float64

	// B is the b-value in s/mm².
	B float64
}

// GradientTable holds one gradient per DWI volume.
type GradientTable struct {
	Rows []Gradient
}

// NewGradientTable builds a table from raw rows (x, y, z, b),
// normalizing each direction. A zero-length direction (b=0 volumes) is
// kept as-is; the isotropic SH term carries the whole signal there.
func NewGradientTable(rows [][4]float64) *GradientTable {
	t := &GradientTable{Rows: make([]Gradient, len(rows))}
	for i, r := range rows {
		g := Gradient{Dir: [3]float64{r[0], r[1], r[2]}, B: r[3]}
		n := math.Sqrt(g.Dir[0]*g.Dir[0] + g.Dir[1]*g.Dir[1] + g.Dir[2]*g.Dir[2])
		if n > 0 {
			g.Dir[0] /= n
			g.Dir[1] /= n
			g.Dir[2] /= n
		}
		t.Rows[i] = g
	}
	return t
}

// Len is the number of gradient rows.
func (t *GradientTable) Len() int { return len(t.Rows) }

// CheckVolumeMatch reports an error unless the table has one row per
// DWI volume.
func (t *GradientTable) CheckVolumeMatch(vol *Volume4D) error {
	if t == nil || len(t.Rows) != vol.Nv {
		n := 0
		if t != nil {
			n = len(t.Rows)
		}
		return fmt.Errorf("gradient table has %d rows for %d DWI volumes", n, vol.Nv)
	}
	return nil
}
