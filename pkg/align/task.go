// Package align implements slice-to-volume motion estimation for
// diffusion MRI: a producer enumerating one registration task per
// (volume, slice-group) pair, a pool of workers refining each task's
// rigid motion estimate against an MSSH signal prediction, and a
// collector assembling the refined estimates into an ordered motion
// parameter matrix.
package align

import (
	"fmt"

	"dwislicealign/pkg/rigid"
)

// Task is one unit of registration work, identified by its position in
// the enumeration order.
type Task struct {
	// Index is the task's enumeration position and its row in the
	// output motion matrix.
	Index int

	// Volume is the DWI volume index.
	Volume int

	// Group is the slice-group (excitation) index.
	Group int

	// Init seeds the registration.
	Init rigid.Params
}

// Result carries a task's refined motion estimate back to the sink,
// along with convergence diagnostics.
type Result struct {
	Task       Task
	Motion     rigid.Params
	Iterations int
	Converged  bool

	// RMS is the root mean square residual at the final estimate,
	// over voxels valid in both mask and model domain.
	RMS float64
}

// NormalizeMB resolves a multiband factor against the slice count:
// 0 and nz both mean volume-to-volume registration (a single group of
// all slices). Any other factor must evenly divide the slice count.
func NormalizeMB(nz, mb int) (int, error) {
	if mb < 0 {
		return 0, fmt.Errorf("multiband factor %d invalid: must be non-negative", mb)
	}
	if mb == 0 || mb == nz {
		return nz, nil
	}
	if nz%mb != 0 {
		return 0, fmt.Errorf("multiband factor %d invalid: does not divide slice count %d", mb, nz)
	}
	return mb, nil
}

// GroupCount is the number of slice-groups (excitations) per volume.
func GroupCount(nz, mb int) int { return nz / mb }

// GroupSlices lists the slices excited together in group g: slices
// spaced one excitation count apart, the usual simultaneous multislice
// interleave.
func GroupSlices(nz, mb, g int) []int {
	nexc := nz / mb
	slices := make([]int, mb)
	for k := 0; k < mb; k++ {
		slices[k] = g + k*nexc
	}
	return slices
}
