package align

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dwislicealign/pkg/rigid"
)

// Source enumerates registration tasks in volume-major, slice-group-
// minor order, seeding each with a row of the (tiled) initial motion
// matrix. It is consumed exactly once per pipeline run.
type Source struct {
	nvol   int
	groups int
	total  int
	init   *mat.Dense // nil means identity seeds
	next   int
}

// NewSource validates the initialisation matrix and prepares the task
// enumeration for nvol volumes of nz slices at multiband factor mb
// (already normalized). init may be nil; otherwise it must have 6
// columns and a row count that evenly divides nvol·nz, and is
// broadcast/tiled to per-task granularity.
func NewSource(nvol, nz, mb int, init *mat.Dense) (*Source, error) {
	groups := GroupCount(nz, mb)
	if init != nil {
		r, c := init.Dims()
		if c != rigid.NumParams {
			return nil, fmt.Errorf("motion initialisation must have %d columns, got %d", rigid.NumParams, c)
		}
		if r <= 0 || (nvol*nz)%r != 0 {
			return nil, fmt.Errorf("motion initialisation row count %d does not divide %d volumes x %d slices", r, nvol, nz)
		}
	}
	return &Source{
		nvol:   nvol,
		groups: groups,
		total:  nvol * groups,
		init:   init,
	}, nil
}

// Total is the number of tasks the source will emit.
func (s *Source) Total() int { return s.total }

// Next emits the next task, or ok=false once the enumeration is
// exhausted.
func (s *Source) Next() (Task, bool) {
	if s.next >= s.total {
		return Task{}, false
	}
	i := s.next
	s.next++

	t := Task{
		Index:  i,
		Volume: i / s.groups,
		Group:  i % s.groups,
	}
	if s.init != nil {
		rows, _ := s.init.Dims()
		t.Init = rigid.FromSlice(s.init.RawRowView(i * rows / s.total))
	}
	return t, true
}
