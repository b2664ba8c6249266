package align

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Sink collects task results in whatever order the workers complete
// them and indexes each into its fixed row of the motion parameter
// matrix. It is driven by a single collector goroutine.
type Sink struct {
	motion  *mat.Dense
	seen    []bool
	rms     []float64
	pending int
	logger  *slog.Logger

	converged  int
	iterations int
}

// NewSink prepares a collector for total task results.
func NewSink(total int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		motion:  mat.NewDense(total, 6, nil),
		seen:    make([]bool, total),
		rms:     make([]float64, total),
		pending: total,
		logger:  logger,
	}
}

// Consume records one result. Two results for the same task identity
// indicate broken scheduling; the later write wins and is logged.
func (s *Sink) Consume(res Result) {
	i := res.Task.Index
	if s.seen[i] {
		s.logger.Warn("duplicate result for registration task", "task", i,
			"volume", res.Task.Volume, "group", res.Task.Group)
	} else {
		s.seen[i] = true
		s.pending--
		if res.Converged {
			s.converged++
		}
		s.iterations += res.Iterations
	}
	s.motion.SetRow(i, res.Motion.Slice())
	s.rms[i] = res.RMS
}

// Complete reports whether every task has been recorded.
func (s *Sink) Complete() bool { return s.pending == 0 }

// Motion returns the assembled motion matrix, one row per task in
// enumeration order. It is only valid after the pipeline has drained.
func (s *Sink) Motion() (*mat.Dense, error) {
	if s.pending != 0 {
		return nil, fmt.Errorf("motion matrix incomplete: %d tasks unresolved", s.pending)
	}
	return s.motion, nil
}

// Stats returns the number of converged tasks, the total iteration
// count across all tasks, and the mean final residual RMS.
func (s *Sink) Stats() (converged, iterations int, meanRMS float64) {
	return s.converged, s.iterations, stat.Mean(s.rms, nil)
}
