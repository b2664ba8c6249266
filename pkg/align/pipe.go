package align

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dwislicealign/internal/models"
	"dwislicealign/pkg/predict"
	"dwislicealign/pkg/rigid"
)

// PipeConfig holds the optimizer settings for one registration worker.
// All translations are in voxel units, rotations in radians.
type PipeConfig struct {
	// MaxIter caps the Gauss-Newton iterations. Zero means no
	// refinement: the seed estimate passes through unchanged.
	MaxIter int

	// TolResidual stops iteration when the relative residual
	// improvement of an accepted step falls below it.
	TolResidual float64

	// TolStep stops iteration when an accepted step's parameter norm
	// falls below it.
	TolStep float64

	// MaxStepTrans and MaxStepRot clamp a single step's translation
	// and rotation magnitude.
	MaxStepTrans float64
	MaxStepRot   float64
}

// DefaultPipeConfig returns optimizer settings for a full refinement
// run. The CLI's effective iteration cap comes from its configuration,
// where refinement is off unless requested.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		MaxIter:      50,
		TolResidual:  1e-5,
		TolStep:      1e-4,
		MaxStepTrans: 3.0,
		MaxStepRot:   0.3,
	}
}

// Finite-difference steps per rigid parameter.
var fdSteps = [rigid.NumParams]float64{0.1, 0.1, 0.1, 0.01, 0.01, 0.01}

// Levenberg damping schedule for the normal equations.
const (
	dampInit   = 1e-3
	dampGrow   = 10.0
	dampShrink = 3.0
	dampMax    = 1e8
)

// minValidRatio bounds how far an accepted trajectory may shrink the
// in-domain voxel count relative to the seed estimate. The residual RMS
// is normalized over valid voxels, so without this bound a step that
// pushes poorly fitting voxels out of the model domain would score as
// an improvement.
const minValidRatio = 0.8

// Pipe is one registration worker. Each worker owns a private Pipe:
// the referenced volumes and predictors are shared read-only, the
// scratch buffers are not.
type Pipe struct {
	data *models.Volume4D
	grad *models.GradientTable
	pred *predict.Predictor

	// second echo, nil unless multiecho is enabled
	data2 *models.Volume4D
	pred2 *predict.Predictor

	nz, mb int
	cfg    PipeConfig

	// scratch, sized lazily per slice-group geometry
	acq    []float64 // acquired intensities, both echoes concatenated
	pred1  []float64
	valid  []bool
	res    []float64
	resP   []float64
	resM   []float64
	resT   []float64
	basis  []float64
	basis2 []float64
	jac    *mat.Dense
}

// NewPipe builds a worker over shared read-only inputs. Mask handling
// lives in the predictor.
func NewPipe(data *models.Volume4D, grad *models.GradientTable,
	pred *predict.Predictor, mb int, cfg PipeConfig) *Pipe {
	return &Pipe{
		data:  data,
		grad:  grad,
		pred:  pred,
		nz:    data.Nz,
		mb:    mb,
		cfg:   cfg,
		basis: make([]float64, pred.NumCoef()),
	}
}

// SetMultiecho attaches the second echo's acquired data and predictor.
// Dimension checks happen at pipeline construction.
func (p *Pipe) SetMultiecho(data2 *models.Volume4D, pred2 *predict.Predictor) {
	p.data2 = data2
	p.pred2 = pred2
	p.basis2 = make([]float64, pred2.NumCoef())
}

// taskState captures what Run needs per evaluation of one task.
type taskState struct {
	slices []int
	dir    [3]float64
	shell  int
	shell2 int
	n      int // residual length per echo
}

// Run refines one task's motion estimate. It never fails: numerical
// degeneracies fall back to the best estimate reached so far.
func (p *Pipe) Run(task Task) Result {
	st := p.prepare(task)

	params := task.Init
	res := Result{Task: task, Motion: params}

	rms, nvalid := p.residual(st, params, p.res)
	res.RMS = rms
	if p.cfg.MaxIter == 0 || nvalid == 0 {
		return res
	}

	minValid := int(minValidRatio * float64(nvalid))
	if minValid < 1 {
		minValid = 1
	}

	lambda := dampInit
	step := make([]float64, rigid.NumParams)

	for iter := 1; iter <= p.cfg.MaxIter; iter++ {
		p.jacobian(st, params)

		var jtj mat.SymDense
		jtj.SymOuterK(1, p.jac.T())
		jtr := mat.NewVecDense(rigid.NumParams, nil)
		jtr.MulVec(p.jac.T(), mat.NewVecDense(len(p.res), p.res))

		accepted := false
		for lambda <= dampMax {
			usedLambda := lambda
			delta, ok := solveStep(&jtj, jtr, usedLambda)
			if !ok {
				lambda *= dampGrow
				continue
			}
			copy(step, delta)
			clampStep(step, p.cfg.MaxStepTrans, p.cfg.MaxStepRot)

			trial := params
			for j := range trial {
				trial[j] += step[j]
			}
			trialRMS, trialValid := p.residual(st, trial, p.resT)
			if math.IsNaN(trialRMS) || trialValid < minValid || trialRMS >= rms {
				lambda *= dampGrow
				continue
			}

			improvement := (rms - trialRMS) / math.Max(rms, 1e-12)
			params = trial
			copy(p.res, p.resT)
			rms = trialRMS
			lambda = math.Max(lambda/dampShrink, 1e-12)
			accepted = true

			res.Motion = params
			res.Iterations = iter
			res.RMS = rms

			// A heavily damped step is necessarily tiny, so its
			// improvement says nothing about closeness to the
			// optimum. Only a near-undamped step may declare
			// convergence; otherwise keep iterating while the
			// damping relaxes.
			if usedLambda <= dampInit &&
				(improvement < p.cfg.TolResidual || floats.Norm(step, 2) < p.cfg.TolStep) {
				res.Converged = true
			}
			break
		}
		if !accepted || res.Converged {
			// No damping level produced an improving step, or the
			// convergence criterion fired: emit current best.
			break
		}
	}
	return res
}

// prepare resolves the task's slice-group geometry, gradient direction
// and shell indices, and sizes the scratch buffers.
func (p *Pipe) prepare(task Task) taskState {
	st := taskState{
		slices: GroupSlices(p.nz, p.mb, task.Group),
		dir:    p.grad.Rows[task.Volume].Dir,
	}
	bval := p.grad.Rows[task.Volume].B
	st.shell = p.pred.ShellOf(bval)
	if p.pred2 != nil {
		st.shell2 = p.pred2.ShellOf(bval)
	}
	st.n = len(st.slices) * p.data.Nx * p.data.Ny

	total := st.n
	if p.data2 != nil {
		total *= 2
	}
	if len(p.acq) != total {
		p.acq = make([]float64, total)
		p.pred1 = make([]float64, st.n)
		p.valid = make([]bool, st.n)
		p.res = make([]float64, total)
		p.resP = make([]float64, total)
		p.resM = make([]float64, total)
		p.resT = make([]float64, total)
		p.jac = mat.NewDense(total, rigid.NumParams, nil)
	}

	p.gather(p.data, task.Volume, st.slices, p.acq[:st.n])
	if p.data2 != nil {
		p.gather(p.data2, task.Volume, st.slices, p.acq[st.n:])
	}
	return st
}

// gather copies the acquired slice-group intensities into out.
func (p *Pipe) gather(vol *models.Volume4D, v int, slices []int, out []float64) {
	nx, ny := vol.Nx, vol.Ny
	for si, z := range slices {
		base := si * nx * ny
		for y := 0; y < ny; y++ {
			row := vol.Index(0, y, z, v)
			copy(out[base+y*nx:base+(y+1)*nx], vol.Data[row:row+nx])
		}
	}
}

// residual fills out with acquired-minus-predicted over the task's
// slice-group (both echoes under the shared transform when multiecho
// is active). Invalid voxels contribute zero. Returns the RMS over
// valid voxels and their count.
func (p *Pipe) residual(st taskState, params rigid.Params, out []float64) (float64, int) {
	tr := rigid.NewTransform(params, p.pred.Centre())

	nvalid := p.echoResidual(p.pred, tr, st, st.shell, p.basis, p.acq[:st.n], out[:st.n])
	if p.pred2 != nil {
		nvalid += p.echoResidual(p.pred2, tr, st, st.shell2, p.basis2, p.acq[st.n:], out[st.n:])
	}
	if nvalid == 0 {
		return 0, 0
	}
	ss := floats.Dot(out, out)
	return math.Sqrt(ss / float64(nvalid)), nvalid
}

func (p *Pipe) echoResidual(pr *predict.Predictor, tr *rigid.Transform, st taskState,
	shell int, basis, acq, out []float64) int {
	pr.PredictSlices(tr, st.dir, shell, st.slices, p.pred1, p.valid, basis)
	nvalid := 0
	for i := range out {
		if p.valid[i] {
			out[i] = acq[i] - p.pred1[i]
			nvalid++
		} else {
			out[i] = 0
		}
	}
	return nvalid
}

// jacobian fills p.jac with central-difference derivatives of the
// residual with respect to each rigid parameter.
func (p *Pipe) jacobian(st taskState, params rigid.Params) {
	for j := 0; j < rigid.NumParams; j++ {
		h := fdSteps[j]
		plus, minus := params, params
		plus[j] += h
		minus[j] -= h
		p.residual(st, plus, p.resP)
		p.residual(st, minus, p.resM)
		inv := 1 / (2 * h)
		for i := range p.resP {
			p.jac.Set(i, j, (p.resP[i]-p.resM[i])*inv)
		}
	}
}

// solveStep solves the Marquardt-damped normal equations
// (JᵀJ + λ·diag(JᵀJ))·δ = -Jᵀr. ok is false when the damped system
// is still not positive definite or the step is non-finite.
func solveStep(jtj *mat.SymDense, jtr *mat.VecDense, lambda float64) ([]float64, bool) {
	n := jtj.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(jtj)
	for i := 0; i < n; i++ {
		damped.SetSym(i, i, jtj.At(i, i)+lambda*(jtj.At(i, i)+1e-12))
	}

	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return nil, false
	}
	var delta mat.VecDense
	if err := chol.SolveVecTo(&delta, jtr); err != nil {
		return nil, false
	}
	step := make([]float64, n)
	for i := 0; i < n; i++ {
		v := -delta.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		step[i] = v
	}
	return step, true
}

// clampStep scales the step down so its translation and rotation parts
// stay within the configured per-iteration bounds.
func clampStep(step []float64, maxTrans, maxRot float64) {
	scale := 1.0
	if tn := floats.Norm(step[:3], 2); tn > maxTrans {
		scale = maxTrans / tn
	}
	if rn := floats.Norm(step[3:], 2); rn > maxRot && maxRot/rn < scale {
		scale = maxRot / rn
	}
	if scale < 1 {
		floats.Scale(scale, step)
	}
}
