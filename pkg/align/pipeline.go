package align

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"dwislicealign/internal/models"
	"dwislicealign/pkg/predict"
	"dwislicealign/pkg/ssp"
)

// Options configures a registration run.
type Options struct {
	// MB is the multiband factor; 0 or the slice count selects
	// volume-to-volume registration.
	MB int

	// Workers is the registration pool size; 0 means all CPUs.
	Workers int

	// QueueDepth bounds the task and result channels; 0 derives it
	// from Workers.
	QueueDepth int

	// Init is an optional initial motion matrix (N x 6, N dividing
	// volumeCount x sliceCount). Nil seeds every task with identity.
	Init *mat.Dense

	// Kernel is the slice sensitivity profile; nil uses the default
	// one-voxel profile.
	Kernel *ssp.SSP

	// Pipe holds the optimizer settings. The zero value is replaced
	// by DefaultPipeConfig with MaxIter taken as given, so MaxIter=0
	// remains a pass-through run.
	Pipe PipeConfig

	// Logger receives run-level progress; nil uses slog.Default.
	Logger *slog.Logger
}

// Pipeline is a configured registration run: a task source, a pool of
// worker pipes and a result sink over bounded channels. All referenced
// buffers are read-only for the run's duration.
type Pipeline struct {
	data *models.Volume4D
	mssh *models.MSSH
	grad *models.GradientTable
	mask *models.Mask
	pred *predict.Predictor

	data2 *models.Volume4D
	pred2 *predict.Predictor

	mb     int
	opts   Options
	logger *slog.Logger
}

// New validates all inputs eagerly, before any registration work, and
// assembles the pipeline. Configuration errors are fatal for the run:
// no partial output is ever produced.
func New(data *models.Volume4D, mssh *models.MSSH, mask *models.Mask,
	grad *models.GradientTable, opts Options) (*Pipeline, error) {

	if err := grad.CheckVolumeMatch(data); err != nil {
		return nil, err
	}
	if err := mask.CheckSpatialMatch(data); err != nil {
		return nil, err
	}
	if err := mssh.CheckSpatialMatch(data); err != nil {
		return nil, err
	}
	mb, err := NormalizeMB(data.Nz, opts.MB)
	if err != nil {
		return nil, err
	}
	if opts.Init != nil {
		if _, err := NewSource(data.Nv, data.Nz, mb, opts.Init); err != nil {
			return nil, err
		}
	}

	if opts.Kernel == nil {
		opts.Kernel = ssp.Default()
	}
	pred, err := predict.NewPredictor(mssh, mask, opts.Kernel)
	if err != nil {
		return nil, err
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 2 * opts.Workers
	}
	def := DefaultPipeConfig()
	if opts.Pipe.TolResidual <= 0 {
		opts.Pipe.TolResidual = def.TolResidual
	}
	if opts.Pipe.TolStep <= 0 {
		opts.Pipe.TolStep = def.TolStep
	}
	if opts.Pipe.MaxStepTrans <= 0 {
		opts.Pipe.MaxStepTrans = def.MaxStepTrans
	}
	if opts.Pipe.MaxStepRot <= 0 {
		opts.Pipe.MaxStepRot = def.MaxStepRot
	}
	if opts.Pipe.MaxIter < 0 {
		return nil, fmt.Errorf("maximum iteration count must be non-negative, got %d", opts.Pipe.MaxIter)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		data:   data,
		mssh:   mssh,
		grad:   grad,
		mask:   mask,
		pred:   pred,
		mb:     mb,
		opts:   opts,
		logger: logger,
	}, nil
}

// SetMultiecho enables joint registration against a second echo. The
// second echo's data and prediction must match the primary pair's
// dimensions exactly.
func (p *Pipeline) SetMultiecho(data2 *models.Volume4D, mssh2 *models.MSSH) error {
	if err := p.data.CheckSameDims(data2); err != nil {
		return fmt.Errorf("multiecho data: %w", err)
	}
	if err := p.mssh.CheckSameDims(mssh2); err != nil {
		return fmt.Errorf("multiecho prediction: %w", err)
	}
	pred2, err := predict.NewPredictor(mssh2, p.mask, p.opts.Kernel)
	if err != nil {
		return fmt.Errorf("multiecho prediction: %w", err)
	}
	p.data2 = data2
	p.pred2 = pred2
	return nil
}

// TaskCount is the number of registration tasks the run will perform:
// volumeCount x (sliceCount / mb).
func (p *Pipeline) TaskCount() int {
	return p.data.Nv * GroupCount(p.data.Nz, p.mb)
}

// Run executes the full registration: one producer feeding a bounded
// task channel, a fixed pool of workers each owning a private Pipe, and
// a single collector draining a bounded result channel. Completion
// order is unconstrained; the sink reconciles results by task identity,
// so the output is deterministic regardless of scheduling.
func (p *Pipeline) Run(ctx context.Context) (*mat.Dense, error) {
	source, err := NewSource(p.data.Nv, p.data.Nz, p.mb, p.opts.Init)
	if err != nil {
		return nil, err
	}
	sink := NewSink(source.Total(), p.logger)

	tasks := make(chan Task, p.opts.QueueDepth)
	results := make(chan Result, p.opts.QueueDepth)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(tasks)
		for {
			t, ok := source.Next()
			if !ok {
				return nil
			}
			select {
			case tasks <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	var workers sync.WaitGroup
	for w := 0; w < p.opts.Workers; w++ {
		pipe := NewPipe(p.data, p.grad, p.pred, p.mb, p.opts.Pipe)
		if p.data2 != nil {
			pipe.SetMultiecho(p.data2, p.pred2)
		}
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for t := range tasks {
				select {
				case results <- pipe.Run(t):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		workers.Wait()
		close(results)
	}()

	for res := range results {
		sink.Consume(res)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	converged, iterations, meanRMS := sink.Stats()
	p.logger.Info("registration complete",
		"tasks", source.Total(),
		"converged", converged,
		"iterations", iterations,
		"mean_rms", meanRMS,
		"workers", p.opts.Workers)

	return sink.Motion()
}
