// Command dwislicealign registers a multi-shell spherical harmonics
// signal prediction to DWI slices or volumes, estimating per-slice
// rigid subject motion.
//
// Usage:
//
//	dwislicealign [options] -grad table.txt data.yaml mssh.yaml motion.txt
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dwislicealign/internal/models"
	"dwislicealign/pkg/align"
	"dwislicealign/pkg/config"
	"dwislicealign/pkg/imgio"
	"dwislicealign/pkg/ssp"
)

func main() {
	gradPath := flag.String("grad", "", "gradient table (x y z b per DWI volume)")
	maskPath := flag.String("mask", "", "image mask")
	mb := flag.Int("mb", 0, "multiband factor (default = 0; v2v registration)")
	sspSpec := flag.String("ssp", "", "SSP vector file or slice thickness in voxel units (default = 1)")
	initPath := flag.String("init", "", "motion initialisation matrix")
	maxiter := flag.Int("maxiter", -1, "maximum no. iterations for the registration")
	echoData := flag.String("multiecho-data", "", "2nd slice readout in multiecho acquisitions")
	echoMSSH := flag.String("multiecho-mssh", "", "MSSH prediction for the 2nd readout")
	workers := flag.Int("workers", 0, "registration worker count (default: all CPUs)")
	configPath := flag.String("config", "dwislicealign.yaml", "run configuration file")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: dwislicealign [options] -grad table.txt <data> <mssh> <out>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	dataPath, msshPath, outPath := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal(logger, "loading configuration", err)
	}
	if cfg.Output.Verbose && !*verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	// input data
	data, err := imgio.LoadVolume4D(dataPath)
	if err != nil {
		fatal(logger, "loading DWI data", err)
	}
	if *gradPath == "" {
		fatal(logger, "gradient table", fmt.Errorf("-grad is required"))
	}
	grad, err := imgio.LoadGradients(*gradPath)
	if err != nil {
		fatal(logger, "loading gradient table", err)
	}

	// input template
	mssh, err := imgio.LoadMSSH(msshPath)
	if err != nil {
		fatal(logger, "loading MSSH prediction", err)
	}

	opts := align.Options{
		MB:         *mb,
		Workers:    cfg.Pipeline.Workers,
		QueueDepth: cfg.Pipeline.QueueDepth,
		Logger:     logger,
		Pipe: align.PipeConfig{
			MaxIter:      cfg.Registration.MaxIter,
			TolResidual:  cfg.Registration.TolResidual,
			TolStep:      cfg.Registration.TolStep,
			MaxStepTrans: cfg.Registration.MaxStepTrans,
			MaxStepRot:   cfg.Registration.MaxStepRot,
		},
	}
	if *workers > 0 {
		opts.Workers = *workers
	}
	if *maxiter >= 0 {
		opts.Pipe.MaxIter = *maxiter
	}

	var mask *models.Mask
	if *maskPath != "" {
		mask, err = imgio.LoadMask(*maskPath)
		if err != nil {
			fatal(logger, "loading mask", err)
		}
	}

	if err := run(logger, cfg, data, mssh, mask, grad, opts, *sspSpec, *initPath, *echoData, *echoMSSH, outPath); err != nil {
		fatal(logger, "registration", err)
	}
}

func run(logger *slog.Logger, cfg *config.Config,
	data *models.Volume4D, mssh *models.MSSH, mask *models.Mask, grad *models.GradientTable,
	opts align.Options, sspSpec, initPath, echoData, echoMSSH, outPath string) error {

	// SSP
	kernel, err := ssp.New(cfg.Registration.SSPWidth)
	if err != nil {
		return fmt.Errorf("configured SSP width: %w", err)
	}
	if sspSpec != "" {
		kernel, err = ssp.Parse(sspSpec)
		if err != nil {
			return err
		}
	}
	opts.Kernel = kernel

	// motion initialisation
	if initPath != "" {
		initMat, err := imgio.LoadMatrix(initPath)
		if err != nil {
			return fmt.Errorf("loading motion initialisation: %w", err)
		}
		opts.Init = initMat
	}

	pipeline, err := align.New(data, mssh, mask, grad, opts)
	if err != nil {
		return err
	}

	// 2nd echo
	if (echoData == "") != (echoMSSH == "") {
		return fmt.Errorf("multiecho requires both -multiecho-data and -multiecho-mssh")
	}
	if echoData != "" {
		data2, err := imgio.LoadVolume4D(echoData)
		if err != nil {
			return fmt.Errorf("loading multiecho data: %w", err)
		}
		mssh2, err := imgio.LoadMSSH(echoMSSH)
		if err != nil {
			return fmt.Errorf("loading multiecho MSSH prediction: %w", err)
		}
		if err := pipeline.SetMultiecho(data2, mssh2); err != nil {
			return err
		}
	}

	logger.Info("starting slice-to-volume registration",
		"volumes", data.Nv, "slices", data.Nz, "tasks", pipeline.TaskCount())

	start := time.Now()
	motion, err := pipeline.Run(context.Background())
	if err != nil {
		return err
	}
	logger.Info("registration finished", "elapsed", time.Since(start).Round(time.Millisecond))

	if err := imgio.SaveMatrix(outPath, motion); err != nil {
		return fmt.Errorf("saving motion parameters: %w", err)
	}
	logger.Info("motion parameters saved", "path", outPath)
	return nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
