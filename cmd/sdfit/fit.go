package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HamletTheHamster/social-discounting/internal/checkpoint"
	"github.com/HamletTheHamster/social-discounting/internal/config"
	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/fit"
	"github.com/HamletTheHamster/social-discounting/internal/logging"
	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/outlier"
	"github.com/HamletTheHamster/social-discounting/internal/plotting"
	"github.com/HamletTheHamster/social-discounting/internal/result"
	"github.com/HamletTheHamster/social-discounting/internal/saem"
)

type fitFlags struct {
	data, config, out, note string
	resume, checkpoint      string
	level                   string
	dev, plots              bool
	gnuplot                 int

	seed                    uint64
	k1, k2, chains, workers int
	samples                 int
	errorModel, covariance  string
	method                  string
	thetaMax, deltaMax      float64
	scaleK                  float64
}

func parseFit(args []string) (fitFlags, config.Config, error) {
	var f fitFlags
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	fs.StringVar(&f.data, "data", "", "long-format CSV: subject_id,predictor,response")
	fs.StringVar(&f.config, "config", "", "YAML configuration file")
	fs.StringVar(&f.out, "out", "results", "root folder of the run folders")
	fs.StringVar(&f.note, "note", "", "note to append folder name")
	fs.StringVar(&f.resume, "resume", "", "resume the population fit from this checkpoint")
	fs.StringVar(&f.checkpoint, "checkpoint", "", "write checkpoints to this file")
	fs.StringVar(&f.level, "log", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&f.dev, "dev", false, "human readable logs")
	fs.BoolVar(&f.plots, "plots", false, "save trace and per-subject fit plots")
	fs.IntVar(&f.gnuplot, "gnuplot", 0, "open a gnuplot window for this subject id, 0 for none")

	fs.Uint64Var(&f.seed, "seed", 0, "random seed")
	fs.IntVar(&f.k1, "k1", 0, "exploration iterations")
	fs.IntVar(&f.k2, "k2", 0, "smoothing iterations")
	fs.IntVar(&f.chains, "chains", 0, "MCMC chains per subject")
	fs.IntVar(&f.workers, "workers", 0, "worker goroutines")
	fs.IntVar(&f.samples, "samples", 0, "importance samples per subject")
	fs.StringVar(&f.errorModel, "error", "", "residual error model: constant, proportional, combined")
	fs.StringVar(&f.covariance, "covariance", "", "random effect covariance: diagonal, full")
	fs.StringVar(&f.method, "method", "", "per-subject solver: lm, gn, lm-unbounded")
	fs.Float64Var(&f.thetaMax, "theta-max", 0, "outlier threshold on theta")
	fs.Float64Var(&f.deltaMax, "delta-max", 0, "outlier threshold on delta")
	fs.Float64Var(&f.scaleK, "k", 0, "scale constant of the curve")
	if err := fs.Parse(args); err != nil {
		return f, config.Config{}, err
	}
	if f.data == "" {
		return f, config.Config{}, fmt.Errorf("fit: -data is required")
	}
	if f.gnuplot != 0 && !plotting.GnuplotAvailable {
		return f, config.Config{}, fmt.Errorf("fit: -gnuplot: %w", plotting.ErrNoGnuplot)
	}

	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return f, cfg, err
		}
	}
	// Only flags given on the command line override the file.
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "seed":
			cfg.Seed = f.seed
		case "k1":
			cfg.K1 = f.k1
		case "k2":
			cfg.K2 = f.k2
		case "chains":
			cfg.Chains = f.chains
		case "workers":
			cfg.Workers = f.workers
		case "samples":
			cfg.ImportanceSamples = f.samples
		case "error":
			cfg.ErrorModel = f.errorModel
		case "covariance":
			cfg.CovarianceModel = f.covariance
		case "method":
			cfg.Solver.Method = f.method
		case "theta-max":
			cfg.OutlierThetaMax = f.thetaMax
		case "delta-max":
			cfg.OutlierDeltaMax = f.deltaMax
		case "k":
			cfg.ScaleK = f.scaleK
		case "checkpoint":
			cfg.Checkpoint.Path = f.checkpoint
		}
	})
	if err := config.Validate(cfg); err != nil {
		return f, cfg, err
	}
	return f, cfg, nil
}

func runFit(ctx context.Context, args []string) error {
	f, cfg, err := parseFit(args)
	if err != nil {
		return err
	}
	log, err := logging.New(f.level, f.dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	in, err := os.Open(f.data)
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	table, err := data.ReadCSV(in)
	in.Close()
	if err != nil {
		return err
	}
	log.Info("data loaded",
		zap.String("path", f.data),
		zap.Int("subjects", table.Len()),
		zap.Int("observations", table.NumObservations()),
	)

	h := model.NewHyperbolic(cfg.ScaleK)
	opts, err := fit.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	estimates, err := fit.FitAll(ctx, table, h, opts, cfg.Workers, log)
	if err != nil {
		return err
	}
	outcome := outlier.Filter(estimates.All(), outlier.ThresholdsFromConfig(cfg))
	for _, ex := range outcome.Excluded {
		log.Info("subject excluded", zap.Int("subject", ex.SubjectID), zap.String("reason", string(ex.Reason)))
	}

	scfg, err := saem.FromConfig(cfg)
	if err != nil {
		return err
	}
	engine, err := saem.New(h, scfg, log)
	if err != nil {
		return err
	}
	kept := table.Subset(outcome.KeptIDs())
	var res *saem.Result
	if f.resume != "" {
		st, err := checkpoint.ReadFile(f.resume)
		if err != nil {
			return err
		}
		log.Info("resuming population fit", zap.String("checkpoint", f.resume), zap.Int("iteration", st.Iteration))
		res, err = engine.Resume(ctx, kept, st)
		if err != nil {
			return err
		}
	} else if res, err = engine.Run(ctx, kept); err != nil {
		return err
	}

	rows := result.Aggregate(table, estimates, outcome, res)
	dir := logpath(f.out, f.note, time.Now())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run folder: %w", err)
	}
	if err := writeResults(dir, cfg, estimates, res, rows); err != nil {
		return err
	}
	if f.plots {
		if err := savePlots(filepath.Join(dir, "plots"), h, table, rows, res, cfg.K1); err != nil {
			return err
		}
	}
	if err := writeLog(dir, runLog(f, cfg, rows, res)); err != nil {
		return err
	}
	log.Info("results written", zap.String("dir", dir))

	if f.gnuplot != 0 {
		return showSubject(h, table, rows, f.gnuplot)
	}
	return nil
}

func writeResults(
	dir string,
	cfg config.Config,
	estimates *fit.Estimates,
	res *saem.Result,
	rows []result.Row,
) error {
	raw, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	outputs := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"lm.csv", func(f *os.File) error { return result.WriteLM(f, estimates.All()) }},
		{"saem.csv", func(f *os.File) error { return result.WriteSAEM(f, res) }},
		{"population.csv", func(f *os.File) error { return result.WritePopulation(f, res.Population) }},
		{"comparison.csv", func(f *os.File) error { return result.WriteComparison(f, rows) }},
	}
	for _, o := range outputs {
		if err := create(dir, o.name, o.write); err != nil {
			return err
		}
	}
	return nil
}

// curves are the fits drawn for one subject.
func curves(row result.Row) []plotting.Curve {
	var cs []plotting.Curve
	if row.LM != nil {
		cs = append(cs, plotting.Curve{Label: "least squares", Theta: row.LM.Theta, Delta: row.LM.Delta})
	}
	if row.SAEM != nil {
		cs = append(cs, plotting.Curve{Label: "SAEM MAP", Theta: row.SAEM.ThetaMAP, Delta: row.SAEM.DeltaMAP})
	}
	return cs
}

func savePlots(
	dir string,
	h model.Hyperbolic,
	table *data.Table,
	rows []result.Row,
	res *saem.Result,
	k1 int,
) error {
	plots, names, err := plotting.Trace(res.Trace, k1)
	if err != nil {
		return err
	}
	for i, p := range plots {
		if err := plotting.Save(p, dir, names[i]); err != nil {
			return err
		}
	}
	for _, row := range rows {
		s, _ := table.Subject(row.SubjectID)
		if s.NumObserved() == 0 {
			continue
		}
		p, err := plotting.Subject(h, s, curves(row)...)
		if err != nil {
			return err
		}
		if err := plotting.Save(p, filepath.Join(dir, "fits"), "subject_"+strconv.Itoa(row.SubjectID)); err != nil {
			return err
		}
	}
	return nil
}

func showSubject(h model.Hyperbolic, table *data.Table, rows []result.Row, id int) error {
	s, ok := table.Subject(id)
	if !ok {
		return fmt.Errorf("gnuplot: no subject %d", id)
	}
	for _, row := range rows {
		if row.SubjectID == id {
			return plotting.Show("subject "+strconv.Itoa(id), plotting.Groups(h, s, curves(row)...), "")
		}
	}
	return plotting.Show("subject "+strconv.Itoa(id), plotting.Groups(h, s), "")
}

func runLog(f fitFlags, cfg config.Config, rows []result.Row, res *saem.Result) []string {
	pop := res.Population
	lines := []string{
		"Command: " + commandLine(),
		"Data: " + f.data,
		fmt.Sprintf("Seed: %d", cfg.Seed),
		fmt.Sprintf("K1: %d, K2: %d, chains: %d", cfg.K1, cfg.K2, cfg.Chains),
		"Error model: " + cfg.ErrorModel + ", covariance: " + cfg.CovarianceModel,
	}
	counts := result.Count(rows)
	for _, status := range []result.Status{
		result.Population, result.Fitted, result.Outlier, result.NotConverged, result.InsufficientData,
	} {
		lines = append(lines, fmt.Sprintf("Subjects %s: %d", status, counts[status]))
	}
	lines = append(lines,
		fmt.Sprintf("theta mean: %g (se %g)", pop.ThetaMean, pop.SE.ThetaMean),
		fmt.Sprintf("delta mean: %g (se %g)", pop.DeltaMean, pop.SE.DeltaMean),
		fmt.Sprintf("log-likelihood (lin): %g, (is): %g", pop.LogLikLin, pop.LogLikIS),
		fmt.Sprintf("projections to positive definite: %d", res.Projections),
	)
	if f.resume != "" {
		lines = append(lines, "Resumed from: "+f.resume)
	}
	return lines
}
