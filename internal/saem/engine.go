/*
Package saem estimates the population model of social discounting with the
Stochastic Approximation EM algorithm.

Individual parameters are phi_i = mu + eta_i with eta_i ~ N(0, Omega) and
responses y_ij = f(phi_i, x_ij) + g(f)*eps_ij. Each iteration k

 1. advances one Markov chain per subject (and per chain) with three
    Metropolis-Hastings kernels, in parallel over subjects;
 2. waits for every subject (barrier);
 3. folds the sufficient statistics S1 = sum(phi), S2 = sum(phi*phi.T) and
    S3 = sum((y-f)²) into their stochastic approximations in subject order,
    s += gamma_k*(S - s), with gamma_k = 1 for the K1 exploration iterations
    and 1/(k-K1+1) during the K2 smoothing iterations;
 4. sets mu, Omega and the error parameters to the maximisers given s.

After the loop the engine computes per-subject MAP estimates, linearized
standard errors and log-likelihood, and an importance sampling estimate of
the log-likelihood.

All randomness comes from randstream sub-streams keyed by iteration, subject
and chain, and the reduction runs in a fixed order, so results are
bit-identical for a seed regardless of the number of workers.
*/
package saem

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HamletTheHamster/social-discounting/internal/checkpoint"
	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/logging"
	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/randstream"
)

// Sink receives a checkpoint of the run every CheckpointEvery iterations.
type Sink func(*checkpoint.State) error

// Option customises an Engine.
type Option func(*Engine)

// WithSink replaces the checkpoint file writer with sink. Checkpoints are
// then taken every CheckpointEvery iterations even without a path.
func WithSink(sink Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// Engine runs SAEM for one structural model and configuration. An Engine
// holds no run state and may be reused.
type Engine struct {
	h       model.Hyperbolic
	cfg     Config
	log     *zap.Logger
	streams randstream.Source
	sink    Sink
}

// New validates cfg and returns an engine.
func New(
	h model.Hyperbolic,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) (
	*Engine, error,
) {
	if !(h.K > 0) {
		return nil, fmt.Errorf("%w: scale constant must be positive, got %g", errs.ErrInvalidConfiguration, h.K)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		h:       h,
		cfg:     cfg,
		log:     logging.OrNop(log),
		streams: randstream.New(cfg.Seed),
	}
	if cfg.CheckpointPath != "" {
		path, codec := cfg.CheckpointPath, cfg.CheckpointCodec
		e.sink = func(st *checkpoint.State) error {
			return checkpoint.WriteFile(path, codec, st)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run estimates the population model from every subject of table.
func (e *Engine) Run(ctx context.Context, table *data.Table) (*Result, error) {
	subjects, err := e.subjects(table)
	if err != nil {
		return nil, err
	}
	return e.loop(ctx, subjects, e.initialState(subjects))
}

// Resume continues the run captured by cp on the same table.
func (e *Engine) Resume(ctx context.Context, table *data.Table, cp *checkpoint.State) (*Result, error) {
	subjects, err := e.subjects(table)
	if err != nil {
		return nil, err
	}
	st, err := e.restore(cp, subjects)
	if err != nil {
		return nil, err
	}
	e.log.Info("resuming saem run", zap.Int("iteration", st.iteration))
	return e.loop(ctx, subjects, st)
}

func (e *Engine) subjects(table *data.Table) ([]*subject, error) {
	var out []*subject
	for _, s := range table.Subjects() {
		if s.NumObserved() == 0 {
			e.log.Warn("subject has no observed responses, skipping", zap.Int("subject", s.ID))
			continue
		}
		out = append(out, newSubject(s))
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: saem needs at least 2 subjects, got %d", errs.ErrInsufficientData, len(out))
	}
	for _, s := range out {
		if !e.h.InDomain(e.cfg.InitMean[1], s.x) {
			return nil, fmt.Errorf("%w: initial delta %g is outside the model domain of subject %d",
				errs.ErrInvalidConfiguration, e.cfg.InitMean[1], s.id)
		}
	}
	return out, nil
}

func (e *Engine) loop(ctx context.Context, subjects []*subject, st *state) (*Result, error) {
	total := e.cfg.iterations()
	stats := make([]subjectStat, len(subjects))
	e.log.Info("saem started",
		zap.Int("subjects", len(subjects)),
		zap.Int("k1", e.cfg.K1),
		zap.Int("k2", e.cfg.K2),
		zap.Int("chains", e.cfg.Chains),
		zap.Uint64("seed", e.cfg.Seed),
	)

	for k := st.iteration; k < total; k++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("saem cancelled before iteration %d: %w", k, err)
		}
		prec, ok := newPrecision(st.omega)
		if !ok {
			return nil, fmt.Errorf("%w: covariance is not positive definite at iteration %d", errs.ErrNumericDivergence, k)
		}
		p := &plan{
			iteration:  k,
			mu:         st.mu,
			prec:       prec,
			err:        st.err,
			coordScale: st.coordScale,
			jointScale: st.jointScale,
		}
		parallel(len(subjects), e.cfg.Workers, func(i int) {
			e.advance(p, st, i, subjects[i], &stats[i])
		})
		e.reduce(k, subjects, stats, st)
		st.iteration = k + 1

		if e.log.Core().Enabled(zap.DebugLevel) {
			e.log.Debug("saem iteration",
				zap.Int("iteration", k),
				zap.Float64("theta_mean", st.mu[0]),
				zap.Float64("delta_mean", st.mu[1]),
				zap.Float64s("error", st.err.Params()),
			)
		}
		if e.sink != nil && e.cfg.CheckpointEvery > 0 && st.iteration%e.cfg.CheckpointEvery == 0 && st.iteration < total {
			if err := e.sink(e.checkpointState(st, subjects)); err != nil {
				return nil, fmt.Errorf("failed to checkpoint iteration %d: %w", st.iteration, err)
			}
		}
	}

	return e.finish(ctx, subjects, st)
}
