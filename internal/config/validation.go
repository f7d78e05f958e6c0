package config

import (
	"fmt"
	"math"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
)

// Validate checks cfg before any fitting starts. Every failure wraps
// errs.ErrInvalidConfiguration.
func Validate(cfg Config) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errs.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	if cfg.K1 < 0 || cfg.K2 < 0 {
		return invalid("K1 and K2 must be non-negative, got %d and %d", cfg.K1, cfg.K2)
	}
	if cfg.K1+cfg.K2 == 0 {
		return invalid("K1+K2 must be positive")
	}
	if cfg.Chains < 1 {
		return invalid("n_chains must be at least 1, got %d", cfg.Chains)
	}
	if cfg.ImportanceSamples < 1 {
		return invalid("n_importance_samples must be positive, got %d", cfg.ImportanceSamples)
	}
	if err := validateBounds("theta_bounds", cfg.ThetaBounds); err != nil {
		return err
	}
	if err := validateBounds("delta_bounds", cfg.DeltaBounds); err != nil {
		return err
	}
	if !(cfg.ScaleK > 0) || !finite(cfg.ScaleK) {
		return invalid("scale_constant_k must be positive, got %g", cfg.ScaleK)
	}
	if !finite(cfg.OutlierThetaMax) || !finite(cfg.OutlierDeltaMax) {
		return invalid("outlier thresholds must be finite")
	}
	if !finite(cfg.InitThetaMean) || !finite(cfg.InitDeltaMean) {
		return invalid("initial fixed effects must be finite")
	}

	switch cfg.ErrorModel {
	case "constant":
		if !(cfg.InitErrorA > 0) {
			return invalid("init_error_a must be positive for the constant error model")
		}
	case "proportional":
		if !(cfg.InitErrorB > 0) {
			return invalid("init_error_b must be positive for the proportional error model")
		}
	case "combined":
		if !(cfg.InitErrorA > 0) || !(cfg.InitErrorB > 0) {
			return invalid("init_error_a and init_error_b must be positive for the combined error model")
		}
	default:
		return invalid("unknown error_model %q", cfg.ErrorModel)
	}

	switch cfg.CovarianceModel {
	case "diagonal", "full":
	default:
		return invalid("unknown covariance_model %q", cfg.CovarianceModel)
	}
	if cfg.AnnealingFraction < 0 || cfg.AnnealingFraction > 1 {
		return invalid("annealing_fraction must lie in [0, 1], got %g", cfg.AnnealingFraction)
	}
	if cfg.Workers < 1 {
		return invalid("workers must be at least 1, got %d", cfg.Workers)
	}

	if err := validateSolver(cfg.Solver, cfg.ThetaBounds, cfg.DeltaBounds); err != nil {
		return err
	}

	if cfg.MCMC.Prior < 0 || cfg.MCMC.Coordinate < 0 || cfg.MCMC.Joint < 0 {
		return invalid("mcmc step counts must be non-negative")
	}
	if cfg.MCMC.Prior+cfg.MCMC.Coordinate+cfg.MCMC.Joint == 0 {
		return invalid("at least one mcmc kernel must run")
	}

	switch cfg.Checkpoint.Codec {
	case "zstd", "lz4", "none":
	default:
		return invalid("unknown checkpoint codec %q", cfg.Checkpoint.Codec)
	}
	if cfg.Checkpoint.Path != "" && cfg.Checkpoint.Every < 1 {
		return invalid("checkpoint.every must be positive when a checkpoint path is set")
	}

	return nil
}

func validateSolver(s Solver, theta, delta Bounds) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: solver: %s", errs.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	switch s.Method {
	case "lm":
		if !theta.Contains(s.InitTheta) || !delta.Contains(s.InitDelta) {
			return invalid("initial guess (%g, %g) lies outside the bounds", s.InitTheta, s.InitDelta)
		}
	case "gn", "lm-unbounded":
	default:
		return invalid("unknown method %q", s.Method)
	}
	if s.MaxIterations < 1 || s.GNIterations < 1 {
		return invalid("iteration caps must be positive, got %d and %d", s.MaxIterations, s.GNIterations)
	}
	if s.Tau <= 0 || s.GradTol < 0 || s.StepTol < 0 || s.ObjectiveTol < 0 {
		return invalid("tau must be positive and tolerances non-negative")
	}
	return nil
}

func validateBounds(name string, b Bounds) error {
	if !finite(b.Lo) || !finite(b.Hi) || b.Lo > b.Hi {
		return fmt.Errorf("%w: %s must satisfy lo <= hi, got [%g, %g]", errs.ErrInvalidConfiguration, name, b.Lo, b.Hi)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
