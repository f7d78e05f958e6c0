package saem

import (
	"fmt"

	"github.com/HamletTheHamster/social-discounting/internal/checkpoint"
	"github.com/HamletTheHamster/social-discounting/internal/config"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// Covariance is the structure of the random effect covariance.
type Covariance string

const (
	Diagonal Covariance = "diagonal"
	Full     Covariance = "full"
)

// Kernels is the number of sub-steps of each MCMC kernel per iteration.
type Kernels struct {
	// Prior draws independent proposals from the population distribution.
	Prior int
	// Coordinate is a random walk on one parameter at a time.
	Coordinate int
	// Joint is a random walk on both parameters at once.
	Joint int
}

// Config drives one SAEM run.
type Config struct {
	K1, K2            int
	Chains            int
	Seed              uint64
	ImportanceSamples int
	// MAP estimates are constrained to these boxes.
	ThetaBounds, DeltaBounds config.Bounds
	InitMean                 [2]float64
	InitOmega                [2][2]float64
	InitError                model.ErrorModel
	Covariance               Covariance
	// AnnealingFraction of K1 during which variances shrink by at most
	// annealingRate per iteration.
	AnnealingFraction float64
	Kernels           Kernels
	Workers           int

	CheckpointPath  string
	CheckpointEvery int
	CheckpointCodec checkpoint.Codec
}

// DefaultConfig is the configuration of config.Default.
func DefaultConfig() Config {
	cfg, err := FromConfig(config.Default())
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromConfig extracts the engine settings from the pipeline configuration.
func FromConfig(c config.Config) (Config, error) {
	et, err := model.ParseErrorType(c.ErrorModel)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", errs.ErrInvalidConfiguration, err)
	}
	codec, err := checkpoint.ParseCodec(c.Checkpoint.Codec)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", errs.ErrInvalidConfiguration, err)
	}
	cfg := Config{
		K1:                c.K1,
		K2:                c.K2,
		Chains:            c.Chains,
		Seed:              c.Seed,
		ImportanceSamples: c.ImportanceSamples,
		ThetaBounds:       c.ThetaBounds,
		DeltaBounds:       c.DeltaBounds,
		InitMean:          [2]float64{c.InitThetaMean, c.InitDeltaMean},
		InitOmega:         [2][2]float64{{1, 0}, {0, 1}},
		InitError:         model.ErrorModel{Type: et, A: c.InitErrorA, B: c.InitErrorB},
		Covariance:        Covariance(c.CovarianceModel),
		AnnealingFraction: c.AnnealingFraction,
		Kernels: Kernels{
			Prior:      c.MCMC.Prior,
			Coordinate: c.MCMC.Coordinate,
			Joint:      c.MCMC.Joint,
		},
		Workers:         c.Workers,
		CheckpointPath:  c.Checkpoint.Path,
		CheckpointEvery: c.Checkpoint.Every,
		CheckpointCodec: codec,
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: saem: %s", errs.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	switch {
	case c.K1 < 0 || c.K2 < 0 || c.K1+c.K2 == 0:
		return invalid("need K1, K2 >= 0 and K1+K2 > 0, got %d and %d", c.K1, c.K2)
	case c.Chains < 1:
		return invalid("need at least one chain")
	case c.ImportanceSamples < 1:
		return invalid("need at least one importance sample")
	case c.ThetaBounds.Lo > c.ThetaBounds.Hi || c.DeltaBounds.Lo > c.DeltaBounds.Hi:
		return invalid("inverted bounds")
	case c.Kernels.Prior < 0 || c.Kernels.Coordinate < 0 || c.Kernels.Joint < 0:
		return invalid("negative kernel counts")
	case c.Kernels.Prior+c.Kernels.Coordinate+c.Kernels.Joint == 0:
		return invalid("no mcmc kernel")
	case c.AnnealingFraction < 0 || c.AnnealingFraction > 1:
		return invalid("annealing fraction %g outside [0, 1]", c.AnnealingFraction)
	case c.CheckpointPath != "" && c.CheckpointEvery < 1:
		return invalid("checkpoint path without a period")
	}
	if c.Covariance != Diagonal && c.Covariance != Full {
		return invalid("unknown covariance model %q", c.Covariance)
	}
	for _, p := range c.InitError.Params() {
		if !(p > 0) {
			return invalid("initial error parameters must be positive")
		}
	}
	if _, ok := choleskyLower(c.InitOmega); !ok {
		return invalid("initial covariance is not positive definite")
	}
	return nil
}

func (c Config) iterations() int {
	return c.K1 + c.K2
}

// annealingIterations is the number of leading iterations with bounded
// variance shrinkage.
func (c Config) annealingIterations() int {
	return int(c.AnnealingFraction * float64(c.K1))
}

// stepSize is the stochastic approximation gain at 0-based iteration k.
func (c Config) stepSize(k int) float64 {
	if k < c.K1 {
		return 1
	}
	return 1 / float64(k-c.K1+1)
}
