// Package config holds the recognised options of the fitting pipeline,
// their defaults and their validation.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Bounds is a closed interval [Lo, Hi].
type Bounds struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// Contains reports whether v lies in the interval.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lo && v <= b.Hi
}

// UnmarshalYAML accepts both the `[lo, hi]` form and a `{lo:, hi:}` mapping.
func (b *Bounds) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("bounds: want [lo, hi], got %d values", len(pair))
		}
		b.Lo, b.Hi = pair[0], pair[1]
		return nil
	}
	type plain Bounds
	return node.Decode((*plain)(b))
}

// MarshalYAML writes the `[lo, hi]` form.
func (b Bounds) MarshalYAML() (any, error) {
	return []float64{b.Lo, b.Hi}, nil
}

// Solver configures the per-subject least-squares fits.
type Solver struct {
	// Method is "lm" (bounded Levenberg-Marquardt), "gn" (unbounded
	// Gauss-Newton comparison) or "lm-unbounded".
	Method        string  `yaml:"method"`
	MaxIterations int     `yaml:"max_iterations"`
	// GNIterations caps the Gauss-Newton comparison mode.
	GNIterations  int     `yaml:"gn_max_iterations"`
	InitTheta     float64 `yaml:"init_theta"`
	InitDelta     float64 `yaml:"init_delta"`
	Tau           float64 `yaml:"tau"`
	GradTol       float64 `yaml:"grad_tol"`
	StepTol       float64 `yaml:"step_tol"`
	ObjectiveTol  float64 `yaml:"objective_tol"`
}

// MCMC sets the number of sub-steps of each kernel per SAEM iteration.
type MCMC struct {
	Prior      int `yaml:"prior"`
	Coordinate int `yaml:"coordinate"`
	Joint      int `yaml:"joint"`
}

// Checkpoint controls periodic snapshots of the SAEM state.
type Checkpoint struct {
	Path  string `yaml:"path"`
	Every int    `yaml:"every"`
	// Codec is "zstd", "lz4" or "none".
	Codec string `yaml:"codec"`
}

// Config is the full configuration surface.
type Config struct {
	K1                int        `yaml:"k1"`
	K2                int        `yaml:"k2"`
	Chains            int        `yaml:"n_chains"`
	Seed              uint64     `yaml:"seed"`
	ImportanceSamples int        `yaml:"n_importance_samples"`
	ThetaBounds       Bounds     `yaml:"theta_bounds"`
	DeltaBounds       Bounds     `yaml:"delta_bounds"`
	OutlierThetaMax   float64    `yaml:"outlier_theta_max"`
	OutlierDeltaMax   float64    `yaml:"outlier_delta_max"`
	ScaleK            float64    `yaml:"scale_constant_k"`
	InitThetaMean     float64    `yaml:"init_theta_mean"`
	InitDeltaMean     float64    `yaml:"init_delta_mean"`
	ErrorModel        string     `yaml:"error_model"`
	InitErrorA        float64    `yaml:"init_error_a"`
	InitErrorB        float64    `yaml:"init_error_b"`
	CovarianceModel   string     `yaml:"covariance_model"`
	AnnealingFraction float64    `yaml:"annealing_fraction"`
	// Workers bounds the goroutines used for per-subject work.
	Workers           int        `yaml:"workers"`
	Solver            Solver     `yaml:"solver"`
	MCMC              MCMC       `yaml:"mcmc"`
	Checkpoint        Checkpoint `yaml:"checkpoint"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		K1:                300,
		K2:                100,
		Chains:            1,
		Seed:              632545,
		ImportanceSamples: 5000,
		ThetaBounds:       Bounds{Lo: 0, Hi: 5},
		DeltaBounds:       Bounds{Lo: 0, Hi: 5},
		OutlierThetaMax:   3,
		OutlierDeltaMax:   2,
		ScaleK:            75,
		InitThetaMean:     1,
		InitDeltaMean:     1,
		ErrorModel:        "constant",
		InitErrorA:        1,
		InitErrorB:        1,
		CovarianceModel:   "diagonal",
		AnnealingFraction: 0.5,
		Workers:           runtime.GOMAXPROCS(0),
		Solver: Solver{
			Method:        "lm",
			MaxIterations: 1024,
			GNIterations:  50,
			InitTheta:     1,
			InitDelta:     1,
			Tau:           1e-3,
			GradTol:       1e-10,
			StepTol:       1e-10,
			ObjectiveTol:  1e-24,
		},
		MCMC: MCMC{
			Prior:      2,
			Coordinate: 2,
			Joint:      2,
		},
		Checkpoint: Checkpoint{
			Every: 50,
			Codec: "zstd",
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Keys that do not map to a field are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML, used to record the effective configuration
// alongside results.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
