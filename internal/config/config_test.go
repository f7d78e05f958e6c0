package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 300, cfg.K1)
	assert.Equal(t, 100, cfg.K2)
	assert.Equal(t, 1, cfg.Chains)
	assert.Equal(t, 5000, cfg.ImportanceSamples)
	assert.Equal(t, Bounds{Lo: 0, Hi: 5}, cfg.ThetaBounds)
	assert.Equal(t, Bounds{Lo: 0, Hi: 5}, cfg.DeltaBounds)
	assert.Equal(t, 3.0, cfg.OutlierThetaMax)
	assert.Equal(t, 2.0, cfg.OutlierDeltaMax)
	assert.Equal(t, 75.0, cfg.ScaleK)
	assert.Equal(t, 1024, cfg.Solver.MaxIterations)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted theta bounds", func(c *Config) { c.ThetaBounds = Bounds{Lo: 5, Hi: 0} }},
		{"inverted delta bounds", func(c *Config) { c.DeltaBounds = Bounds{Lo: 1, Hi: -1} }},
		{"negative K1", func(c *Config) { c.K1 = -1 }},
		{"negative K2", func(c *Config) { c.K2 = -3 }},
		{"no iterations", func(c *Config) { c.K1, c.K2 = 0, 0 }},
		{"zero scale", func(c *Config) { c.ScaleK = 0 }},
		{"negative scale", func(c *Config) { c.ScaleK = -75 }},
		{"no chains", func(c *Config) { c.Chains = 0 }},
		{"no importance samples", func(c *Config) { c.ImportanceSamples = 0 }},
		{"unknown error model", func(c *Config) { c.ErrorModel = "exponential" }},
		{"unknown covariance", func(c *Config) { c.CovarianceModel = "banded" }},
		{"unknown method", func(c *Config) { c.Solver.Method = "newton" }},
		{"start outside box", func(c *Config) { c.Solver.InitTheta = 7 }},
		{"no mcmc", func(c *Config) { c.MCMC = MCMC{} }},
		{"unknown codec", func(c *Config) { c.Checkpoint.Codec = "gzip" }},
		{"checkpoint without period", func(c *Config) { c.Checkpoint.Path, c.Checkpoint.Every = "x", 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fit.yaml")
	body := `
k1: 150
k2: 50
seed: 42
theta_bounds: [0, 4]
delta_bounds:
  lo: 0
  hi: 3
error_model: combined
solver:
  method: gn
  max_iterations: 50
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.K1)
	assert.Equal(t, 50, cfg.K2)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, Bounds{Lo: 0, Hi: 4}, cfg.ThetaBounds)
	assert.Equal(t, Bounds{Lo: 0, Hi: 3}, cfg.DeltaBounds)
	assert.Equal(t, "combined", cfg.ErrorModel)
	assert.Equal(t, "gn", cfg.Solver.Method)
	assert.Equal(t, 50, cfg.Solver.MaxIterations)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5000, cfg.ImportanceSamples)
	assert.Equal(t, 1e-3, cfg.Solver.Tau)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("k3: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theta_bounds: [3, 1]\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Seed = 7
	raw, err := Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fit.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
