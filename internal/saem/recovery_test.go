package saem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// The cohort is drawn from truth with a residual sd of 1 against responses of
// 10 to 90, so the individual posteriors are tight and the linearization is
// accurate.
func TestLikelihoodEstimatorsAgree(t *testing.T) {
	if testing.Short() {
		t.Skip("long SAEM run")
	}
	tbl := cohort(t, 30, 17)
	cfg := testConfig()
	cfg.K1, cfg.K2 = 200, 100
	cfg.ImportanceSamples = 5000
	res := run(t, cfg, tbl)

	p := res.Population
	require.False(t, math.IsNaN(p.LogLikLin))
	require.False(t, math.IsInf(p.LogLikIS, 0))
	assert.InEpsilon(t, p.LogLikLin, p.LogLikIS, 0.05)
}

func TestRecoversPopulation(t *testing.T) {
	if testing.Short() {
		t.Skip("long SAEM run")
	}
	tbl := cohort(t, 40, 23)
	cfg := testConfig()
	cfg.K1, cfg.K2 = 200, 100
	res := run(t, cfg, tbl)

	p := res.Population
	require.False(t, math.IsNaN(p.SE.ThetaMean))
	require.False(t, math.IsNaN(p.SE.DeltaMean))

	// Standard errors of a mean over 40 subjects: sd/sqrt(40) plus the
	// residual noise.
	assert.InDelta(t, 0.2/math.Sqrt(40), p.SE.ThetaMean, 0.02)
	assert.InDelta(t, 0.02/math.Sqrt(40), p.SE.DeltaMean, 0.002)

	// Four standard errors around the generating values.
	assert.InDelta(t, truth.ThetaMean, p.ThetaMean, 4*p.SE.ThetaMean)
	assert.InDelta(t, truth.DeltaMean, p.DeltaMean, 4*p.SE.DeltaMean)

	assert.InDelta(t, truth.Omega[0][0], p.Omega[0][0], 0.035)
	assert.Greater(t, p.Omega[1][1], 0.)
	assert.Less(t, p.Omega[1][1], 0.002)
	assert.Equal(t, model.Constant, p.Error.Type)
	assert.Greater(t, p.Error.A, 0.5)
	assert.Less(t, p.Error.A, 2.5)
}

func TestFullCovarianceAndCombinedError(t *testing.T) {
	if testing.Short() {
		t.Skip("long SAEM run")
	}
	tbl := cohort(t, 20, 31)
	cfg := testConfig()
	cfg.Covariance = Full
	cfg.InitError = model.ErrorModel{Type: model.Combined, A: 1, B: 0.1}
	cfg.ImportanceSamples = 500
	res := run(t, cfg, tbl)

	p := res.Population
	assert.Equal(t, 7, p.NumParams)
	assert.Len(t, p.SE.Error, 2)
	assert.Equal(t, p.Omega[0][1], p.Omega[1][0])
	det := p.Omega[0][0]*p.Omega[1][1] - p.Omega[0][1]*p.Omega[1][0]
	assert.Greater(t, det, 0.)
	assert.Greater(t, p.Error.A, 0.)
	assert.GreaterOrEqual(t, p.Error.B, 0.)
	assert.InDelta(t, truth.ThetaMean, p.ThetaMean, 0.3)
	assert.InDelta(t, truth.DeltaMean, p.DeltaMean, 0.03)
	for _, ind := range res.Individuals {
		assert.True(t, cfg.ThetaBounds.Contains(ind.ThetaMAP))
		assert.True(t, cfg.DeltaBounds.Contains(ind.DeltaMAP))
	}
}
