package fit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HamletTheHamster/social-discounting/internal/config"
	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

var (
	subjectA = []float64{87.5, 87.5, 52.5, 12.5, 7.5}
	subjectB = []float64{87.5, 87.5, 2.5, 2.5, 87.5}
)

func TestFitSubjectMonotoneResponses(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	est := FitSubject(h, subject(1, distances, subjectA), DefaultOptions())

	require.NoError(t, est.Issue)
	assert.True(t, est.Converged)
	assert.True(t, est.Trustworthy())
	assert.Equal(t, BoundedLM, est.Method)
	assert.Equal(t, 5, est.NumObserved)

	// Least-squares optimum of the curve for these responses.
	assert.InDelta(t, 1.341595, est.Theta, 1e-4)
	assert.InDelta(t, 0.060502, est.Delta, 1e-5)
	assert.GreaterOrEqual(t, est.Delta, 0.01)
	assert.LessOrEqual(t, est.Delta, 0.1)
	assert.InDelta(t, 410.1667, est.RSS, 1e-3)
	assert.InDelta(t, -18.1125, est.LogLikelihood, 1e-3)
	assert.InDelta(t, 0.16820, est.SETheta, 1e-4)
	assert.InDelta(t, 0.026398, est.SEDelta, 1e-5)

	require.Len(t, est.Residuals, 5)
	fitted := h.Evaluate(est.Theta, est.Delta, distances)
	for i := range fitted {
		assert.InDelta(t, subjectA[i]-fitted[i], est.Residuals[i], 1e-9)
	}
}

func TestFitSubjectPeculiarResponses(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	opts := DefaultOptions()
	a := FitSubject(h, subject(1, distances, subjectA), opts)
	b := FitSubject(h, subject(2, distances, subjectB), opts)

	// The rebound at the largest distance cannot be followed by a
	// discounting curve. From the reference start the fit ends on the lower
	// delta bound with the flat curve through the mean response.
	require.NoError(t, b.Issue)
	assert.True(t, b.Converged)
	assert.Equal(t, opts.Lower[1], b.Delta)
	assert.GreaterOrEqual(t, b.Theta, opts.Lower[0])
	assert.LessOrEqual(t, b.Theta, opts.Upper[0])
	assert.InDelta(t, 53.5/model.DefaultK, b.Theta, 1e-6)
	assert.InDelta(t, 8670, b.RSS, 1e-3)
	assert.Greater(t, b.RSS, 15*a.RSS)
	assert.Less(t, b.LogLikelihood, a.LogLikelihood)
	assert.InDelta(t, 34, b.Residuals[4], 1e-3)

	// Started near the curved solution, the fit finds the interior optimum,
	// which is only a little better.
	opts.Init = [2]float64{1.5, 0.05}
	interior := FitSubject(h, subject(2, distances, subjectB), opts)
	require.NoError(t, interior.Issue)
	assert.Greater(t, interior.Delta, opts.Lower[1])
	assert.InDelta(t, 7713.394, interior.RSS, 1e-2)
	assert.Less(t, interior.RSS, b.RSS)
	assert.Greater(t, interior.RSS, 15*a.RSS)
}

func TestFitSubjectSkipsMissingResponses(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := h.Evaluate(1, 0.05, distances)
	y[2] = math.NaN()

	est := FitSubject(h, subject(3, distances, y), DefaultOptions())
	require.NoError(t, est.Issue)
	assert.Equal(t, 4, est.NumObserved)
	assert.Len(t, est.Residuals, 4)
	assert.InDelta(t, 1, est.Theta, 1e-6)
	assert.InDelta(t, 0.05, est.Delta, 1e-6)
}

func TestFitSubjectInsufficientData(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	est := FitSubject(h, subject(4, []float64{5, 20}, []float64{80, math.NaN()}), DefaultOptions())

	assert.ErrorIs(t, est.Issue, errs.ErrInsufficientData)
	assert.False(t, est.Converged)
	assert.False(t, est.Trustworthy())
	assert.True(t, math.IsNaN(est.Theta))
	assert.True(t, math.IsNaN(est.Delta))
}

func TestFitSubjectTwoPointsHasNoStandardErrors(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	est := FitSubject(h, subject(5, []float64{1, 20}, []float64{70, 35}), DefaultOptions())

	assert.True(t, est.Converged)
	assert.True(t, math.IsNaN(est.SETheta))
	assert.True(t, math.IsNaN(est.SEDelta))
	assert.False(t, est.Trustworthy())
}

func TestFitSubjectNonConvergence(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	opts := DefaultOptions()
	opts.Settings.Iterations = 2
	opts.Init = [2]float64{4.9, 4.9}

	est := FitSubject(h, subject(6, distances, subjectA), opts)
	assert.False(t, est.Converged)
	assert.ErrorIs(t, est.Issue, errs.ErrNonConvergence)
	assert.False(t, math.IsNaN(est.Theta))
}

func TestFitSubjectGaussNewtonMode(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.Method = "gn"
	cfg.Solver.InitTheta, cfg.Solver.InitDelta = 1.2, 0.06
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, GaussNewton, opts.Method)
	assert.Equal(t, 50, opts.Settings.Iterations)

	h := model.NewHyperbolic(model.DefaultK)
	est := FitSubject(h, subject(1, distances, subjectA), opts)
	require.NoError(t, est.Issue)
	assert.InDelta(t, 1.341595, est.Theta, 1e-4)
}

func TestGaussNewtonIterationCap(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 1024, opts.settings().Iterations)

	opts.Method = GaussNewton
	assert.Equal(t, DefaultGaussNewtonIterations, opts.settings().Iterations)

	opts.Settings.Iterations = 7
	assert.Equal(t, 7, opts.settings().Iterations)

	opts.Settings.Iterations = 3
	opts.Init = [2]float64{4.9, 4.9}
	est := FitSubject(model.NewHyperbolic(model.DefaultK), subject(6, distances, subjectA), opts)
	assert.LessOrEqual(t, est.Iterations, 3)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, BoundedLM, opts.Method)
	assert.Equal(t, 1024, opts.Settings.Iterations)
	assert.Equal(t, [2]float64{1, 1}, opts.Init)
	assert.Equal(t, [2]float64{0, 0}, opts.Lower)
	assert.Equal(t, [2]float64{5, 5}, opts.Upper)

	cfg.Solver.Method = "simplex"
	_, err = OptionsFromConfig(cfg)
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func cohort(t *testing.T) *data.Table {
	t.Helper()
	h := model.NewHyperbolic(model.DefaultK)
	var obs []data.Observation
	for id := 1; id <= 12; id++ {
		y := h.Evaluate(0.5+0.1*float64(id), 0.01*float64(id), distances)
		for i, x := range distances {
			obs = append(obs, data.Observation{SubjectID: 100 - id, Predictor: x, Response: y[i] + float64(i%2)})
		}
	}
	obs = append(obs, data.Observation{SubjectID: 7, Predictor: 1, Response: 50})
	tbl, err := data.NewTable(obs)
	require.NoError(t, err)
	return tbl
}

func TestFitAllIndependentOfWorkers(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	tbl := cohort(t)

	one, err := FitAll(context.Background(), tbl, h, DefaultOptions(), 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	many, err := FitAll(context.Background(), tbl, h, DefaultOptions(), 8, nil)
	require.NoError(t, err)

	assert.Equal(t, tbl.Len(), one.Len())
	for i, est := range one.All() {
		other := many.All()[i]
		if est.Issue != nil {
			assert.Equal(t, est.SubjectID, other.SubjectID)
			assert.Equal(t, est.Issue.Error(), other.Issue.Error())
			continue
		}
		assert.Equal(t, est, other)
	}

	var ids []int
	for _, est := range one.All() {
		ids = append(ids, est.SubjectID)
	}
	assert.Equal(t, tbl.IDs(), ids)

	lone, ok := one.Get(7)
	require.True(t, ok)
	assert.ErrorIs(t, lone.Issue, errs.ErrInsufficientData)
}

func TestFitAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FitAll(ctx, cohort(t), model.NewHyperbolic(model.DefaultK), DefaultOptions(), 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
