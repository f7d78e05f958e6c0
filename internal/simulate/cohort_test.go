package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/HamletTheHamster/social-discounting/internal/model"
)

func reference() Population {
	return Population{
		ThetaMean: 1,
		DeltaMean: 0.05,
		Omega:     [2][2]float64{{0.04, 0}, {0, 0.0004}},
		Error:     model.ErrorModel{Type: model.Constant, A: 1},
	}
}

func TestCohortShape(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	tbl, truths, err := Cohort(h, reference(), Design{Subjects: 7, Predictors: ReferencePredictors, FirstID: 10}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13, 14, 15, 16}, tbl.IDs())
	assert.Len(t, truths, 7)
	assert.Equal(t, 35, tbl.NumObservations())
	for _, tr := range truths {
		assert.True(t, h.InDomain(tr.Delta, ReferencePredictors))
	}
}

func TestCohortReproducible(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	d := Design{Subjects: 5, Predictors: ReferencePredictors, FirstID: 1}
	a, ta, err := Cohort(h, reference(), d, 99)
	require.NoError(t, err)
	b, tb, err := Cohort(h, reference(), d, 99)
	require.NoError(t, err)
	assert.Equal(t, ta, tb)
	assert.Equal(t, a.Subjects(), b.Subjects())

	// A larger cohort extends the smaller one.
	d.Subjects = 8
	c, tc, err := Cohort(h, reference(), d, 99)
	require.NoError(t, err)
	assert.Equal(t, ta, tc[:5])
	assert.Equal(t, a.Subjects(), c.Subjects()[:5])

	_, td, err := Cohort(h, reference(), Design{Subjects: 5, Predictors: ReferencePredictors, FirstID: 1}, 100)
	require.NoError(t, err)
	assert.NotEqual(t, ta, td)
}

func TestCohortMoments(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	_, truths, err := Cohort(h, reference(), Design{Subjects: 4000, Predictors: ReferencePredictors}, 5)
	require.NoError(t, err)
	theta := make([]float64, len(truths))
	delta := make([]float64, len(truths))
	for i, tr := range truths {
		theta[i], delta[i] = tr.Theta, tr.Delta
	}
	mt, st := stat.MeanStdDev(theta, nil)
	md, sd := stat.MeanStdDev(delta, nil)
	assert.InDelta(t, 1, mt, 0.015)
	assert.InDelta(t, 0.2, st, 0.015)
	assert.InDelta(t, 0.05, md, 0.0015)
	assert.InDelta(t, 0.02, sd, 0.0015)
}

func TestCohortRejectsBadInput(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	bad := reference()
	bad.Omega = [2][2]float64{{1, 2}, {2, 1}}
	_, _, err := Cohort(h, bad, Design{Subjects: 3, Predictors: ReferencePredictors}, 1)
	assert.Error(t, err)

	_, _, err = Cohort(h, reference(), Design{Subjects: 0, Predictors: ReferencePredictors}, 1)
	assert.Error(t, err)

	// Every draw lands outside the domain.
	neg := reference()
	neg.DeltaMean = -1
	neg.Omega = [2][2]float64{{0.04, 0}, {0, 1e-8}}
	_, _, err = Cohort(h, neg, Design{Subjects: 1, Predictors: ReferencePredictors}, 1)
	assert.Error(t, err)
}
