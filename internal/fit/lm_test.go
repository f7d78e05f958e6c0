package fit

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

var distances = []float64{1, 5, 20, 50, 100}

func curveProblem(h model.Hyperbolic, x, y []float64, init []float64) Problem {
	return Problem{
		Dim:  model.NumParams,
		Size: len(x),
		Func: func(dst, p []float64) {
			h.EvaluateTo(dst, p[0], p[1], x)
			for i := range dst {
				dst[i] -= y[i]
			}
		},
		Jac: func(dst *mat.Dense, p []float64) {
			h.JacobianTo(dst, p[0], p[1], x)
		},
		InitParams: init,
		Lower:      []float64{0, 0},
		Upper:      []float64{5, 5},
	}
}

func subject(id int, x, y []float64) data.Subject {
	s := data.Subject{ID: id}
	for i := range x {
		s.Observations = append(s.Observations, data.Observation{SubjectID: id, Predictor: x[i], Response: y[i]})
	}
	return s
}

func TestSolveRecoversNoiselessCurves(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	truths := [][2]float64{{1, 0.05}, {0.5, 0.5}, {2.5, 0.01}, {4, 2}, {1.2, 0}}
	starts := [][2]float64{{1, 1}, {0.1, 4.9}, {4.9, 0.1}, {4.9, 4.9}, {0.1, 0.1}, {2.5, 2.5}}

	for _, truth := range truths {
		y := h.Evaluate(truth[0], truth[1], distances)
		for _, start := range starts {
			res, err := Solve(curveProblem(h, distances, y, start[:]), nil)
			require.NoError(t, err)
			assert.True(t, res.Converged(), "truth=%v start=%v status=%v", truth, start, res.Status)
			assert.InDelta(t, truth[0], res.X[0], 1e-6, "theta truth=%v start=%v", truth, start)
			assert.InDelta(t, truth[1], res.X[1], 1e-6, "delta truth=%v start=%v", truth, start)
		}
	}
}

func TestSolveStaysInsideBounds(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 300; trial++ {
		n := 2 + rng.IntN(4)
		x := distances[:n]
		y := make([]float64, n)
		for i := range y {
			y[i] = 200*rng.Float64() - 20
		}
		lo := []float64{rng.Float64(), rng.Float64()}
		hi := []float64{lo[0] + 3*rng.Float64(), lo[1] + 3*rng.Float64()}
		start := []float64{lo[0] + (hi[0]-lo[0])*rng.Float64(), lo[1] + (hi[1]-lo[1])*rng.Float64()}

		problem := curveProblem(h, x, y, start)
		problem.Lower, problem.Upper = lo, hi
		res, err := Solve(problem, nil)
		require.NoError(t, err)
		for i := range res.X {
			assert.False(t, math.IsNaN(res.X[i]))
			assert.GreaterOrEqual(t, res.X[i], lo[i], "trial %d", trial)
			assert.LessOrEqual(t, res.X[i], hi[i], "trial %d", trial)
		}
	}
}

func TestSolveProjectsStartIntoBox(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := h.Evaluate(1, 0.05, distances)
	res, err := Solve(curveProblem(h, distances, y, []float64{-3, 12}), nil)
	require.NoError(t, err)
	assert.InDelta(t, 1, res.X[0], 1e-6)
	assert.InDelta(t, 0.05, res.X[1], 1e-6)
}

func TestSolveSolutionOnBound(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	// Rising responses want a negative delta; the box holds it at zero.
	y := []float64{40, 45, 50, 60, 70}
	res, err := Solve(curveProblem(h, distances, y, []float64{1, 1}), nil)
	require.NoError(t, err)
	assert.True(t, res.Converged())
	assert.InDelta(t, 0, res.X[1], 1e-9)
	// With delta at zero theta is the mean response over K.
	assert.InDelta(t, 53.0/75, res.X[0], 1e-8)
}

func TestSolveIterationLimit(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := h.Evaluate(1, 0.05, distances)
	set := DefaultSettings()
	set.Iterations = 1
	res, err := Solve(curveProblem(h, distances, y, []float64{4.9, 4.9}), &set)
	require.NoError(t, err)
	assert.Equal(t, optimize.IterationLimit, res.Status)
	assert.False(t, res.Converged())
}

func TestSolveRejectsMalformedProblems(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	good := curveProblem(h, distances, distances, nil)

	tests := map[string]func(p *Problem){
		"zero dim":        func(p *Problem) { p.Dim = 0 },
		"zero size":       func(p *Problem) { p.Size = 0 },
		"no func":         func(p *Problem) { p.Func = nil },
		"short init":      func(p *Problem) { p.InitParams = []float64{1} },
		"inverted bounds": func(p *Problem) { p.Lower = []float64{2, 0}; p.Upper = []float64{1, 5} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := good
			mutate(&p)
			_, err := Solve(p, nil)
			assert.Error(t, err)
		})
	}
}

func TestGaussNewtonIgnoresBounds(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := h.Evaluate(1, 0.05, distances)
	problem := curveProblem(h, distances, y, []float64{1.05, 0.06})
	problem.Upper = []float64{0.5, 0.5}

	res, err := SolveGaussNewton(problem, nil)
	require.NoError(t, err)
	assert.True(t, res.Converged(), "status %v", res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-6)
	assert.InDelta(t, 0.05, res.X[1], 1e-6)
}

func TestGaussNewtonSingular(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := h.Evaluate(1, 0.05, distances)
	// theta = 0 zeroes the delta column of the jacobian.
	res, err := SolveGaussNewton(curveProblem(h, distances, y, []float64{0, 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, optimize.Failure, res.Status)
	assert.ErrorIs(t, res.Cause, errs.ErrSingularJacobian)
}

func TestReferenceAgreesOnInteriorSolution(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	y := []float64{87.5, 87.5, 52.5, 12.5, 7.5}
	set := DefaultSettings()
	set.Eps1, set.Eps2, set.ObjectiveTol = 1e-8, 1e-8, 1e-16

	bounded, err := Solve(curveProblem(h, distances, y, []float64{1, 0.1}), nil)
	require.NoError(t, err)
	ref, err := SolveReference(curveProblem(h, distances, y, []float64{1, 0.1}), &set)
	require.NoError(t, err)

	assert.InDelta(t, bounded.X[0], ref.X[0], 1e-4)
	assert.InDelta(t, bounded.X[1], ref.X[1], 1e-4)
	assert.InDelta(t, bounded.F, ref.F, 1e-6)
}
