package saem

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/fit"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// population is the frozen parameter set used by post-processing.
type population struct {
	mu    [2]float64
	omega [2][2]float64
	prec  precision
	err   model.ErrorModel
}

// negLogPosterior is -log p(y, phi) up to a constant, +Inf outside the box or
// the model domain.
func (e *Engine) negLogPosterior(s *subject, pop *population, phi [2]float64) float64 {
	if !e.cfg.ThetaBounds.Contains(phi[0]) || !e.cfg.DeltaBounds.Contains(phi[1]) {
		return math.Inf(1)
	}
	v := -s.logLik(e.h, pop.err, phi) - pop.prec.logPrior(phi, pop.mu)
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

func (e *Engine) clip(phi [2]float64) [2]float64 {
	return [2]float64{
		math.Min(math.Max(phi[0], e.cfg.ThetaBounds.Lo), e.cfg.ThetaBounds.Hi),
		math.Min(math.Max(phi[1], e.cfg.DeltaBounds.Lo), e.cfg.DeltaBounds.Hi),
	}
}

// mapEstimate finds the mode of p(phi | y) inside the parameter box,
// starting from start.
//
// The posterior mode minimises the sum of squares of the augmented residual
// [(f-y)/g ; L^-1 (phi-mu)], which the bounded solver handles directly for a
// constant error model. For the other error models the weighted fit only
// provides a starting point for a Nelder-Mead search on the exact objective,
// which includes the sum of log g.
func (e *Engine) mapEstimate(s *subject, pop *population, start [2]float64) ([2]float64, bool, error) {
	n := len(s.x)
	x0 := e.clip(start)
	f := make([]float64, n)

	residuals := func(dst, p []float64) {
		e.h.EvaluateTo(f, p[0], p[1], s.x)
		for j := range f {
			dst[j] = (f[j] - s.y[j]) / pop.err.SD(f[j])
		}
		w := pop.prec.whiten([2]float64{p[0], p[1]}, pop.mu)
		dst[n], dst[n+1] = w[0], w[1]
	}

	problem := fit.Problem{
		Dim:        2,
		Size:       n + 2,
		Func:       residuals,
		InitParams: x0[:],
		Lower:      []float64{e.cfg.ThetaBounds.Lo, e.cfg.DeltaBounds.Lo},
		Upper:      []float64{e.cfg.ThetaBounds.Hi, e.cfg.DeltaBounds.Hi},
	}
	if pop.err.Type == model.Constant {
		a := pop.err.SD(0)
		jac := mat.NewDense(n, 2, nil)
		problem.Jac = func(dst *mat.Dense, p []float64) {
			e.h.JacobianTo(jac, p[0], p[1], s.x)
			for j := 0; j < n; j++ {
				dst.Set(j, 0, jac.At(j, 0)/a)
				dst.Set(j, 1, jac.At(j, 1)/a)
			}
			li := pop.prec.cholInv
			dst.Set(n, 0, li[0][0])
			dst.Set(n, 1, li[0][1])
			dst.Set(n+1, 0, li[1][0])
			dst.Set(n+1, 1, li[1][1])
		}
	} else {
		problem.Jac = (&lm.NumJac{Func: residuals}).Jac
	}

	res, err := fit.Solve(problem, nil)
	if err != nil {
		return x0, false, err
	}
	phi := [2]float64{res.X[0], res.X[1]}
	converged := res.Converged()
	var issue error
	if res.Cause != nil {
		issue = fmt.Errorf("%w: map of subject %d: %v", errs.ErrNonConvergence, s.id, res.Cause)
	} else if !converged {
		issue = fmt.Errorf("%w: map of subject %d after %d iterations", errs.ErrNonConvergence, s.id, res.Iterations)
	}

	if pop.err.Type != model.Constant {
		objective := func(p []float64) float64 {
			return e.negLogPosterior(s, pop, [2]float64{p[0], p[1]})
		}
		refined, err := optimize.Minimize(optimize.Problem{Func: objective}, phi[:], nil, &optimize.NelderMead{})
		if err == nil && refined.F < objective(phi[:]) {
			phi = [2]float64{refined.X[0], refined.X[1]}
			converged, issue = true, nil
		}
	}
	return phi, converged, issue
}
