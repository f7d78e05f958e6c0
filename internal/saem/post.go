package saem

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
)

// minConditionalVar is the smallest conditional variance trusted as an
// importance sampling scale; below it the population variance is used.
const minConditionalVar = 1e-12

// conditional returns the mean and variance of subject i's chain over the
// smoothing phase, or the last state and Omega when there was none.
func conditional(st *state, i int) ([2]float64, [2]float64) {
	var mean, variance [2]float64
	if st.condCount == 0 {
		for _, phi := range st.phi[i] {
			mean[0] += phi[0] / float64(len(st.phi[i]))
			mean[1] += phi[1] / float64(len(st.phi[i]))
		}
		return mean, [2]float64{st.omega[0][0], st.omega[1][1]}
	}
	c := float64(st.condCount)
	for a := 0; a < 2; a++ {
		mean[a] = st.condSum[i][a] / c
		variance[a] = st.condSq[i][a][a]/c - mean[a]*mean[a]
		if !(variance[a] > minConditionalVar) {
			variance[a] = st.omega[a][a]
		}
	}
	return mean, variance
}

// finish runs the post-processing on the final state.
func (e *Engine) finish(ctx context.Context, subjects []*subject, st *state) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("saem cancelled before post-processing: %w", err)
	}
	prec, ok := newPrecision(st.omega)
	if !ok {
		return nil, fmt.Errorf("%w: final covariance is not positive definite", errs.ErrNumericDivergence)
	}
	pop := &population{mu: st.mu, omega: st.omega, prec: prec, err: st.err}

	individuals := make([]Individual, len(subjects))
	lins := make([]linearization, len(subjects))
	linOK := make([]bool, len(subjects))
	parallel(len(subjects), e.cfg.Workers, func(i int) {
		s := subjects[i]
		mean, variance := conditional(st, i)
		ind := Individual{
			SubjectID: s.id,
			ThetaMean: mean[0],
			DeltaMean: mean[1],
			ThetaVar:  variance[0],
			DeltaVar:  variance[1],
		}

		phi, converged, issue := e.mapEstimate(s, pop, mean)
		ind.ThetaMAP, ind.DeltaMAP = phi[0], phi[1]
		ind.MAPConverged = converged
		ind.Issue = issue

		lins[i], linOK[i] = e.linearize(s, pop, phi)
		ind.LogLikLin = math.NaN()
		if linOK[i] {
			ind.LogLikLin = lins[i].logLik
		}
		ind.LogLikIS = e.importanceLogLik(s, pop, mean, [2]float64{math.Sqrt(variance[0]), math.Sqrt(variance[1])})
		individuals[i] = ind
	})

	nvar := e.numVarianceParams(pop.err)
	fixed := mat.NewSymDense(2, nil)
	variance := mat.NewSymDense(nvar, nil)
	out := &Result{
		Individuals: individuals,
		Trace:       st.trace,
		Projections: st.projections,
	}
	p := &out.Population
	*p = PopulationModel{
		ThetaMean:  pop.mu[0],
		DeltaMean:  pop.mu[1],
		Omega:      pop.omega,
		Covariance: e.cfg.Covariance,
		Error:      pop.err,
		NumParams:  2 + nvar,
	}

	for i, s := range subjects {
		p.NumObservations += len(s.y)
		p.LogLikIS += individuals[i].LogLikIS
		if individuals[i].Issue != nil {
			e.log.Warn("map estimate degraded", zap.Int("subject", s.id), zap.Error(individuals[i].Issue))
		}
		if !linOK[i] {
			p.LogLikLin = math.NaN()
			e.log.Warn("linearization failed", zap.Int("subject", s.id), zap.Error(errs.ErrSingularJacobian))
			continue
		}
		p.LogLikLin += lins[i].logLik
		fixed.AddSym(fixed, lins[i].fixed)
		variance.AddSym(variance, lins[i].variance)
	}
	p.NumSubjects = len(subjects)
	p.SE = e.standardErrors(fixed, variance)

	k := float64(p.NumParams)
	logN := math.Log(float64(p.NumSubjects))
	p.AICLin = -2*p.LogLikLin + 2*k
	p.BICLin = -2*p.LogLikLin + k*logN
	p.AICIS = -2*p.LogLikIS + 2*k
	p.BICIS = -2*p.LogLikIS + k*logN

	e.log.Info("saem finished",
		zap.Float64("theta_mean", p.ThetaMean),
		zap.Float64("delta_mean", p.DeltaMean),
		zap.Float64("omega_theta", p.Omega[0][0]),
		zap.Float64("omega_delta", p.Omega[1][1]),
		zap.Float64s("error", p.Error.Params()),
		zap.Float64("loglik_lin", p.LogLikLin),
		zap.Float64("loglik_is", p.LogLikIS),
		zap.Int("projections", out.Projections),
	)
	return out, nil
}

func (e *Engine) standardErrors(fixed, variance *mat.SymDense) StandardErrors {
	nan := math.NaN()
	se := StandardErrors{
		ThetaMean:  nan,
		DeltaMean:  nan,
		OmegaTheta: nan,
		OmegaDelta: nan,
		OmegaCov:   nan,
	}
	if v, ok := invertInformation(fixed); ok {
		se.ThetaMean, se.DeltaMean = v[0], v[1]
	} else {
		e.log.Warn("fixed effect information is singular", zap.Error(errs.ErrSingularJacobian))
	}

	n := variance.SymmetricDim()
	v, ok := invertInformation(variance)
	if !ok {
		e.log.Warn("variance information is singular", zap.Error(errs.ErrSingularJacobian))
		v = make([]float64, n)
		for i := range v {
			v[i] = nan
		}
	}
	se.OmegaTheta, se.OmegaDelta = v[0], v[1]
	next := 2
	if e.cfg.Covariance == Full {
		se.OmegaCov = v[2]
		next = 3
	}
	se.Error = v[next:]
	return se
}
