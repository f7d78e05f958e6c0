package saem

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

const (
	// annealingRate bounds the per-iteration shrinkage of the variances
	// during annealing.
	annealingRate = 0.95
	// targetAcceptance and adaptRate steer the random walk scales.
	targetAcceptance = 0.4
	adaptRate        = 0.4
)

// reduce folds the per-subject statistics of iteration k into st in subject
// order and performs the M-step.
func (e *Engine) reduce(k int, subjects []*subject, stats []subjectStat, st *state) {
	n := float64(len(subjects))
	gamma := e.cfg.stepSize(k)

	var (
		stat1 [2]float64
		stat2 [2][2]float64
		stat3 float64
		nobs  int
		coord [2]int
		joint int
	)
	for i := range stats {
		s := &stats[i]
		for a := 0; a < 2; a++ {
			stat1[a] += s.phi[a]
			for b := 0; b < 2; b++ {
				stat2[a][b] += s.outer[a][b]
			}
			coord[a] += s.coordAccepted[a]
		}
		stat3 += s.sse
		joint += s.jointAccepted
		nobs += len(subjects[i].y)
	}

	for a := 0; a < 2; a++ {
		st.s1[a] += gamma * (stat1[a] - st.s1[a])
		for b := 0; b < 2; b++ {
			st.s2[a][b] += gamma * (stat2[a][b] - st.s2[a][b])
		}
	}
	st.s3 += gamma * (stat3 - st.s3)

	annealing := k < e.cfg.annealingIterations()
	prevOmega, prevErr := st.omega, st.err

	st.mu = [2]float64{st.s1[0] / n, st.s1[1] / n}
	var omega [2][2]float64
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			omega[a][b] = st.s2[a][b]/n - st.mu[a]*st.mu[b]
		}
	}
	if e.cfg.Covariance == Diagonal {
		omega[0][1], omega[1][0] = 0, 0
	}
	if annealing {
		for a := 0; a < 2; a++ {
			omega[a][a] = math.Max(omega[a][a], annealingRate*prevOmega[a][a])
		}
	}
	if projected, changed := projectPD(omega); changed {
		st.projections++
		e.log.Warn("covariance update projected to positive definite",
			zap.Int("iteration", k),
			zap.Float64s("omega", []float64{omega[0][0], omega[0][1], omega[1][1]}),
			zap.Error(errs.ErrNumericDivergence),
		)
		omega = projected
	}
	st.omega = omega

	st.err = e.updateError(k, gamma, annealing, prevErr, subjects, stats, st.s3/float64(nobs))

	trials := float64(len(subjects) * e.cfg.Chains)
	if m := e.cfg.Kernels.Coordinate; m > 0 {
		for a := 0; a < 2; a++ {
			rate := float64(coord[a]) / (trials * float64(m))
			st.coordScale[a] *= 1 + adaptRate*(rate-targetAcceptance)
		}
	}
	if m := e.cfg.Kernels.Joint; m > 0 {
		rate := float64(joint) / (trials * float64(m))
		for a := 0; a < 2; a++ {
			st.jointScale[a] *= 1 + adaptRate*(rate-targetAcceptance)
		}
	}

	if k >= e.cfg.K1 {
		for i := range stats {
			for a := 0; a < 2; a++ {
				st.condSum[i][a] += stats[i].phi[a]
				for b := 0; b < 2; b++ {
					st.condSq[i][a][b] += stats[i].outer[a][b]
				}
			}
		}
		st.condCount++
	}

	st.trace = append(st.trace, Snapshot{
		Iteration: k,
		Mu:        st.mu,
		Omega:     st.omega,
		Error:     st.err,
	})
}

// updateError is the M-step of the residual error model. The constant model
// has the closed form a² = S3/Ntot; the others maximise the complete data
// likelihood of the current chains and smooth the optimum with gamma.
func (e *Engine) updateError(
	k int,
	gamma float64,
	annealing bool,
	prev model.ErrorModel,
	subjects []*subject,
	stats []subjectStat,
	meanSquare float64,
) (
	model.ErrorModel,
) {
	if prev.Type == model.Constant {
		a := math.Sqrt(meanSquare)
		if annealing {
			a = math.Max(a, annealingRate*prev.A)
		}
		return prev.WithParams([]float64{a})
	}

	w := 1 / float64(e.cfg.Chains)
	objective := func(p []float64) float64 {
		abs := make([]float64, len(p))
		for j := range p {
			abs[j] = math.Abs(p[j])
		}
		cand := prev.WithParams(abs)
		v := 0.
		for i, s := range subjects {
			for _, f := range stats[i].pred {
				for j, fj := range f {
					g := cand.SD(fj)
					r := (s.y[j] - fj) / g
					v += w * (0.5*r*r + math.Log(g))
				}
			}
		}
		return v
	}

	start := prev.Params()
	res, err := optimize.Minimize(optimize.Problem{Func: objective}, start, nil, &optimize.NelderMead{})
	if err != nil || res == nil {
		e.log.Warn("error model update failed, keeping previous parameters",
			zap.Int("iteration", k),
			zap.Error(err),
		)
		return prev
	}

	next := make([]float64, len(start))
	for j := range next {
		opt := math.Abs(res.X[j])
		next[j] = start[j] + gamma*(opt-start[j])
		if annealing {
			next[j] = math.Max(next[j], annealingRate*start[j])
		}
	}
	return prev.WithParams(next)
}
