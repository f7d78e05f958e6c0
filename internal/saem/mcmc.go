package saem

import (
	"math"
	"math/rand/v2"

	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/randstream"
)

var negInf = math.Inf(-1)

// plan is the read-only snapshot of the population parameters shared by all
// workers during one iteration.
type plan struct {
	iteration  int
	mu         [2]float64
	prec       precision
	err        model.ErrorModel
	coordScale [2]float64
	jointScale [2]float64
}

// subjectStat is what one subject contributes to the reduction, averaged
// over its chains.
type subjectStat struct {
	phi   [2]float64
	outer [2][2]float64
	sse   float64
	// pred holds f(phi) per chain for the error model update.
	pred [][]float64

	coordAccepted [2]int
	jointAccepted int
}

func accept(rng *rand.Rand, logRatio float64) bool {
	return math.Log(rng.Float64()) < logRatio
}

// advance runs the kernels on every chain of subject i and fills out.
func (e *Engine) advance(p *plan, st *state, i int, s *subject, out *subjectStat) {
	*out = subjectStat{pred: out.pred[:0]}
	chains := e.cfg.Chains
	w := 1 / float64(chains)

	for c := 0; c < chains; c++ {
		rng := e.streams.Stream(randstream.Key{
			Stage:     randstream.MCMC,
			Iteration: p.iteration,
			Subject:   s.id,
			Chain:     c,
		})
		phi := st.phi[i][c]
		ll := s.logLik(e.h, p.err, phi)
		lp := p.prec.logPrior(phi, p.mu)

		for n := 0; n < e.cfg.Kernels.Prior; n++ {
			cand := p.prec.draw(p.mu, [2]float64{rng.NormFloat64(), rng.NormFloat64()})
			llc := s.logLik(e.h, p.err, cand)
			if accept(rng, llc-ll) {
				phi, ll = cand, llc
				lp = p.prec.logPrior(phi, p.mu)
			}
		}

		for n := 0; n < e.cfg.Kernels.Coordinate; n++ {
			for j := 0; j < 2; j++ {
				cand := phi
				cand[j] += p.coordScale[j] * rng.NormFloat64()
				llc := s.logLik(e.h, p.err, cand)
				lpc := p.prec.logPrior(cand, p.mu)
				if accept(rng, llc+lpc-ll-lp) {
					phi, ll, lp = cand, llc, lpc
					out.coordAccepted[j]++
				}
			}
		}

		for n := 0; n < e.cfg.Kernels.Joint; n++ {
			cand := [2]float64{
				phi[0] + p.jointScale[0]*rng.NormFloat64(),
				phi[1] + p.jointScale[1]*rng.NormFloat64(),
			}
			llc := s.logLik(e.h, p.err, cand)
			lpc := p.prec.logPrior(cand, p.mu)
			if accept(rng, llc+lpc-ll-lp) {
				phi, ll, lp = cand, llc, lpc
				out.jointAccepted++
			}
		}

		st.phi[i][c] = phi

		f := e.h.Evaluate(phi[0], phi[1], s.x)
		sse := 0.
		for j, fj := range f {
			r := s.y[j] - fj
			sse += r * r
		}
		out.pred = append(out.pred, f)
		out.sse += w * sse
		for a := 0; a < 2; a++ {
			out.phi[a] += w * phi[a]
			for b := 0; b < 2; b++ {
				out.outer[a][b] += w * phi[a] * phi[b]
			}
		}
	}
}
