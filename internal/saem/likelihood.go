package saem

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HamletTheHamster/social-discounting/internal/randstream"
)

// importanceDF is the number of degrees of freedom of the Student-t
// importance distribution.
const importanceDF = 4

// importanceLogLik estimates log p(y_i) = log ∫ p(y_i | phi) p(phi) dphi by
// importance sampling. Proposals are independent Student-t per component,
// centred on the conditional mean with the conditional standard deviation.
func (e *Engine) importanceLogLik(s *subject, pop *population, mean, sd [2]float64) float64 {
	t := distuv.StudentsT{
		Mu:    0,
		Sigma: 1,
		Nu:    importanceDF,
		Src: e.streams.PCG(randstream.Key{
			Stage:   randstream.Importance,
			Subject: s.id,
		}),
	}
	logNorm := -math.Log(2*math.Pi) - 0.5*pop.prec.logDet + math.Log(sd[0]) + math.Log(sd[1])

	weights := make([]float64, e.cfg.ImportanceSamples)
	for m := range weights {
		z0, z1 := t.Rand(), t.Rand()
		phi := [2]float64{mean[0] + sd[0]*z0, mean[1] + sd[1]*z1}
		logQ := t.LogProb(z0) + t.LogProb(z1)
		weights[m] = s.logLik(e.h, pop.err, phi) + pop.prec.logPrior(phi, pop.mu) + logNorm - logQ
	}
	if floats.Max(weights) == negInf {
		return negInf
	}
	return floats.LogSumExp(weights) - math.Log(float64(len(weights)))
}
