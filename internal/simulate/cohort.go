// Package simulate draws synthetic cohorts from a known population model.
package simulate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/randstream"
)

// ReferencePredictors are the social distances of the reference experiment.
var ReferencePredictors = []float64{1, 5, 20, 50, 100}

// maxDraws bounds the redraws of individual parameters outside the model
// domain.
const maxDraws = 1000

// Population is the generating model: phi ~ N(mean, Omega), y = f + g(f)*eps.
type Population struct {
	ThetaMean float64
	DeltaMean float64
	Omega     [2][2]float64
	Error     model.ErrorModel
}

// Design is the layout of a simulated cohort.
type Design struct {
	Subjects   int
	Predictors []float64
	// FirstID is the id of the first subject; ids are consecutive.
	FirstID int
}

// Truth is the drawn individual parameter of one subject.
type Truth struct {
	SubjectID int
	Theta     float64
	Delta     float64
}

// Cohort draws a cohort from pop. The draws of each subject come from their
// own stream, so a subject's data does not depend on the cohort size.
func Cohort(
	h model.Hyperbolic,
	pop Population,
	design Design,
	seed uint64,
) (
	*data.Table, []Truth, error,
) {
	if design.Subjects < 1 || len(design.Predictors) == 0 {
		return nil, nil, fmt.Errorf("simulate: empty design")
	}
	var chol mat.Cholesky
	omega := mat.NewSymDense(2, []float64{pop.Omega[0][0], pop.Omega[0][1], pop.Omega[1][0], pop.Omega[1][1]})
	if !chol.Factorize(omega) {
		return nil, nil, fmt.Errorf("simulate: covariance is not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)

	src := randstream.New(seed)
	truths := make([]Truth, 0, design.Subjects)
	var obs []data.Observation
	for n := 0; n < design.Subjects; n++ {
		id := design.FirstID + n
		norm := distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   src.PCG(randstream.Key{Stage: randstream.Simulation, Subject: id}),
		}

		theta, delta, ok := 0., 0., false
		for d := 0; d < maxDraws && !ok; d++ {
			z0, z1 := norm.Rand(), norm.Rand()
			theta = pop.ThetaMean + l.At(0, 0)*z0
			delta = pop.DeltaMean + l.At(1, 0)*z0 + l.At(1, 1)*z1
			ok = h.InDomain(delta, design.Predictors)
		}
		if !ok {
			return nil, nil, fmt.Errorf("simulate: no admissible parameters for subject %d after %d draws", id, maxDraws)
		}
		truths = append(truths, Truth{SubjectID: id, Theta: theta, Delta: delta})

		for _, x := range design.Predictors {
			f := h.At(theta, delta, x)
			obs = append(obs, data.Observation{
				SubjectID: id,
				Predictor: x,
				Response:  f + pop.Error.SD(f)*norm.Rand(),
			})
		}
	}

	table, err := data.NewTable(obs)
	if err != nil {
		return nil, nil, err
	}
	return table, truths, nil
}
