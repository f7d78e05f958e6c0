package saem

import (
	"github.com/HamletTheHamster/social-discounting/internal/checkpoint"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// Snapshot holds the population parameters after one iteration.
type Snapshot = checkpoint.Snapshot

// StandardErrors of the population estimates from the linearized Fisher
// information. Omega entries are variances and the covariance; error
// parameters follow model.ErrorModel.Params. Undefined entries are NaN.
type StandardErrors struct {
	ThetaMean  float64
	DeltaMean  float64
	OmegaTheta float64
	OmegaDelta float64
	OmegaCov   float64
	Error      []float64
}

// PopulationModel is the frozen output of a run.
type PopulationModel struct {
	ThetaMean  float64
	DeltaMean  float64
	Omega      [2][2]float64
	Covariance Covariance
	Error      model.ErrorModel
	SE         StandardErrors

	LogLikLin float64
	LogLikIS  float64
	AICLin    float64
	BICLin    float64
	AICIS     float64
	BICIS     float64

	NumSubjects     int
	NumObservations int
	// NumParams counts fixed effects, covariance and error parameters.
	NumParams int
}

// Individual is the per-subject output of a run.
type Individual struct {
	SubjectID int
	// ThetaMAP and DeltaMAP are the modes of the conditional distribution.
	ThetaMAP, DeltaMAP float64
	// Conditional mean and variance of the chain over the smoothing phase.
	ThetaMean, DeltaMean float64
	ThetaVar, DeltaVar   float64
	LogLikLin            float64
	LogLikIS             float64
	MAPConverged         bool
	// Issue records a recovered MAP or linearization failure.
	Issue error
}

// Result of a completed run.
type Result struct {
	Population  PopulationModel
	Individuals []Individual
	Trace       []Snapshot
	// Projections counts the iterations whose covariance update had to be
	// projected back to positive definite.
	Projections int
}

// Individual returns the estimate of subject id.
func (r *Result) Individual(id int) (Individual, bool) {
	for _, ind := range r.Individuals {
		if ind.SubjectID == id {
			return ind, true
		}
	}
	return Individual{}, false
}
