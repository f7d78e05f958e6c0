package saem

import (
	"fmt"
	"math"
	"slices"

	"github.com/HamletTheHamster/social-discounting/internal/checkpoint"
	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// subject is the observed data of one retained subject plus scratch space
// owned by whichever worker advances it.
type subject struct {
	id   int
	x, y []float64
	f    []float64
}

func newSubject(s data.Subject) *subject {
	x, y := s.Observed()
	return &subject{id: s.ID, x: x, y: y, f: make([]float64, len(x))}
}

// logLik is log p(y | phi), -Inf outside the model domain.
func (s *subject) logLik(h model.Hyperbolic, e model.ErrorModel, phi [2]float64) float64 {
	if !h.InDomain(phi[1], s.x) {
		return negInf
	}
	h.EvaluateTo(s.f, phi[0], phi[1], s.x)
	ll := e.LogLikelihood(s.y, s.f)
	if math.IsNaN(ll) {
		return negInf
	}
	return ll
}

// state is the mutable part of a run. It is only written by the sequential
// reduction, except phi[i] which belongs to the worker advancing subject i.
type state struct {
	iteration int
	mu        [2]float64
	omega     [2][2]float64
	err       model.ErrorModel

	s1 [2]float64
	s2 [2][2]float64
	s3 float64

	phi        [][][2]float64
	coordScale [2]float64
	jointScale [2]float64

	condSum   [][2]float64
	condSq    [][2][2]float64
	condCount int

	projections int
	trace       []Snapshot
}

// initialRandomWalk is the starting random walk scale relative to the
// initial standard deviations.
const initialRandomWalk = 0.5

func (e *Engine) initialState(subjects []*subject) *state {
	st := &state{
		mu:    e.cfg.InitMean,
		omega: e.cfg.InitOmega,
		err:   e.cfg.InitError,
	}
	for j := 0; j < 2; j++ {
		sd := math.Sqrt(st.omega[j][j])
		st.coordScale[j] = initialRandomWalk * sd
		st.jointScale[j] = initialRandomWalk * sd
	}
	st.phi = make([][][2]float64, len(subjects))
	for i := range subjects {
		st.phi[i] = make([][2]float64, e.cfg.Chains)
		for c := range st.phi[i] {
			st.phi[i][c] = st.mu
		}
	}
	st.condSum = make([][2]float64, len(subjects))
	st.condSq = make([][2][2]float64, len(subjects))
	return st
}

func (e *Engine) kernelCounts() [3]int {
	k := e.cfg.Kernels
	return [3]int{k.Prior, k.Coordinate, k.Joint}
}

func ids(subjects []*subject) []int {
	out := make([]int, len(subjects))
	for i, s := range subjects {
		out[i] = s.id
	}
	return out
}

func (e *Engine) checkpointState(st *state, subjects []*subject) *checkpoint.State {
	cp := &checkpoint.State{
		Seed:            e.cfg.Seed,
		K1:              e.cfg.K1,
		K2:              e.cfg.K2,
		Chains:          e.cfg.Chains,
		Covariance:      string(e.cfg.Covariance),
		Kernels:         e.kernelCounts(),
		Subjects:        ids(subjects),
		Iteration:       st.iteration,
		Mu:              st.mu,
		Omega:           st.omega,
		Error:           st.err,
		S1:              st.s1,
		S2:              st.s2,
		S3:              st.s3,
		CoordinateScale: st.coordScale,
		JointScale:      st.jointScale,
		CondSum:         slices.Clone(st.condSum),
		CondSq:          slices.Clone(st.condSq),
		CondCount:       st.condCount,
		Projections:     st.projections,
		Trace:           slices.Clone(st.trace),
	}
	cp.Phi = make([][][2]float64, len(st.phi))
	for i := range st.phi {
		cp.Phi[i] = slices.Clone(st.phi[i])
	}
	return cp
}

// restore checks that cp belongs to this configuration and data set and
// rebuilds the run state from it.
func (e *Engine) restore(cp *checkpoint.State, subjects []*subject) (*state, error) {
	mismatch := func(what string) error {
		return fmt.Errorf("%w: checkpoint %s does not match the run", errs.ErrInvalidConfiguration, what)
	}
	switch {
	case cp.Seed != e.cfg.Seed:
		return nil, mismatch("seed")
	case cp.K1 != e.cfg.K1 || cp.K2 != e.cfg.K2:
		return nil, mismatch("iteration budget")
	case cp.Chains != e.cfg.Chains:
		return nil, mismatch("chain count")
	case cp.Covariance != string(e.cfg.Covariance):
		return nil, mismatch("covariance model")
	case cp.Kernels != e.kernelCounts():
		return nil, mismatch("kernels")
	case cp.Error.Type != e.cfg.InitError.Type:
		return nil, mismatch("error model")
	case !slices.Equal(cp.Subjects, ids(subjects)):
		return nil, mismatch("subjects")
	case cp.Iteration < 0 || cp.Iteration > e.cfg.iterations():
		return nil, mismatch("iteration")
	case len(cp.Phi) != len(subjects) || len(cp.CondSum) != len(subjects) || len(cp.CondSq) != len(subjects):
		return nil, mismatch("state shape")
	}
	for _, chains := range cp.Phi {
		if len(chains) != e.cfg.Chains {
			return nil, mismatch("state shape")
		}
	}

	st := &state{
		iteration:   cp.Iteration,
		mu:          cp.Mu,
		omega:       cp.Omega,
		err:         cp.Error,
		s1:          cp.S1,
		s2:          cp.S2,
		s3:          cp.S3,
		coordScale:  cp.CoordinateScale,
		jointScale:  cp.JointScale,
		condSum:     slices.Clone(cp.CondSum),
		condSq:      slices.Clone(cp.CondSq),
		condCount:   cp.CondCount,
		projections: cp.Projections,
		trace:       slices.Clone(cp.Trace),
	}
	st.phi = make([][][2]float64, len(cp.Phi))
	for i := range cp.Phi {
		st.phi[i] = slices.Clone(cp.Phi[i])
	}
	return st, nil
}
