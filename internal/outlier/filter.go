// Package outlier removes subjects whose least-squares fits are implausible
// before the population fit.
package outlier

import (
	"fmt"
	"math"

	"github.com/HamletTheHamster/social-discounting/internal/config"
	"github.com/HamletTheHamster/social-discounting/internal/fit"
)

// Thresholds are the exclusive upper limits of a retained estimate.
type Thresholds struct {
	ThetaMax float64
	DeltaMax float64
}

// DefaultThresholds are the reference limits theta < 3, delta < 2.
func DefaultThresholds() Thresholds {
	return Thresholds{ThetaMax: 3, DeltaMax: 2}
}

// ThresholdsFromConfig reads the outlier limits of cfg.
func ThresholdsFromConfig(cfg config.Config) Thresholds {
	return Thresholds{ThetaMax: cfg.OutlierThetaMax, DeltaMax: cfg.OutlierDeltaMax}
}

// Reason says why a subject was excluded.
type Reason string

const (
	ThetaTooLarge Reason = "theta-above-threshold"
	DeltaTooLarge Reason = "delta-above-threshold"
	NotConverged  Reason = "not-converged"
	Undefined     Reason = "undefined-estimate"
)

// Exclusion records one removed subject.
type Exclusion struct {
	SubjectID int
	Reason    Reason
	Theta     float64
	Delta     float64
}

func (e Exclusion) String() string {
	return fmt.Sprintf("subject %d: %s (theta=%g, delta=%g)", e.SubjectID, e.Reason, e.Theta, e.Delta)
}

// Outcome splits the input of Filter. Kept preserves input order.
type Outcome struct {
	Kept     []fit.ParameterEstimate
	Excluded []Exclusion
}

// KeptIDs lists the retained subject ids in order.
func (o Outcome) KeptIDs() []int {
	ids := make([]int, len(o.Kept))
	for i, est := range o.Kept {
		ids[i] = est.SubjectID
	}
	return ids
}

// Exclusion returns the exclusion of subject id, if any.
func (o Outcome) Exclusion(id int) (Exclusion, bool) {
	for _, ex := range o.Excluded {
		if ex.SubjectID == id {
			return ex, true
		}
	}
	return Exclusion{}, false
}

// Filter drops every estimate with theta >= ThetaMax or delta >= DeltaMax.
// Estimates that did not converge or carry NaN parameters are dropped too, so
// the survivors are always a subset of the converged fits. Filter is pure and
// idempotent.
func Filter(estimates []fit.ParameterEstimate, th Thresholds) Outcome {
	var out Outcome
	for _, est := range estimates {
		if reason, drop := classify(est, th); drop {
			out.Excluded = append(out.Excluded, Exclusion{
				SubjectID: est.SubjectID,
				Reason:    reason,
				Theta:     est.Theta,
				Delta:     est.Delta,
			})
			continue
		}
		out.Kept = append(out.Kept, est)
	}
	return out
}

func classify(est fit.ParameterEstimate, th Thresholds) (Reason, bool) {
	switch {
	case math.IsNaN(est.Theta) || math.IsNaN(est.Delta):
		return Undefined, true
	case !est.Converged:
		return NotConverged, true
	case est.Theta >= th.ThetaMax:
		return ThetaTooLarge, true
	case est.Delta >= th.DeltaMax:
		return DeltaTooLarge, true
	}
	return "", false
}
