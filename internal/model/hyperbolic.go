// Package model holds the structural model of social discounting and the
// residual error models layered on top of it.
//
// The structural model is the hyperbolic curve
//
//	f(theta, delta, x) = theta * K / (1 + delta * x)
//
// where x is the social distance and K the scale of the response
// (75 in the reference experiment).
package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultK is the response scale used by the reference experiment.
const DefaultK = 75.

// NumParams is the number of structural parameters (theta, delta).
const NumParams = 2

// Hyperbolic evaluates the discounting curve for a fixed scale K.
// The zero value is not usable; use NewHyperbolic.
type Hyperbolic struct {
	K float64
}

// NewHyperbolic returns the curve with scale k.
func NewHyperbolic(k float64) Hyperbolic {
	return Hyperbolic{K: k}
}

// At evaluates the curve at a single predictor.
func (h Hyperbolic) At(theta, delta, x float64) float64 {
	return theta * h.K / (1 + delta*x)
}

// Evaluate returns f(theta, delta, x_i) for every predictor.
func (h Hyperbolic) Evaluate(
	theta, delta float64,
	x []float64,
) (
	[]float64,
) {
	dst := make([]float64, len(x))
	h.EvaluateTo(dst, theta, delta, x)
	return dst
}

// EvaluateTo is Evaluate writing into dst, which must have len(x) elements.
func (h Hyperbolic) EvaluateTo(dst []float64, theta, delta float64, x []float64) {
	if len(dst) != len(x) {
		panic("model: length mismatch")
	}
	for i, xi := range x {
		dst[i] = h.At(theta, delta, xi)
	}
}

// Jacobian returns the len(x) x 2 matrix of partial derivatives with respect
// to (theta, delta).
func (h Hyperbolic) Jacobian(
	theta, delta float64,
	x []float64,
) (
	*mat.Dense,
) {
	dst := mat.NewDense(len(x), NumParams, nil)
	h.JacobianTo(dst, theta, delta, x)
	return dst
}

// JacobianTo is Jacobian writing into dst.
func (h Hyperbolic) JacobianTo(dst *mat.Dense, theta, delta float64, x []float64) {
	r, c := dst.Dims()
	if r != len(x) || c != NumParams {
		panic("model: jacobian has wrong shape")
	}
	for i, xi := range x {
		den := 1 + delta*xi
		dst.Set(i, 0, h.K/den)
		dst.Set(i, 1, -theta*h.K*xi/(den*den))
	}
}

// InDomain reports whether 1 + delta*x stays positive for every predictor,
// i.e. delta > -1/max(x).
func (h Hyperbolic) InDomain(delta float64, x []float64) bool {
	if math.IsNaN(delta) {
		return false
	}
	for _, xi := range x {
		if 1+delta*xi <= 0 {
			return false
		}
	}
	return true
}

// DomainFloor is the smallest admissible delta for the predictors x.
func DomainFloor(x []float64) float64 {
	maxX := 0.
	for _, xi := range x {
		maxX = math.Max(maxX, xi)
	}
	if maxX == 0 {
		return math.Inf(-1)
	}
	return -1 / maxX
}
