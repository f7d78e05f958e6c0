/*
Package fit implements the per-subject least-squares fits of the discounting
curve.

Given residual functions f:Rn -> Rm (m >= n) the solvers seek a point x that
minimizes F(x) = 0.5 * f.T * f, optionally inside a box Lower <= x <= Upper.
Three solvers share the Problem/Settings shape:

  - Solve: Levenberg-Marquardt with Marquardt scaling and box constraints.
  - SolveGaussNewton: undamped, unbounded Gauss-Newton, used as a baseline.
  - SolveReference: the unbounded github.com/maorshutman/lm solver.
*/
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Problem is a non-linear least squares problem. The objective function is
// F = 0.5 * f.T * f, where f:Rn -> Rm and m >= n.
type Problem struct {
	// Dim is the dimension of the parameters of the problem (n).
	Dim int
	// Size specifies the number of nonlinear functions (m).
	Size int
	// Func computes the residual vector at param.
	Func func(dst, param []float64)
	// Jac computes the jacobian matrix of Func.
	Jac func(dst *mat.Dense, param []float64)
	// InitParams stores the initial guess. Defaults to the zero vector when nil.
	InitParams []float64
	// Lower and Upper bound the parameters. Either may be nil for no bound;
	// infinite entries leave a single side open.
	Lower, Upper []float64
}

// Settings controls termination.
type Settings struct {
	// Iterations is the maximum number of iterations, accepted or not.
	Iterations int
	// Tau is the initial damping factor.
	Tau float64
	// Eps1 stops when the (projected) gradient's infinity norm falls below it.
	Eps1 float64
	// Eps2 stops when a step is smaller than Eps2*(||x||+Eps2).
	Eps2 float64
	// ObjectiveTol stops when F falls below it.
	ObjectiveTol float64
}

// DefaultSettings are the bounded LM defaults.
func DefaultSettings() Settings {
	return Settings{
		Iterations:   1024,
		Tau:          1e-3,
		Eps1:         1e-10,
		Eps2:         1e-10,
		ObjectiveTol: 1e-24,
	}
}

// Result is the outcome of a solve.
type Result struct {
	X []float64
	// F is 0.5 * f.T * f at X.
	F float64
	// Residuals is f(X).
	Residuals []float64
	// Jac is the jacobian at X.
	Jac        *mat.Dense
	Status     optimize.Status
	Iterations int
	// Cause is set when the solver stopped on a numerical failure.
	Cause error
}

// Converged reports whether the solver met one of its tolerances.
func (r *Result) Converged() bool {
	return r.Status != optimize.IterationLimit && r.Status != optimize.Failure && r.Status != optimize.NotTerminated
}

var errNotFinite = errors.New("fit: objective is not finite")

// maxDamping ends the search once no step shorter than the step tolerance
// can be found anyway.
const maxDamping = 1e32

func checkProblem(problem Problem) error {
	if problem.Dim <= 0 {
		return fmt.Errorf("fit: problem dimension is %d", problem.Dim)
	}
	if problem.Size <= 0 {
		return fmt.Errorf("fit: problem size is %d", problem.Size)
	}
	if problem.Func == nil || problem.Jac == nil {
		return fmt.Errorf("fit: problem needs both Func and Jac")
	}
	if problem.InitParams != nil && len(problem.InitParams) != problem.Dim {
		return fmt.Errorf("fit: %d initial parameters for dimension %d", len(problem.InitParams), problem.Dim)
	}
	if problem.Lower != nil && len(problem.Lower) != problem.Dim {
		return fmt.Errorf("fit: %d lower bounds for dimension %d", len(problem.Lower), problem.Dim)
	}
	if problem.Upper != nil && len(problem.Upper) != problem.Dim {
		return fmt.Errorf("fit: %d upper bounds for dimension %d", len(problem.Upper), problem.Dim)
	}
	for i := 0; i < problem.Dim; i++ {
		if lower(problem, i) > upper(problem, i) {
			return fmt.Errorf("fit: bounds of parameter %d are inverted", i)
		}
	}
	return nil
}

func lower(problem Problem, i int) float64 {
	if problem.Lower == nil {
		return math.Inf(-1)
	}
	return problem.Lower[i]
}

func upper(problem Problem, i int) float64 {
	if problem.Upper == nil {
		return math.Inf(1)
	}
	return problem.Upper[i]
}

// project clips x onto the feasible box in place.
func project(problem Problem, x []float64) {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], lower(problem, i)), upper(problem, i))
	}
}

// freeSet marks the parameters that may move in the next step. A parameter
// sitting on a bound whose descent direction points out of the box is held.
func freeSet(problem Problem, x []float64, grad *mat.VecDense, dst []bool) {
	for i := range x {
		g := grad.AtVec(i)
		switch {
		case x[i] <= lower(problem, i) && g > 0:
			dst[i] = false
		case x[i] >= upper(problem, i) && g < 0:
			dst[i] = false
		default:
			dst[i] = true
		}
	}
}

func projectedGradNorm(grad *mat.VecDense, free []bool) float64 {
	norm := 0.
	for i, ok := range free {
		if ok {
			norm = math.Max(norm, math.Abs(grad.AtVec(i)))
		}
	}
	return norm
}

// dampedStep solves (A + lambda*D) h = g restricted to the free parameters,
// where D is the diagonal of A floored relative to its largest entry. Held
// parameters get a zero step.
func dampedStep(
	a *mat.SymDense, grad *mat.VecDense, free []bool, lambda float64, dst *mat.VecDense,
) (
	bool,
) {
	dst.Zero()
	var idx []int
	maxDiag := 0.
	for i, ok := range free {
		maxDiag = math.Max(maxDiag, a.At(i, i))
		if ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return true
	}
	if !(maxDiag > 0) {
		return false
	}

	k := len(idx)
	m := mat.NewSymDense(k, nil)
	rhs := mat.NewVecDense(k, nil)
	for p, i := range idx {
		for q := p; q < k; q++ {
			m.SetSym(p, q, a.At(i, idx[q]))
		}
		d := math.Max(a.At(i, i), 1e-12*maxDiag)
		m.SetSym(p, p, a.At(i, i)+lambda*d)
		rhs.SetVec(p, grad.AtVec(i))
	}

	var chol mat.Cholesky
	if !chol.Factorize(m) {
		return false
	}
	h := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(h, rhs); err != nil {
		return false
	}
	for p, i := range idx {
		dst.SetVec(i, h.AtVec(p))
	}
	return true
}

// normalSystem evaluates A = J.T * J and g = J.T * f.
func normalSystem(jac *mat.Dense, f []float64, a *mat.SymDense, grad *mat.VecDense) {
	a.SymOuterK(1, jac.T())
	grad.MulVec(jac.T(), mat.NewVecDense(len(f), f))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Solve minimizes F inside the box with the Levenberg-Marquardt method.
//
// At each iteration the damped normal equations
// (J.T*J + lambda*diag(J.T*J)) h = J.T*f are solved over the parameters that
// are free to move, the step is projected onto the box and accepted when it
// reduces F. The damping follows Nielsen: on success
// lambda *= max(1/3, 1-(2*rho-1)^3), on failure it grows geometrically.
// The returned X always lies inside the box.
//
// References:
//   - Madsen, Kaj, Hans Bruun Nielsen, and Ole Tingleff. "Methods for non-linear least squares
//     problems.", 2nd edition, 2004.
//   - Kanzow, Yamashita, Fukushima. "Levenberg-Marquardt methods with strong local convergence
//     properties for solving nonlinear equations with convex constraints", 2004.
func Solve(problem Problem, settings *Settings) (*Result, error) {
	if err := checkProblem(problem); err != nil {
		return nil, err
	}
	set := DefaultSettings()
	if settings != nil {
		set = *settings
	}
	dim, size := problem.Dim, problem.Size

	dstFunc := make([]float64, size)
	dstFuncNew := make([]float64, size)
	dstJac := mat.NewDense(size, dim, nil)
	dstA := mat.NewSymDense(dim, nil)
	dstGrad := mat.NewVecDense(dim, nil)
	dstH := mat.NewVecDense(dim, nil)
	free := make([]bool, dim)

	parameters := make([]float64, dim)
	parametersNew := make([]float64, dim)
	step := make([]float64, dim)
	if problem.InitParams != nil {
		copy(parameters, problem.InitParams)
	}
	project(problem, parameters)

	problem.Func(dstFunc, parameters)
	cost := 0.5 * floats.Dot(dstFunc, dstFunc)
	if !finite(cost) {
		return &Result{
			X:         parameters,
			F:         cost,
			Residuals: dstFunc,
			Jac:       dstJac,
			Status:    optimize.Failure,
			Cause:     errNotFinite,
		}, nil
	}
	problem.Jac(dstJac, parameters)
	normalSystem(dstJac, dstFunc, dstA, dstGrad)

	lambda := set.Tau
	nu := 2.0
	status := optimize.NotTerminated

	iter := 0
	for ; ; iter++ {
		if cost <= set.ObjectiveTol {
			status = optimize.FunctionThreshold
			break
		}
		freeSet(problem, parameters, dstGrad, free)
		if projectedGradNorm(dstGrad, free) <= set.Eps1 {
			status = optimize.GradientThreshold
			break
		}
		if iter == set.Iterations {
			status = optimize.IterationLimit
			break
		}
		if lambda > maxDamping {
			status = optimize.StepConvergence
			break
		}

		if !dampedStep(dstA, dstGrad, free, lambda, dstH) {
			lambda *= nu
			nu *= 2
			continue
		}

		for i := range parameters {
			parametersNew[i] = parameters[i] - dstH.AtVec(i)
		}
		project(problem, parametersNew)
		floats.SubTo(step, parameters, parametersNew)

		if tol := (floats.Norm(parameters, 2) + set.Eps2) * set.Eps2; floats.Norm(step, 2) <= tol {
			if mat.Norm(dstH, 2) <= tol {
				status = optimize.StepConvergence
				break
			}
			// The box swallowed the whole step: shorten it instead.
			lambda *= nu
			nu *= 2
			continue
		}

		problem.Func(dstFuncNew, parametersNew)
		costNew := 0.5 * floats.Dot(dstFuncNew, dstFuncNew)

		// Predicted reduction of the local linear model for the projected
		// step s = x - x_new: L(0) - L(s) = s.T*g - 0.5*s.T*A*s.
		s := mat.NewVecDense(dim, step)
		predicted := mat.Dot(s, dstGrad) - 0.5*mat.Inner(s, dstA, s)

		if finite(costNew) && costNew < cost {
			rho := (cost - costNew) / math.Abs(predicted)
			copy(parameters, parametersNew)
			copy(dstFunc, dstFuncNew)
			cost = costNew
			problem.Jac(dstJac, parameters)
			normalSystem(dstJac, dstFunc, dstA, dstGrad)
			lambda *= math.Max(1.0/3.0, 1-math.Pow(2*math.Min(rho, 1)-1, 3))
			nu = 2.0
		} else {
			lambda *= nu
			nu *= 2.0
		}
	}

	return &Result{
		X:          parameters,
		F:          cost,
		Residuals:  dstFunc,
		Jac:        dstJac,
		Status:     status,
		Iterations: iter,
	}, nil
}
