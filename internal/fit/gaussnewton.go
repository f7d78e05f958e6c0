package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
)

// DefaultGaussNewtonIterations caps the baseline solver.
const DefaultGaussNewtonIterations = 50

// SolveGaussNewton minimizes F with full, undamped Gauss-Newton steps
// x <- x - (J.T*J)^-1 * J.T*f and ignores any bounds on the problem. It is
// the unconstrained baseline the bounded solver is compared against, so it
// fails loudly: a singular J.T*J or a non-finite objective stops it with
// Status Failure.
func SolveGaussNewton(problem Problem, settings *Settings) (*Result, error) {
	problem.Lower, problem.Upper = nil, nil
	if err := checkProblem(problem); err != nil {
		return nil, err
	}
	set := DefaultSettings()
	set.Iterations = DefaultGaussNewtonIterations
	if settings != nil {
		set = *settings
	}
	dim, size := problem.Dim, problem.Size

	dstFunc := make([]float64, size)
	dstJac := mat.NewDense(size, dim, nil)
	dstA := mat.NewSymDense(dim, nil)
	dstGrad := mat.NewVecDense(dim, nil)
	dstH := mat.NewVecDense(dim, nil)

	parameters := make([]float64, dim)
	if problem.InitParams != nil {
		copy(parameters, problem.InitParams)
	}

	result := func(status optimize.Status, iter int, cause error) *Result {
		return &Result{
			X:          parameters,
			F:          0.5 * floats.Dot(dstFunc, dstFunc),
			Residuals:  dstFunc,
			Jac:        dstJac,
			Status:     status,
			Iterations: iter,
			Cause:      cause,
		}
	}

	iter := 0
	for ; ; iter++ {
		problem.Func(dstFunc, parameters)
		cost := 0.5 * floats.Dot(dstFunc, dstFunc)
		if !finite(cost) {
			return result(optimize.Failure, iter, fmt.Errorf("fit: gauss-newton left the model domain at iteration %d", iter)), nil
		}
		if cost <= set.ObjectiveTol {
			return result(optimize.FunctionThreshold, iter, nil), nil
		}
		problem.Jac(dstJac, parameters)
		normalSystem(dstJac, dstFunc, dstA, dstGrad)
		if mat.Norm(dstGrad, math.Inf(1)) <= set.Eps1 {
			return result(optimize.GradientThreshold, iter, nil), nil
		}
		if iter == set.Iterations {
			return result(optimize.IterationLimit, iter, nil), nil
		}

		var chol mat.Cholesky
		if !chol.Factorize(dstA) {
			return result(optimize.Failure, iter, errs.ErrSingularJacobian), nil
		}
		if err := chol.SolveVecTo(dstH, dstGrad); err != nil {
			return result(optimize.Failure, iter, fmt.Errorf("%w: %v", errs.ErrSingularJacobian, err)), nil
		}
		for i := range parameters {
			parameters[i] -= dstH.AtVec(i)
		}
		if mat.Norm(dstH, 2) <= (floats.Norm(parameters, 2)+set.Eps2)*set.Eps2 {
			problem.Func(dstFunc, parameters)
			problem.Jac(dstJac, parameters)
			return result(optimize.StepConvergence, iter+1, nil), nil
		}
	}
}
