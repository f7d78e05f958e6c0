package fit

import (
	"fmt"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/errs"
)

// SolveReference runs the unbounded Levenberg-Marquardt solver of
// github.com/maorshutman/lm on the problem. Bounds are ignored. That solver
// panics on a singular damped system; the panic is turned into a Failure
// result carrying errs.ErrSingularJacobian.
func SolveReference(problem Problem, settings *Settings) (res *Result, err error) {
	problem.Lower, problem.Upper = nil, nil
	if err := checkProblem(problem); err != nil {
		return nil, err
	}
	set := DefaultSettings()
	if settings != nil {
		set = *settings
	}

	init := make([]float64, problem.Dim)
	if problem.InitParams != nil {
		copy(init, problem.InitParams)
	}

	toBeSolved := lm.LMProblem{
		Dim:        problem.Dim,
		Size:       problem.Size,
		Func:       problem.Func,
		Jac:        problem.Jac,
		InitParams: init,
		Tau:        set.Tau,
		Eps1:       set.Eps1,
		Eps2:       set.Eps2,
	}

	defer func() {
		if r := recover(); r != nil {
			res = evaluate(problem, init, optimize.Failure)
			res.Cause = fmt.Errorf("%w: %v", errs.ErrSingularJacobian, r)
			err = nil
		}
	}()

	results, err := lm.LM(toBeSolved, &lm.Settings{Iterations: set.Iterations, ObjectiveTol: set.ObjectiveTol})
	if err != nil {
		return nil, fmt.Errorf("fit: reference solver: %w", err)
	}
	return evaluate(problem, results.X, results.Status), nil
}

// evaluate fills a Result at x.
func evaluate(problem Problem, x []float64, status optimize.Status) *Result {
	params := append([]float64(nil), x...)
	dstFunc := make([]float64, problem.Size)
	dstJac := mat.NewDense(problem.Size, problem.Dim, nil)
	problem.Func(dstFunc, params)
	problem.Jac(dstJac, params)
	res := &Result{
		X:         params,
		F:         0.5 * floats.Dot(dstFunc, dstFunc),
		Residuals: dstFunc,
		Jac:       dstJac,
		Status:    status,
	}
	if !finite(res.F) {
		res.Status = optimize.Failure
		res.Cause = errNotFinite
	}
	return res
}
