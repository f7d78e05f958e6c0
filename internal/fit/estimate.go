package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HamletTheHamster/social-discounting/internal/config"
	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// Method selects the per-subject solver.
type Method string

const (
	// BoundedLM is the box-constrained Levenberg-Marquardt solver.
	BoundedLM Method = "lm"
	// GaussNewton is the undamped, unbounded comparison mode.
	GaussNewton Method = "gn"
	// UnboundedLM is the reference solver from github.com/maorshutman/lm.
	UnboundedLM Method = "lm-unbounded"
)

// ParseMethod validates a configuration spelling.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case BoundedLM, GaussNewton, UnboundedLM:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown solver method %q", errs.ErrInvalidConfiguration, s)
}

// Options configures FitSubject.
type Options struct {
	Method   Method
	Settings Settings
	// Init is the starting (theta, delta).
	Init [2]float64
	// Lower and Upper bound (theta, delta) for BoundedLM.
	Lower, Upper [2]float64
}

// DefaultOptions is the reference bounded fit: start at (1, 1), box [0, 5]².
func DefaultOptions() Options {
	return Options{
		Method:   BoundedLM,
		Settings: DefaultSettings(),
		Init:     [2]float64{1, 1},
		Lower:    [2]float64{0, 0},
		Upper:    [2]float64{5, 5},
	}
}

// settings are the solver settings of o. Gauss-Newton left on the bounded
// defaults gets its own iteration cap.
func (o Options) settings() Settings {
	set := o.Settings
	if o.Method == GaussNewton && set == DefaultSettings() {
		set.Iterations = DefaultGaussNewtonIterations
	}
	return set
}

// OptionsFromConfig maps the solver section of cfg onto Options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	method, err := ParseMethod(cfg.Solver.Method)
	if err != nil {
		return Options{}, err
	}
	iterations := cfg.Solver.MaxIterations
	if method == GaussNewton {
		iterations = cfg.Solver.GNIterations
	}
	return Options{
		Method: method,
		Settings: Settings{
			Iterations:   iterations,
			Tau:          cfg.Solver.Tau,
			Eps1:         cfg.Solver.GradTol,
			Eps2:         cfg.Solver.StepTol,
			ObjectiveTol: cfg.Solver.ObjectiveTol,
		},
		Init:  [2]float64{cfg.Solver.InitTheta, cfg.Solver.InitDelta},
		Lower: [2]float64{cfg.ThetaBounds.Lo, cfg.DeltaBounds.Lo},
		Upper: [2]float64{cfg.ThetaBounds.Hi, cfg.DeltaBounds.Hi},
	}, nil
}

// ParameterEstimate is the fit of one subject by one method. It is created
// once and not modified afterwards.
type ParameterEstimate struct {
	SubjectID int
	Method    Method
	Theta     float64
	Delta     float64
	SETheta   float64
	SEDelta   float64
	// Residuals are y - f(theta, delta, x), one per observed response, in
	// observation order.
	Residuals     []float64
	RSS           float64
	LogLikelihood float64
	NumObserved   int
	Converged     bool
	Status        optimize.Status
	Iterations    int
	// Issue joins the recoverable problems met during the fit
	// (errs.ErrNonConvergence, errs.ErrSingularJacobian,
	// errs.ErrInsufficientData), nil for a clean fit.
	Issue error
}

// Trustworthy reports a converged fit with defined standard errors.
func (e ParameterEstimate) Trustworthy() bool {
	return e.Converged && e.Issue == nil && !math.IsNaN(e.SETheta) && !math.IsNaN(e.SEDelta)
}

// FitSubject fits the curve to one subject's observed responses.
//
// The standard errors are the square roots of the diagonal of
// (J.T*J)^-1 * RSS/(n-2) at the solution; they are NaN when n <= 2 or J.T*J is
// singular. The log-likelihood is the Gaussian one with the maximum likelihood
// variance RSS/n. Fewer than two observations yield an estimate flagged with
// errs.ErrInsufficientData and NaN values.
func FitSubject(
	h model.Hyperbolic,
	subject data.Subject,
	opts Options,
) (
	ParameterEstimate,
) {
	x, y := subject.Observed()
	n := len(x)
	est := ParameterEstimate{
		SubjectID:     subject.ID,
		Method:        opts.Method,
		Theta:         math.NaN(),
		Delta:         math.NaN(),
		SETheta:       math.NaN(),
		SEDelta:       math.NaN(),
		RSS:           math.NaN(),
		LogLikelihood: math.NaN(),
		NumObserved:   n,
	}
	if n < model.NumParams {
		est.Issue = fmt.Errorf("%w: subject %d has %d observed responses", errs.ErrInsufficientData, subject.ID, n)
		return est
	}

	f := func(dst, param []float64) {
		h.EvaluateTo(dst, param[0], param[1], x)
		for i := range dst {
			dst[i] -= y[i]
		}
	}
	jac := func(dst *mat.Dense, param []float64) {
		h.JacobianTo(dst, param[0], param[1], x)
	}
	problem := Problem{
		Dim:        model.NumParams,
		Size:       n,
		Func:       f,
		Jac:        jac,
		InitParams: opts.Init[:],
	}

	settings := opts.settings()
	var (
		res *Result
		err error
	)
	switch opts.Method {
	case GaussNewton:
		res, err = SolveGaussNewton(problem, &settings)
	case UnboundedLM:
		res, err = SolveReference(problem, &settings)
	default:
		problem.Lower, problem.Upper = opts.Lower[:], opts.Upper[:]
		res, err = Solve(problem, &settings)
	}
	if err != nil {
		est.Issue = err
		return est
	}

	est.Theta, est.Delta = res.X[0], res.X[1]
	est.Status = res.Status
	est.Iterations = res.Iterations
	est.Converged = res.Converged()

	var issues []error
	if res.Cause != nil {
		issues = append(issues, res.Cause)
	}
	if res.Status == optimize.IterationLimit {
		issues = append(issues, fmt.Errorf("%w: subject %d after %d iterations", errs.ErrNonConvergence, subject.ID, res.Iterations))
	}

	est.Residuals = make([]float64, n)
	for i, r := range res.Residuals {
		est.Residuals[i] = -r
	}
	est.RSS = 2 * res.F
	est.LogLikelihood = -0.5 * float64(n) * (math.Log(2*math.Pi*est.RSS/float64(n)) + 1)

	if finite(est.RSS) && n > model.NumParams {
		se, ok := standardErrors(res.Jac, est.RSS/float64(n-model.NumParams))
		if ok {
			est.SETheta, est.SEDelta = se[0], se[1]
		} else {
			issues = append(issues, fmt.Errorf("%w: subject %d", errs.ErrSingularJacobian, subject.ID))
		}
	}
	est.Issue = errors.Join(issues...)
	return est
}

// conditionLimit is the largest condition number of J.T*J that is still
// inverted for standard errors.
const conditionLimit = 1e14

// standardErrors returns sqrt(diag((J.T*J)^-1 * sigma2)).
func standardErrors(jac *mat.Dense, sigma2 float64) ([]float64, bool) {
	_, c := jac.Dims()
	a := mat.NewSymDense(c, nil)
	a.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if !chol.Factorize(a) || chol.Cond() > conditionLimit {
		return nil, false
	}
	inv := mat.NewSymDense(c, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}
	se := make([]float64, c)
	for i := range se {
		se[i] = math.Sqrt(inv.At(i, i) * sigma2)
	}
	return se, true
}
