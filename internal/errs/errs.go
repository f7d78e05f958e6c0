// Package errs defines the error taxonomy shared by the solvers.
//
// Per-subject failures are recoverable and end up attached to an estimate;
// run-level failures abort the run. Callers match them with errors.Is.
package errs

import "errors"

var (
	// ErrNonConvergence means a solver hit its iteration cap before meeting
	// any tolerance. The estimate is kept and flagged.
	ErrNonConvergence = errors.New("solver did not converge")

	// ErrSingularJacobian means JᵀJ could not be inverted at the solution.
	// Point estimates remain usable, standard errors are undefined.
	ErrSingularJacobian = errors.New("singular jacobian")

	// ErrNumericDivergence means a covariance update left the positive
	// definite cone. The engine projects it back and continues.
	ErrNumericDivergence = errors.New("numeric divergence")

	// ErrInsufficientData means too few observations (per subject) or too
	// few subjects (per cohort) to estimate the requested quantities.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidConfiguration is returned by configuration validation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
