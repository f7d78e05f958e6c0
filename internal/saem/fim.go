package saem

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// linearization is one subject's contribution to the linearized likelihood
// and Fisher information.
type linearization struct {
	logLik float64
	// fixed is the information on mu, variance on the variance parameters
	// (Omega entries then error parameters).
	fixed    *mat.SymDense
	variance *mat.SymDense
}

// numVarianceParams counts Omega entries and error parameters.
func (e *Engine) numVarianceParams(err model.ErrorModel) int {
	n := 2
	if e.cfg.Covariance == Full {
		n = 3
	}
	return n + err.NumParams()
}

// linearize expands the model to first order around phi, the subject's MAP
// estimate. With D = df/dphi at phi the marginal of y is approximately
// N(f + D(mu-phi), V) with V = D*Omega*D.T + diag(g²). It returns the
// Gaussian log-likelihood of that marginal and the Fisher information
// D.T*V^-1*D for mu and 0.5*tr(V^-1 dV_k V^-1 dV_l) for the variance
// parameters.
func (e *Engine) linearize(s *subject, pop *population, phi [2]float64) (linearization, bool) {
	n := len(s.x)
	f := e.h.Evaluate(phi[0], phi[1], s.x)
	d := e.h.Jacobian(phi[0], phi[1], s.x)

	var dOmega mat.Dense
	dOmega.Mul(d, sym(pop.omega))
	var dod mat.Dense
	dod.Mul(&dOmega, d.T())

	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v.SetSym(i, j, 0.5*(dod.At(i, j)+dod.At(j, i)))
		}
		g := pop.err.SD(f[i])
		v.SetSym(i, i, v.At(i, i)+g*g)
	}

	var chol mat.Cholesky
	if !chol.Factorize(v) {
		return linearization{}, false
	}

	eta := mat.NewVecDense(2, []float64{phi[0] - pop.mu[0], phi[1] - pop.mu[1]})
	r := mat.NewVecDense(n, nil)
	r.MulVec(d, eta)
	for i := 0; i < n; i++ {
		r.SetVec(i, r.AtVec(i)+s.y[i]-f[i])
	}
	z := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(z, r); err != nil {
		return linearization{}, false
	}
	out := linearization{
		logLik: -0.5 * (float64(n)*math.Log(2*math.Pi) + chol.LogDet() + mat.Dot(r, z)),
	}

	vinv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(vinv); err != nil {
		return linearization{}, false
	}
	var vd mat.Dense
	vd.Mul(vinv, d)
	var fixed mat.Dense
	fixed.Mul(d.T(), &vd)
	out.fixed = mat.NewSymDense(2, []float64{
		fixed.At(0, 0), 0.5 * (fixed.At(0, 1) + fixed.At(1, 0)),
		0.5 * (fixed.At(0, 1) + fixed.At(1, 0)), fixed.At(1, 1),
	})

	derivs := e.varianceDerivatives(d, f, pop.err)
	ws := make([]*mat.Dense, len(derivs))
	for k, dv := range derivs {
		ws[k] = &mat.Dense{}
		ws[k].Mul(vinv, dv)
	}
	out.variance = mat.NewSymDense(len(derivs), nil)
	for k := range ws {
		for l := k; l < len(ws); l++ {
			out.variance.SetSym(k, l, 0.5*traceProduct(ws[k], ws[l]))
		}
	}
	return out, true
}

// varianceDerivatives returns dV/dpsi for each variance parameter psi.
func (e *Engine) varianceDerivatives(d *mat.Dense, f []float64, em model.ErrorModel) []*mat.Dense {
	n := len(f)
	col := func(j int) *mat.VecDense {
		return mat.VecDenseCopyOf(d.ColView(j))
	}
	outer := func(a, b *mat.VecDense) *mat.Dense {
		m := mat.NewDense(n, n, nil)
		m.Outer(1, a, b)
		return m
	}
	diag := func(fn func(f float64) float64) *mat.Dense {
		m := mat.NewDense(n, n, nil)
		for i, fi := range f {
			m.Set(i, i, fn(fi))
		}
		return m
	}

	d0, d1 := col(0), col(1)
	out := []*mat.Dense{outer(d0, d0), outer(d1, d1)}
	if e.cfg.Covariance == Full {
		cross := outer(d0, d1)
		var sum mat.Dense
		sum.Add(cross, cross.T())
		out = append(out, &sum)
	}

	da := func(float64) float64 { return 2 * em.A }
	db := func(fi float64) float64 { return 2 * em.B * fi * fi }
	switch em.Type {
	case model.Constant:
		out = append(out, diag(da))
	case model.Proportional:
		out = append(out, diag(db))
	case model.Combined:
		out = append(out, diag(da), diag(db))
	}
	return out
}

// traceProduct is tr(a*b).
func traceProduct(a, b *mat.Dense) float64 {
	n, _ := a.Dims()
	t := 0.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			t += a.At(i, j) * b.At(j, i)
		}
	}
	return t
}

// invertInformation returns the square roots of the diagonal of info^-1,
// or false when info is singular.
func invertInformation(info *mat.SymDense) ([]float64, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil, false
	}
	inv := mat.NewSymDense(info.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}
	se := make([]float64, info.SymmetricDim())
	for i := range se {
		se[i] = math.Sqrt(inv.At(i, i))
	}
	return se, true
}
