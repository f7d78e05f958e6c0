package saem

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// varianceFloor is the smallest eigenvalue kept by the covariance projection.
const varianceFloor = 1e-10

func sym(m [2][2]float64) *mat.SymDense {
	return mat.NewSymDense(2, []float64{m[0][0], m[0][1], m[1][0], m[1][1]})
}

func fromSym(s mat.Symmetric) [2][2]float64 {
	return [2][2]float64{
		{s.At(0, 0), s.At(0, 1)},
		{s.At(1, 0), s.At(1, 1)},
	}
}

// choleskyLower returns L with L*L.T = m.
func choleskyLower(m [2][2]float64) ([2][2]float64, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(sym(m)) {
		return [2][2]float64{}, false
	}
	var l mat.TriDense
	chol.LTo(&l)
	return [2][2]float64{
		{l.At(0, 0), 0},
		{l.At(1, 0), l.At(1, 1)},
	}, true
}

// precision bundles what the kernels need of the current covariance.
type precision struct {
	chol    [2][2]float64
	inv     [2][2]float64
	logDet  float64
	cholInv [2][2]float64
}

func newPrecision(omega [2][2]float64) (precision, bool) {
	l, ok := choleskyLower(omega)
	if !ok {
		return precision{}, false
	}
	li := [2][2]float64{
		{1 / l[0][0], 0},
		{-l[1][0] / (l[0][0] * l[1][1]), 1 / l[1][1]},
	}
	var p precision
	p.chol = l
	p.cholInv = li
	// inv = Li.T * Li
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			p.inv[i][j] = li[0][i]*li[0][j] + li[1][i]*li[1][j]
		}
	}
	p.logDet = 2 * (math.Log(l[0][0]) + math.Log(l[1][1]))
	return p, true
}

// quad is eta.T * Omega^-1 * eta.
func (p precision) quad(eta [2]float64) float64 {
	return eta[0]*(p.inv[0][0]*eta[0]+p.inv[0][1]*eta[1]) + eta[1]*(p.inv[1][0]*eta[0]+p.inv[1][1]*eta[1])
}

// logPrior is log N(phi; mu, Omega) without the constant.
func (p precision) logPrior(phi, mu [2]float64) float64 {
	return -0.5 * p.quad([2]float64{phi[0] - mu[0], phi[1] - mu[1]})
}

// draw returns mu + L*z.
func (p precision) draw(mu [2]float64, z [2]float64) [2]float64 {
	return [2]float64{
		mu[0] + p.chol[0][0]*z[0],
		mu[1] + p.chol[1][0]*z[0] + p.chol[1][1]*z[1],
	}
}

// whiten returns L^-1 * (phi - mu).
func (p precision) whiten(phi, mu [2]float64) [2]float64 {
	e0, e1 := phi[0]-mu[0], phi[1]-mu[1]
	return [2]float64{
		p.cholInv[0][0] * e0,
		p.cholInv[1][0]*e0 + p.cholInv[1][1]*e1,
	}
}

// projectPD clips the eigenvalues of m at varianceFloor. It reports whether
// m had to change.
func projectPD(m [2][2]float64) ([2][2]float64, bool) {
	if m[0][1] == 0 && m[1][0] == 0 {
		changed := false
		for i := 0; i < 2; i++ {
			if !(m[i][i] > varianceFloor) {
				m[i][i] = varianceFloor
				changed = true
			}
		}
		return m, changed
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym(m), true) {
		return [2][2]float64{{varianceFloor, 0}, {0, varianceFloor}}, true
	}
	values := eig.Values(nil)
	changed := false
	for i, v := range values {
		if !(v > varianceFloor) {
			values[i] = varianceFloor
			changed = true
		}
	}
	if !changed {
		return m, false
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	var scaled mat.Dense
	scaled.Mul(&vectors, mat.NewDiagDense(2, values))
	var out mat.Dense
	out.Mul(&scaled, vectors.T())
	return [2][2]float64{
		{out.At(0, 0), 0.5 * (out.At(0, 1) + out.At(1, 0))},
		{0.5 * (out.At(0, 1) + out.At(1, 0)), out.At(1, 1)},
	}, true
}
