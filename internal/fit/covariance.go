package fit

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when the Hessian at the minimum cannot be inverted.
var ErrNotPositiveDefinite = errors.New("fit: hessian is not positive definite")

// stepScales picks a per-parameter finite-difference step proportional to the
// parameter's magnitude, so yields in the thousands and slopes near 0.01 are both
// differentiated accurately.
func stepScales(x []float64, ps []Parameter) []float64 {
	s := make([]float64, len(x))
	for i, v := range x {
		scale := math.Abs(v)
		if i < len(ps) && !math.IsInf(ps[i].Max-ps[i].Min, 0) {
			scale = math.Max(scale, 1e-3*(ps[i].Max-ps[i].Min))
		}
		s[i] = 1e-3 * math.Max(scale, 1e-6)
	}
	return s
}

// scaled evaluates f at x + s∘v.
func scaled(f func([]float64) float64, x, s []float64) func([]float64) float64 {
	return func(v []float64) float64 {
		y := make([]float64, len(x))
		for i := range x {
			y[i] = x[i] + s[i]*v[i]
		}
		return f(y)
	}
}

// Hessian returns the numerical Hessian of f at x in external coordinates.
func Hessian(f func([]float64) float64, x []float64, ps []Parameter) *mat.SymDense {
	n := len(x)
	s := stepScales(x, ps)
	hv := mat.NewSymDense(n, nil)
	fd.Hessian(hv, scaled(f, x, s), make([]float64, n), &fd.Settings{Formula: fd.Central, Step: 1})
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			h.SetSym(i, j, hv.At(i, j)/(s[i]*s[j]))
		}
	}
	return h
}

// Covariance inverts the Hessian of the negative log-likelihood at the minimum.
func Covariance(nll func([]float64) float64, x []float64, ps []Parameter) (*mat.SymDense, error) {
	h := Hessian(nll, x, ps)
	var chol mat.Cholesky
	if ok := chol.Factorize(h); !ok {
		return nil, ErrNotPositiveDefinite
	}
	cov := mat.NewSymDense(len(x), nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, err
	}
	for i := 0; i < len(x); i++ {
		if !(cov.At(i, i) > 0) {
			return nil, ErrNotPositiveDefinite
		}
	}
	return cov, nil
}

// sumW2Correct applies C' = C·H_w2·C.
func sumW2Correct(cov *mat.SymDense, nllW2 func([]float64) float64, x []float64, ps []Parameter) (*mat.SymDense, error) {
	hw2 := Hessian(nllW2, x, ps)
	var tmp, full mat.Dense
	tmp.Mul(cov, hw2)
	full.Mul(&tmp, cov)
	n := len(x)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
		if !(out.At(i, i) > 0) {
			return nil, ErrNotPositiveDefinite
		}
	}
	return out, nil
}

// Propagate returns the linear error of f at x given the covariance of x:
// sqrt(gᵀ C g) with g the numerical gradient.
func Propagate(f func([]float64) float64, x []float64, cov *mat.SymDense, ps []Parameter) float64 {
	n := len(x)
	if n == 0 || cov == nil {
		return 0
	}
	s := stepScales(x, ps)
	gv := fd.Gradient(nil, scaled(f, x, s), make([]float64, n), &fd.Settings{Formula: fd.Central, Step: 1})
	floats.Div(gv, s)
	g := mat.NewVecDense(n, gv)
	v := mat.Inner(g, cov, g)
	if v < 0 {
		return math.NaN()
	}
	return math.Sqrt(v)
}
