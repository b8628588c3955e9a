// Package fit minimizes negative log-likelihoods over bounded parameters and derives
// the covariance matrix from the numerical Hessian at the minimum.
package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Status is the fit outcome code. Zero means converged.
type Status int

const (
	StatusOK                Status = 0
	StatusCovarianceInvalid Status = 1
	StatusCallLimit         Status = 3
	StatusFailed            Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "converged"
	case StatusCovarianceInvalid:
		return "covariance not positive definite"
	case StatusCallLimit:
		return "call limit reached"
	case StatusFailed:
		return "minimization failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Strategy trades speed for robustness. 0 uses the simplex method only, 1 runs
// quasi-Newton with a simplex fallback, 2 additionally polishes the quasi-Newton
// minimum with a simplex pass.
type Strategy int

const (
	StrategyFast Strategy = iota
	StrategyDefault
	StrategyCareful
)

// Parameter is a free parameter of a Problem.
type Parameter struct {
	Name  string
	Start float64
	Min   float64
	Max   float64
}

// Problem is a likelihood over named bounded parameters.
type Problem struct {
	Params []Parameter
	// NLL is the negative log-likelihood at external parameter values.
	NLL func(x []float64) float64
	// NLLSumW2 is the same likelihood with squared event weights. When set, the
	// covariance is corrected as C·H_w2·C for weighted data.
	NLLSumW2 func(x []float64) float64
}

// Result is the outcome of Minimize.
type Result struct {
	Status      Status        `json:"status"`
	Names       []string      `json:"names"`
	Values      []float64     `json:"values"`
	Errors      []float64     `json:"errors"`
	Covariance  *mat.SymDense `json:"-"`
	MinNLL      float64       `json:"min_nll"`
	Evaluations int           `json:"evaluations"`
	Method      string        `json:"method"`
	Termination string        `json:"termination"`
}

// Converged reports status zero.
func (r *Result) Converged() bool { return r != nil && r.Status == StatusOK }

// Map returns parameter values by name.
func (r *Result) Map() map[string]float64 {
	out := make(map[string]float64, len(r.Names))
	for i, n := range r.Names {
		out[n] = r.Values[i]
	}
	return out
}

// ErrorMap returns parameter uncertainties by name.
func (r *Result) ErrorMap() map[string]float64 {
	out := make(map[string]float64, len(r.Names))
	for i, n := range r.Names {
		if i < len(r.Errors) {
			out[n] = r.Errors[i]
		}
	}
	return out
}

// Minimizer runs bounded minimizations. The zero value uses StrategyFast.
type Minimizer struct {
	Strategy      Strategy
	MaxIterations int
}

// NewMinimizer returns a minimizer with the given strategy and a default iteration cap.
func NewMinimizer(strategy Strategy) *Minimizer {
	return &Minimizer{Strategy: strategy, MaxIterations: 2000}
}

// Minimize finds the minimum of p.NLL. A malformed problem is an error; a
// minimization that does not converge is reported through Result.Status.
func (m *Minimizer) Minimize(ctx context.Context, p Problem) (*Result, error) {
	if p.NLL == nil {
		return nil, errors.New("fit: problem has no likelihood")
	}
	if len(p.Params) == 0 {
		return nil, errors.New("fit: problem has no free parameters")
	}
	res := &Result{Names: make([]string, len(p.Params))}
	for i, par := range p.Params {
		res.Names[i] = par.Name
	}
	for _, par := range p.Params {
		if !(par.Max > par.Min) {
			res.Status = StatusFailed
			res.Termination = fmt.Sprintf("parameter %s has empty range [%g, %g]", par.Name, par.Min, par.Max)
			res.Values = starts(p.Params)
			return res, nil
		}
	}

	tr := newTransform(p.Params)
	internal := func(u []float64) float64 {
		v := p.NLL(tr.external(u))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.MaxFloat64 / 1e10
		}
		return v
	}
	problem := optimize.Problem{
		Func: internal,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, internal, u, &fd.Settings{Formula: fd.Central, Step: 1e-5})
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	u0 := tr.internal(starts(p.Params))
	loc, status, evals, method, err := m.run(problem, u0)
	res.Evaluations = evals
	res.Method = method
	res.Termination = status.String()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if loc == nil {
		res.Status = StatusFailed
		res.Values = starts(p.Params)
		if err != nil {
			res.Termination = err.Error()
		}
		return res, nil
	}

	res.Values = tr.external(loc.X)
	res.MinNLL = p.NLL(res.Values)
	switch {
	case converged(status):
		res.Status = StatusOK
	case limited(status):
		res.Status = StatusCallLimit
	default:
		res.Status = StatusFailed
	}

	cov, covErr := Covariance(p.NLL, res.Values, p.Params)
	if covErr == nil && p.NLLSumW2 != nil {
		cov, covErr = sumW2Correct(cov, p.NLLSumW2, res.Values, p.Params)
	}
	if covErr != nil {
		if res.Status == StatusOK {
			res.Status = StatusCovarianceInvalid
		}
		res.Errors = make([]float64, len(res.Values))
		return res, nil
	}
	res.Covariance = cov
	res.Errors = make([]float64, len(res.Values))
	for i := range res.Errors {
		res.Errors[i] = math.Sqrt(cov.At(i, i))
	}
	return res, nil
}

func (m *Minimizer) settings() *optimize.Settings {
	iters := m.MaxIterations
	if iters <= 0 {
		iters = 2000
	}
	return &optimize.Settings{
		MajorIterations:   iters,
		GradientThreshold: 1e-6,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-12,
			Iterations: 40,
		},
	}
}

func (m *Minimizer) run(p optimize.Problem, u0 []float64) (*optimize.Location, optimize.Status, int, string, error) {
	simplex := func(x []float64) (*optimize.Result, error) {
		return optimize.Minimize(p, x, m.settings(), &optimize.NelderMead{})
	}
	if m.Strategy == StrategyFast {
		r, err := simplex(u0)
		return unpack(r, err, "simplex")
	}

	r, err := optimize.Minimize(p, u0, m.settings(), &optimize.BFGS{})
	if err != nil || r == nil || !converged(r.Status) {
		start := u0
		if r != nil && r.X != nil {
			start = r.X
		}
		evals := 0
		if r != nil {
			evals = r.Stats.FuncEvaluations
		}
		r2, err2 := simplex(start)
		loc, st, n, _, e := unpack(r2, err2, "")
		return loc, st, n + evals, "bfgs+simplex", e
	}
	if m.Strategy == StrategyCareful {
		r2, err2 := simplex(r.X)
		if err2 == nil && r2 != nil && converged(r2.Status) && r2.F <= r.F {
			return &r2.Location, r2.Status, r.Stats.FuncEvaluations + r2.Stats.FuncEvaluations, "bfgs+simplex", nil
		}
	}
	return unpack(r, err, "bfgs")
}

func unpack(r *optimize.Result, err error, method string) (*optimize.Location, optimize.Status, int, string, error) {
	if r == nil {
		return nil, optimize.Failure, 0, method, err
	}
	status := r.Status
	if err != nil && converged(status) {
		status = optimize.Failure
	}
	return &r.Location, status, r.Stats.FuncEvaluations, method, err
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.FunctionThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

func limited(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit:
		return true
	}
	return false
}

func starts(ps []Parameter) []float64 {
	x := make([]float64, len(ps))
	for i, p := range ps {
		x[i] = p.Start
	}
	return x
}
