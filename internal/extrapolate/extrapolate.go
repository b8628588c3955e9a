// Package extrapolate projects a fitted mixture into a blinded region and propagates
// the fit covariance onto the projected yield.
package extrapolate

import (
	"fmt"
	"math"

	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/fit"
	"alphabias/internal/model"
)

// Estimate is the expected count of a mixture inside a region.
type Estimate struct {
	Yield        float64                     `json:"yield"`
	StdErr       float64                     `json:"stderr"`
	PerComponent map[shape.Component]float64 `json:"per_component"`
	// Reliable is false when the fit did not converge or the error is not finite.
	Reliable bool `json:"reliable"`
}

// Extrapolate returns Σ n_i ∫_R p_i for the fitted mixture and its linearly
// propagated error sqrt(gᵀCg), g being the gradient of the yield with respect to the
// fit's free parameters. A nil result gives a zero error.
func Extrapolate(m *model.Mixture, res *fit.Result, ranges []mass.Range) (Estimate, error) {
	est := Estimate{
		Yield:        m.Expected(ranges),
		PerComponent: m.ExpectedByComponent(ranges),
	}
	if res == nil || len(res.Names) == 0 {
		return est, nil
	}
	if len(res.Values) != len(res.Names) {
		return est, fmt.Errorf("extrapolate: %d values for %d parameters", len(res.Values), len(res.Names))
	}
	params, err := fit.Params(m, res.Names)
	if err != nil {
		return est, err
	}
	var bindErr error
	yield := func(x []float64) float64 {
		mm, err := fit.Bind(m, res.Names, x)
		if err != nil {
			bindErr = err
			return math.NaN()
		}
		return mm.Expected(ranges)
	}
	est.StdErr = fit.Propagate(yield, res.Values, res.Covariance, params)
	if bindErr != nil {
		return est, bindErr
	}
	est.Reliable = res.Converged() && !math.IsNaN(est.StdErr) && !math.IsInf(est.StdErr, 0)
	return est, nil
}

// Region is Extrapolate over a named region of the mixture's observable.
func Region(m *model.Mixture, res *fit.Result, r mass.Region) (Estimate, error) {
	return Extrapolate(m, res, m.Observable().Ranges(r))
}
