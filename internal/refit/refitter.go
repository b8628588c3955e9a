// Package refit fits the background mixture to the sideband of one pseudo-experiment.
// Only the Vjet yield floats; every shape parameter and the VV and Top yields are
// pinned to the generator's values.
package refit

import (
	"context"
	"fmt"

	"alphabias/domain/channel"
	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal"
	"alphabias/internal/fit"
	"alphabias/internal/model"
)

// FreeKeys are the parameters the sideband refit varies.
var FreeKeys = []string{model.Key(shape.Vjet, model.YieldRole)}

// Request describes one sideband refit.
type Request struct {
	Priors        channel.Priors
	Fractions     shape.Fractions
	ExpectedCount float64
	// Generated is the Poisson-fluctuated size of the pseudo-experiment.
	Generated int
	// NormalizeToGenerated pins the component yields to Generated instead of
	// ExpectedCount.
	NormalizeToGenerated bool
	// Data holds the sideband events. Events outside the sideband are ignored.
	Data *sample.Dataset
}

// Normalization is the total the component yields are derived from.
func (r Request) Normalization() float64 {
	if r.NormalizeToGenerated {
		return float64(r.Generated)
	}
	return r.ExpectedCount
}

// Refitter runs constrained extended fits over the sideband ranges of obs.
type Refitter struct {
	obs       *mass.Observable
	minimizer *fit.Minimizer
	logger    *internal.Logger
}

// New returns a refitter. A nil minimizer uses the careful strategy.
func New(obs *mass.Observable, minimizer *fit.Minimizer, logger *internal.Logger) *Refitter {
	if minimizer == nil {
		minimizer = fit.NewMinimizer(fit.StrategyCareful)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Refitter{obs: obs, minimizer: minimizer, logger: logger.With("refit")}
}

// Build instantiates the fit model for req: fresh shapes with every parameter
// constant, VV and Top yields fixed at N·f, and the Vjet yield free in [0, 2·N·f_Vjet].
func (r *Refitter) Build(req Request) (*model.Mixture, error) {
	n := req.Normalization()
	priors := make(channel.Priors, len(req.Priors))
	for c, spec := range req.Priors {
		priors[c] = shape.Spec{Family: spec.Family, Params: spec.Params.AllConstant()}
	}
	yields := model.FixedYields(n, req.Fractions)
	nVjet := n * req.Fractions[shape.Vjet]
	yields[shape.Vjet] = shape.NewParam(nVjet, 0, 2*nVjet)
	return model.FromPriors(r.obs, priors, yields)
}

// Refit fits the Vjet yield to the sideband data. A fit that fails to converge is
// not an error: it comes back with a non-zero status. Errors mean the fit could not
// be set up or the context was cancelled.
func (r *Refitter) Refit(ctx context.Context, req Request) (*model.Mixture, *fit.Result, error) {
	m, err := r.Build(req)
	if err != nil {
		return nil, nil, err
	}
	params, err := fit.Params(m, FreeKeys)
	if err != nil {
		return nil, nil, err
	}
	sb := r.obs.Ranges(mass.RegionSB)
	nll, nllW2 := fit.Extended(m, req.Data, sb, FreeKeys)
	res, err := r.minimizer.Minimize(ctx, fit.Problem{Params: params, NLL: nll, NLLSumW2: nllW2})
	if err != nil {
		return nil, nil, fmt.Errorf("refit: %w", err)
	}
	fitted, err := fit.Bind(m, FreeKeys, res.Values)
	if err != nil {
		return nil, nil, err
	}
	fitted = fitted.WithErrors(res.ErrorMap())
	if r.logger.Enabled(internal.LogLevelTrace) {
		r.logger.Trace("status=%d nVjet=%.1f±%.1f method=%s evals=%d",
			res.Status, res.Values[0], errAt(res, 0), res.Method, res.Evaluations)
	}
	return fitted, res, nil
}

func errAt(res *fit.Result, i int) float64 {
	if i < len(res.Errors) {
		return res.Errors[i]
	}
	return 0
}
