// Package estimate predicts the background in the signal and validation regions from
// a fit to the data sidebands, with statistical, shape-systematic and
// alternative-function uncertainties.
package estimate

import (
	"context"
	"fmt"
	"math"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/run"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal"
	"alphabias/internal/extrapolate"
	"alphabias/internal/fit"
	"alphabias/internal/model"
	"alphabias/internal/pdf"
	"alphabias/internal/prefit"
)

// Result is the background estimate with the fitted models behind it.
type Result struct {
	Background run.Background
	Fitted     *model.Mixture
	Fit        *fit.Result
	Alt        *model.Mixture
	AltFit     *fit.Result
	// ObservedSB is the data count in the sidebands.
	ObservedSB float64
}

// Estimator fits the data sidebands.
type Estimator struct {
	obs       *mass.Observable
	minimizer *fit.Minimizer
	logger    *internal.Logger
}

// New returns an estimator. A nil minimizer uses the careful strategy.
func New(obs *mass.Observable, minimizer *fit.Minimizer, logger *internal.Logger) *Estimator {
	if minimizer == nil {
		minimizer = fit.NewMinimizer(fit.StrategyCareful)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Estimator{obs: obs, minimizer: minimizer, logger: logger.With("estimate")}
}

// Estimate fits the sideband data with the VV and Top shapes and yields pinned to
// simulation (the Top yield scaled by the channel's top scale factor) and the Vjet
// shape and yield floating, then extrapolates into the signal and validation
// regions. The same fit with the alternative Vjet family gives the
// alternative-function error.
func (e *Estimator) Estimate(ctx context.Context, cfg channel.Config, s *sample.Samples, pre *prefit.Result) (*Result, error) {
	if s == nil || s.Data.Len() == 0 {
		return nil, fmt.Errorf("%w: no data events", core.ErrInsufficientData)
	}
	if pre == nil {
		return nil, fmt.Errorf("estimate: no shape fits")
	}
	sb := e.obs.Ranges(mass.RegionSB)
	observed := s.Data.SumEntriesIn(sb)
	if observed == 0 {
		return nil, fmt.Errorf("%w: no data events in the sidebands", core.ErrInsufficientData)
	}
	// full-range yields, so the pinned sideband expectation is the simulated one
	nVV := s.MC[shape.VV].SumEntries()
	nTop := s.MC[shape.Top].SumEntries() * cfg.TopSF

	fitted, res, err := e.fitSidebands(ctx, pre.Priors[shape.Vjet], pre.Priors, observed, nVV, nTop, s.Data)
	if err != nil {
		return nil, err
	}
	alt, altRes, err := e.fitSidebands(ctx, pre.AltVjet.Spec, pre.Priors, observed, nVV, nTop, s.Data)
	if err != nil {
		return nil, fmt.Errorf("alternative: %w", err)
	}

	sr, err := extrapolate.Region(fitted, res, mass.RegionSR)
	if err != nil {
		return nil, err
	}
	vr, err := extrapolate.Region(fitted, res, mass.RegionVR)
	if err != nil {
		return nil, err
	}
	sbEst, err := extrapolate.Region(fitted, res, mass.RegionSB)
	if err != nil {
		return nil, err
	}

	// shape uncertainties of the pinned components, from their simulation fits
	var syst2 float64
	for _, c := range []shape.Component{shape.VV, shape.Top} {
		sf := pre.Fits[c]
		if sf.Result == nil {
			continue
		}
		est, err := extrapolate.Region(fitted, sf.Result, mass.RegionSR)
		if err != nil {
			return nil, fmt.Errorf("%s shape error: %w", c, err)
		}
		if !math.IsNaN(est.StdErr) {
			syst2 += est.StdErr * est.StdErr
		}
	}

	bkg := run.Background{
		SRYield:     sr.Yield,
		VRYield:     vr.Yield,
		SBYield:     sbEst.Yield,
		StatErr:     sr.StdErr,
		SystErr:     math.Sqrt(syst2),
		AltErr:      math.Abs(sr.Yield - alt.Expected(e.obs.Ranges(mass.RegionSR))),
		SRFractions: make(map[string]float64, len(shape.Components)),
		TopSF:       cfg.TopSF,
		FitStatus:   int(res.Status),
	}
	bkg.TotalErr = math.Sqrt(bkg.StatErr*bkg.StatErr + bkg.SystErr*bkg.SystErr + bkg.AltErr*bkg.AltErr)
	for c, y := range sr.PerComponent {
		if sr.Yield > 0 {
			bkg.SRFractions[string(c)] = y / sr.Yield
		}
	}
	if !res.Converged() {
		e.logger.Warn("%s: sideband fit status %d (%s)", cfg.Name, res.Status, res.Termination)
	}
	e.logger.Info("%s: SR %.2f ± %.2f (stat) ± %.2f (syst) ± %.2f (alt), VR %.2f, SB fit %.1f / observed %.0f",
		cfg.Name, bkg.SRYield, bkg.StatErr, bkg.SystErr, bkg.AltErr, bkg.VRYield, bkg.SBYield, observed)

	return &Result{
		Background: bkg,
		Fitted:     fitted,
		Fit:        res,
		Alt:        alt,
		AltFit:     altRes,
		ObservedSB: observed,
	}, nil
}

// fitSidebands runs the extended sideband fit for one Vjet family.
func (e *Estimator) fitSidebands(ctx context.Context, vjet shape.Spec, priors channel.Priors, observed, nVV, nTop float64, data *sample.Dataset) (*model.Mixture, *fit.Result, error) {
	specs := channel.Priors{
		shape.Vjet: vjet.Clone(),
		shape.VV:   shape.Spec{Family: priors[shape.VV].Family, Params: priors[shape.VV].Params.AllConstant()},
		shape.Top:  shape.Spec{Family: priors[shape.Top].Family, Params: priors[shape.Top].Params.AllConstant()},
	}
	vs, err := pdf.Build(specs[shape.Vjet], e.obs)
	if err != nil {
		return nil, nil, err
	}
	// the yield is normalized over the full range; start from the sideband count
	// scaled by the starting shape's sideband acceptance
	start := observed
	if acc := vs.Integral(e.obs.Ranges(mass.RegionSB)); acc > 0 {
		start = observed / acc
	}
	yields := map[shape.Component]shape.Param{
		shape.Vjet: shape.NewParam(start, 0, 2*start),
		shape.VV:   shape.Fixed(nVV),
		shape.Top:  shape.Fixed(nTop),
	}
	m, err := model.FromPriors(e.obs, specs, yields)
	if err != nil {
		return nil, nil, err
	}
	keys := []string{model.Key(shape.Vjet, model.YieldRole)}
	for _, role := range vjet.Params.Keys() {
		p := vjet.Params[role]
		if !p.Constant && p.Max > p.Min {
			keys = append(keys, model.Key(shape.Vjet, role))
		}
	}
	params, err := fit.Params(m, keys)
	if err != nil {
		return nil, nil, err
	}
	nll, nllW2 := fit.Extended(m, data, e.obs.Ranges(mass.RegionSB), keys)
	res, err := e.minimizer.Minimize(ctx, fit.Problem{Params: params, NLL: nll, NLLSumW2: nllW2})
	if err != nil {
		return nil, nil, fmt.Errorf("sideband fit: %w", err)
	}
	fitted, err := fit.Bind(m, keys, res.Values)
	if err != nil {
		return nil, nil, err
	}
	return fitted.WithErrors(res.ErrorMap()), res, nil
}
