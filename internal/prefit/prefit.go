// Package prefit fits each background family to its simulated sample. The fitted
// shapes seed the sideband estimate and define the generator of the toy study.
package prefit

import (
	"context"
	"fmt"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal"
	"alphabias/internal/fit"
	"alphabias/internal/model"
	"alphabias/internal/pdf"
)

// DefaultMCScale multiplies the total simulated yield to give the toy expected count.
const DefaultMCScale = 10

// ShapeFit is the outcome of one weighted shape fit.
type ShapeFit struct {
	Component shape.Component `json:"component"`
	// Spec carries the fitted values and their errors; bounds are the prior's.
	Spec   shape.Spec  `json:"spec"`
	Result *fit.Result `json:"result"`
	// SumW is the summed weight of the sample over the full range.
	SumW float64 `json:"sum_w"`
}

// Keys are the mixture keys of the parameters that floated.
func (s ShapeFit) Keys() []string {
	if s.Result == nil {
		return nil
	}
	return s.Result.Names
}

// Result holds the shape fits of one channel.
type Result struct {
	Channel string                       `json:"channel"`
	Fits    map[shape.Component]ShapeFit `json:"fits"`
	AltVjet ShapeFit                     `json:"alt_vjet"`
	// Priors are the fitted shapes, ready to instantiate the toy truth and refits.
	Priors        channel.Priors  `json:"priors"`
	Fractions     shape.Fractions `json:"fractions"`
	ExpectedCount float64         `json:"expected_count"`
}

// Converged reports whether every nominal fit converged. A shape without free
// parameters counts as converged.
func (r *Result) Converged() bool {
	for _, c := range shape.Components {
		if res := r.Fits[c].Result; res != nil && !res.Converged() {
			return false
		}
	}
	return true
}

// Fitter runs the shape fits.
type Fitter struct {
	obs       *mass.Observable
	minimizer *fit.Minimizer
	logger    *internal.Logger
	mcScale   float64
}

// New returns a fitter. A non-positive mcScale uses DefaultMCScale.
func New(obs *mass.Observable, minimizer *fit.Minimizer, logger *internal.Logger, mcScale float64) *Fitter {
	if minimizer == nil {
		minimizer = fit.NewMinimizer(fit.StrategyCareful)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if !(mcScale > 0) {
		mcScale = DefaultMCScale
	}
	return &Fitter{obs: obs, minimizer: minimizer, logger: logger.With("prefit"), mcScale: mcScale}
}

// FitShape fits spec to the weighted sample over the full range with a
// non-extended likelihood and SumW2-corrected errors. Constant parameters stay put.
func (f *Fitter) FitShape(ctx context.Context, c shape.Component, spec shape.Spec, data *sample.Dataset) (ShapeFit, error) {
	out := ShapeFit{Component: c, Spec: spec.Clone(), SumW: data.SumEntries()}
	if data.Len() == 0 {
		return out, fmt.Errorf("%w: no %s events", core.ErrInsufficientData, c)
	}
	s, err := pdf.Build(spec, f.obs)
	if err != nil {
		return out, fmt.Errorf("%s: %w", c, err)
	}
	m, err := model.Compose(f.obs, []shape.Component{c}, []*pdf.Shape{s}, []shape.Param{shape.Fixed(1)})
	if err != nil {
		return out, err
	}

	var keys []string
	for _, role := range spec.Params.Keys() {
		p := spec.Params[role]
		if !p.Constant && p.Max > p.Min {
			keys = append(keys, model.Key(c, role))
		}
	}
	if len(keys) == 0 {
		return out, nil
	}
	params, err := fit.Params(m, keys)
	if err != nil {
		return out, err
	}
	nll, nllW2 := fit.Plain(m, data, []mass.Range{f.obs.Full()}, keys)
	res, err := f.minimizer.Minimize(ctx, fit.Problem{Params: params, NLL: nll, NLLSumW2: nllW2})
	if err != nil {
		return out, fmt.Errorf("prefit %s: %w", c, err)
	}
	out.Result = res

	errs := res.ErrorMap()
	for i, key := range res.Names {
		_, role, _ := model.SplitKey(key)
		p := out.Spec.Params[role]
		p.Value = res.Values[i]
		p.Error = errs[key]
		out.Spec.Params[role] = p
	}
	if !res.Converged() {
		f.logger.Warn("%s %s fit: status %d (%s)", c, spec.Family, res.Status, res.Termination)
	}
	f.logger.Debug("%s %s: %s", c, spec.Family, out.Spec)
	return out, nil
}

// Run fits the nominal families and the alternative Vjet family, then derives the
// truth fractions from the sample sums and the expected toy count as mcScale times
// the total simulated yield.
func (f *Fitter) Run(ctx context.Context, cfg channel.Config, priors channel.Priors, s *sample.Samples) (*Result, error) {
	if err := priors.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInsufficientData, err)
	}
	out := &Result{
		Channel: cfg.Name,
		Fits:    make(map[shape.Component]ShapeFit, len(shape.Components)),
		Priors:  make(channel.Priors, len(shape.Components)),
	}
	for _, c := range shape.Components {
		sf, err := f.FitShape(ctx, c, priors[c], s.MC[c])
		if err != nil {
			return nil, err
		}
		out.Fits[c] = sf
		out.Priors[c] = sf.Spec
	}
	alt, err := f.FitShape(ctx, shape.Vjet, channel.AltVjetPrior(cfg), s.MC[shape.Vjet])
	if err != nil {
		return nil, fmt.Errorf("alternative: %w", err)
	}
	out.AltVjet = alt

	total := s.MCTotal()
	if !(total > 0) {
		return nil, fmt.Errorf("%w: simulated yield %g", core.ErrInsufficientData, total)
	}
	out.Fractions = make(shape.Fractions, len(shape.Components))
	for _, c := range shape.Components {
		out.Fractions[c] = out.Fits[c].SumW / total
	}
	out.ExpectedCount = f.mcScale * total

	f.logger.Info("%s: MC Vjet=%.1f VV=%.1f Top=%.1f, toy expected count %.0f",
		cfg.Name, out.Fits[shape.Vjet].SumW, out.Fits[shape.VV].SumW, out.Fits[shape.Top].SumW, out.ExpectedCount)
	return out, nil
}
