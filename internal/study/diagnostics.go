package study

import (
	"context"
	"fmt"

	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/internal/biaspull"
	"alphabias/internal/model"
	"alphabias/ports"
)

const curvePoints = 200

// Curves samples the mixture's total and per-component densities as expected
// events per bin of width binWidth. Components are stacked: each curve includes
// every component after it.
func Curves(m *model.Mixture, prefix string, binWidth float64, stacked bool) []ports.Curve {
	full := m.Observable().Full()
	comps := m.Components()
	xs := make([]float64, curvePoints)
	for i := range xs {
		xs[i] = full.Lo + (float64(i)+0.5)*full.Width()/curvePoints
	}
	total := ports.Curve{Name: prefix, X: xs, Y: make([]float64, curvePoints)}
	for i, x := range xs {
		total.Y[i] = m.Density(x) * binWidth
	}
	out := []ports.Curve{total}
	if !stacked {
		return out
	}
	for k := 1; k < len(comps); k++ {
		c := ports.Curve{Name: fmt.Sprintf("%s %s", prefix, stackName(comps[k:])), X: xs, Y: make([]float64, curvePoints), Filled: true}
		for i, x := range xs {
			for _, comp := range comps[k:] {
				c.Y[i] += comp.Yield.Value * comp.Shape.PDF(x) * binWidth
			}
		}
		out = append(out, c)
	}
	return out
}

func stackName(cs []model.Component) string {
	s := ""
	for i, c := range cs {
		if i > 0 {
			s += "+"
		}
		s += string(c.Name)
	}
	return s
}

// TrialFigure draws a retained trial: the toy events, the generator scaled to the
// generated count and the sideband fit with its stacked components.
func TrialFigure(channel string, r biaspull.TrialResult) (ports.Figure, bool) {
	d := r.Diagnostics
	if d == nil || d.Truth == nil || d.Fitted == nil {
		return ports.Figure{}, false
	}
	obs := d.Truth.Observable()
	full := obs.Full()
	bins := obs.Bins
	width := full.Width() / float64(bins)

	truth := d.Truth
	if t := truth.Total(); t > 0 {
		truth = truth.Scale(float64(r.Generated) / t)
	}
	curves := Curves(truth, "truth", width, false)
	curves = append(curves, Curves(d.Fitted, "fit", width, true)...)
	return ports.Figure{
		Title:  fmt.Sprintf("%s toy %d: SR truth %d, fit %.1f ± %.1f", channel, r.Index, r.TruthCount, r.Yield, r.StdErr),
		XLabel: "jet mass [GeV]",
		Data:   d.Data,
		Bins:   bins,
		Lo:     full.Lo,
		Hi:     full.Hi,
		Curves: curves,
	}, true
}

// FitFigure draws data with a fitted mixture, its stacked components and an
// optional comparison mixture drawn as a single line. Blind ranges hide data.
func FitFigure(title string, fitted *model.Mixture, data *sample.Dataset, blind []mass.Range, alt *model.Mixture) ports.Figure {
	obs := fitted.Observable()
	full := obs.Full()
	width := full.Width() / float64(obs.Bins)
	curves := Curves(fitted, "fit", width, len(fitted.Components()) > 1)
	if alt != nil {
		curves = append(curves, Curves(alt, "alt", width, false)...)
	}
	return ports.Figure{
		Title:  title,
		XLabel: "jet mass [GeV]",
		Data:   data,
		Bins:   obs.Bins,
		Lo:     full.Lo,
		Hi:     full.Hi,
		Curves: curves,
		Blind:  blind,
	}
}

// Render writes the retained trial figures and the bias/pull histograms to sink.
// Sink failures are logged and skipped; the returned names are the artifacts written.
func (r *Runner) Render(ctx context.Context, sink ports.PlotSink, channel string, out *Outcome) []string {
	if sink == nil || out == nil {
		return nil
	}
	var written []string
	keep := func(name string, err error) {
		if err != nil {
			r.logger.Warn("%s: plot failed: %v", channel, err)
			return
		}
		if name != "" {
			written = append(written, name)
		}
	}
	for _, tr := range out.Accumulator.Retained() {
		if ctx.Err() != nil {
			return written
		}
		fig, ok := TrialFigure(channel, tr)
		if !ok {
			continue
		}
		keep(sink.Figure(ctx, fmt.Sprintf("%s_toy_%03d", channel, tr.Index), fig))
	}
	hs := out.Accumulator.Histograms()
	keep(sink.Histograms(ctx, channel+"_Bias_and_Pull", channel+" bias and pull", hs[:2]))
	keep(sink.Histograms(ctx, channel+"_Bias_and_Pull_converged", channel+" bias and pull (converged)", hs[2:]))
	return written
}
