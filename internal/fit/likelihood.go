package fit

import (
	"fmt"
	"math"

	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/internal/model"
)

// tiny keeps log terms finite when every component density vanishes at an event.
const tiny = 1e-300

// penalty is returned when the parameters cannot be bound to the model.
const penalty = 1e30

// Params builds the free parameter list for keys from the mixture's current values and bounds.
func Params(m *model.Mixture, keys []string) ([]Parameter, error) {
	out := make([]Parameter, len(keys))
	for i, k := range keys {
		p, ok := m.Param(k)
		if !ok {
			return nil, fmt.Errorf("fit: mixture has no parameter %q", k)
		}
		out[i] = Parameter{Name: k, Start: p.Clamp(p.Value), Min: p.Min, Max: p.Max}
	}
	return out, nil
}

// Bind returns the mixture with keys set to x.
func Bind(m *model.Mixture, keys []string, x []float64) (*model.Mixture, error) {
	vals := make(map[string]float64, len(keys))
	for i, k := range keys {
		vals[k] = x[i]
	}
	return m.With(vals)
}

type event struct {
	x, w float64
}

func selectEvents(data *sample.Dataset, ranges []mass.Range) ([]event, float64, float64) {
	var evs []event
	var sumW, sumW2 float64
	for i, x := range data.Values {
		if !mass.InRanges(ranges, x) {
			continue
		}
		w := data.Weight(i)
		evs = append(evs, event{x, w})
		sumW += w
		sumW2 += w * w
	}
	return evs, sumW, sumW2
}

// Extended returns the extended negative log-likelihood of data inside ranges as a
// function of the keyed mixture parameters, ν_R - Σ w ln(Σ n_i p_i(x)), and the same
// likelihood with squared weights for the SumW2 covariance correction (nil for
// unweighted data). Coefficients stay normalized over the full range.
func Extended(m *model.Mixture, data *sample.Dataset, ranges []mass.Range, keys []string) (nll, nllW2 func([]float64) float64) {
	evs, sumW, sumW2 := selectEvents(data, ranges)
	if yieldsOnly(keys) {
		nll = yieldNLL(m, evs, ranges, keys, false, 1)
		if data.Weighted() && sumW > 0 {
			nllW2 = yieldNLL(m, evs, ranges, keys, true, sumW2/sumW)
		}
		return nll, nllW2
	}
	general := func(square bool, scale float64) func([]float64) float64 {
		return func(x []float64) float64 {
			mm, err := Bind(m, keys, x)
			if err != nil {
				return penalty
			}
			v := scale * mm.Expected(ranges)
			for _, e := range evs {
				w := e.w
				if square {
					w *= e.w
				}
				v -= w * math.Log(math.Max(mm.Density(e.x), tiny))
			}
			return v
		}
	}
	nll = general(false, 1)
	if data.Weighted() && sumW > 0 {
		nllW2 = general(true, sumW2/sumW)
	}
	return nll, nllW2
}

// Plain returns the non-extended negative log-likelihood -Σ w ln P_R(x), used for
// shape-only fits where the normalization carries no information.
func Plain(m *model.Mixture, data *sample.Dataset, ranges []mass.Range, keys []string) (nll, nllW2 func([]float64) float64) {
	evs, _, _ := selectEvents(data, ranges)
	build := func(square bool) func([]float64) float64 {
		return func(x []float64) float64 {
			mm, err := Bind(m, keys, x)
			if err != nil {
				return penalty
			}
			nu := mm.Expected(ranges)
			if !(nu > 0) {
				return penalty
			}
			var v float64
			for _, e := range evs {
				w := e.w
				if square {
					w *= e.w
				}
				v -= w * math.Log(math.Max(mm.Density(e.x)/nu, tiny))
			}
			return v
		}
	}
	nll = build(false)
	if data.Weighted() {
		nllW2 = build(true)
	}
	return nll, nllW2
}

func yieldsOnly(keys []string) bool {
	for _, k := range keys {
		_, role, err := model.SplitKey(k)
		if err != nil || role != model.YieldRole {
			return false
		}
	}
	return true
}

// yieldNLL caches per-event component densities and region integrals, since only
// yields move and the shapes stay fixed.
func yieldNLL(m *model.Mixture, evs []event, ranges []mass.Range, keys []string, square bool, extScale float64) func([]float64) float64 {
	comps := m.Components()
	nc := len(comps)
	integrals := make([]float64, nc)
	base := make([]float64, nc)
	for i, c := range comps {
		integrals[i] = c.Shape.Integral(ranges)
		base[i] = c.Yield.Value
	}
	dens := make([]float64, len(evs)*nc)
	for k, e := range evs {
		for i, c := range comps {
			dens[k*nc+i] = c.Shape.PDF(e.x)
		}
	}
	slot := make([]int, len(keys))
	for j, key := range keys {
		comp, _, _ := model.SplitKey(key)
		slot[j] = -1
		for i, c := range comps {
			if c.Name == comp {
				slot[j] = i
			}
		}
	}
	return func(x []float64) float64 {
		n := make([]float64, nc)
		copy(n, base)
		for j, i := range slot {
			if i < 0 {
				return penalty
			}
			n[i] = x[j]
		}
		var v float64
		for i := range n {
			v += n[i] * integrals[i]
		}
		v *= extScale
		for k, e := range evs {
			var d float64
			for i := 0; i < nc; i++ {
				d += n[i] * dens[k*nc+i]
			}
			w := e.w
			if square {
				w *= e.w
			}
			v -= w * math.Log(math.Max(d, tiny))
		}
		return v
	}
}
