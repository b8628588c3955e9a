// Package model composes component shapes into an extended mixture whose weights are
// literal yields. Component densities are always normalized over the full range, so
// the expected count in any sub-range is Σ n_i ∫_R p_i and never a renormalized share.
package model

import (
	"fmt"
	"math"
	"strings"

	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/pdf"
)

// YieldRole is the key suffix that addresses a component's yield.
const YieldRole = "yield"

// Key addresses a parameter of a mixture component, e.g. "Vjet.yield" or "VV.slope".
func Key(component shape.Component, role string) string {
	return string(component) + "." + role
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (shape.Component, string, error) {
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("model: malformed parameter key %q", key)
	}
	return shape.Component(key[:i]), key[i+1:], nil
}

// Component is one term of the mixture.
type Component struct {
	Name  shape.Component
	Shape *pdf.Shape
	Yield shape.Param
}

// Mixture is an immutable extended mixture model.
type Mixture struct {
	obs        *mass.Observable
	components []Component
}

// Compose pairs shapes with yields in order.
func Compose(obs *mass.Observable, names []shape.Component, shapes []*pdf.Shape, yields []shape.Param) (*Mixture, error) {
	if len(shapes) != len(yields) || len(shapes) != len(names) {
		return nil, fmt.Errorf("%w: %d names, %d shapes, %d yields", core.ErrComponentMismatch, len(names), len(shapes), len(yields))
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%w: empty mixture", core.ErrComponentMismatch)
	}
	m := &Mixture{obs: obs, components: make([]Component, len(shapes))}
	for i := range shapes {
		m.components[i] = Component{Name: names[i], Shape: shapes[i], Yield: yields[i]}
	}
	return m, nil
}

// Observable returns the observable the mixture lives on.
func (m *Mixture) Observable() *mass.Observable { return m.obs }

// Components returns a copy of the component list.
func (m *Mixture) Components() []Component {
	out := make([]Component, len(m.components))
	copy(out, m.components)
	return out
}

// Component returns the named component.
func (m *Mixture) Component(name shape.Component) (Component, bool) {
	for _, c := range m.components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Total is Σ n_i, the expected count over the full range.
func (m *Mixture) Total() float64 {
	var t float64
	for _, c := range m.components {
		t += c.Yield.Value
	}
	return t
}

// Density is Σ n_i p_i(x), in events per unit mass.
func (m *Mixture) Density(x float64) float64 {
	var d float64
	for _, c := range m.components {
		d += c.Yield.Value * c.Shape.PDF(x)
	}
	return d
}

// PDF is the mixture density normalized over the full range.
func (m *Mixture) PDF(x float64) float64 {
	t := m.Total()
	if t <= 0 {
		return 0
	}
	return m.Density(x) / t
}

// Expected is the expected count inside ranges.
func (m *Mixture) Expected(ranges []mass.Range) float64 {
	var e float64
	for _, c := range m.components {
		e += c.Yield.Value * c.Shape.Integral(ranges)
	}
	return e
}

// ExpectedByComponent is the expected count inside ranges per component.
func (m *Mixture) ExpectedByComponent(ranges []mass.Range) map[shape.Component]float64 {
	out := make(map[shape.Component]float64, len(m.components))
	for _, c := range m.components {
		out[c.Name] = c.Yield.Value * c.Shape.Integral(ranges)
	}
	return out
}

// PDFIn is the density conditioned on ranges with coefficients fixed over the full
// range: Σ n_i p_i(x) / Σ n_i ∫_R p_i. Zero outside the ranges.
func (m *Mixture) PDFIn(x float64, ranges []mass.Range) float64 {
	if !mass.InRanges(ranges, x) {
		return 0
	}
	e := m.Expected(ranges)
	if e <= 0 {
		return 0
	}
	return m.Density(x) / e
}

// Value reads a parameter by key.
func (m *Mixture) Value(key string) (float64, bool) {
	comp, role, err := SplitKey(key)
	if err != nil {
		return 0, false
	}
	c, ok := m.Component(comp)
	if !ok {
		return 0, false
	}
	if role == YieldRole {
		return c.Yield.Value, true
	}
	return c.Shape.Spec().Params.Value(role)
}

// Param reads the full parameter (value and bounds) by key.
func (m *Mixture) Param(key string) (shape.Param, bool) {
	comp, role, err := SplitKey(key)
	if err != nil {
		return shape.Param{}, false
	}
	c, ok := m.Component(comp)
	if !ok {
		return shape.Param{}, false
	}
	if role == YieldRole {
		return c.Yield, true
	}
	p, ok := c.Shape.Spec().Params[role]
	return p, ok
}

// With returns a new mixture with the keyed values replaced. Shapes are rebuilt only
// for components whose shape parameters change.
func (m *Mixture) With(values map[string]float64) (*Mixture, error) {
	shapeUpdates := map[shape.Component]map[string]float64{}
	out := &Mixture{obs: m.obs, components: m.Components()}
	for key, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("model: NaN value for %s", key)
		}
		comp, role, err := SplitKey(key)
		if err != nil {
			return nil, err
		}
		idx := out.index(comp)
		if idx < 0 {
			return nil, fmt.Errorf("model: no component %q", comp)
		}
		if role == YieldRole {
			out.components[idx].Yield.Value = v
			continue
		}
		if shapeUpdates[comp] == nil {
			shapeUpdates[comp] = map[string]float64{}
		}
		shapeUpdates[comp][role] = v
	}
	for comp, upd := range shapeUpdates {
		idx := out.index(comp)
		s, err := out.components[idx].Shape.With(upd)
		if err != nil {
			return nil, err
		}
		out.components[idx].Shape = s
	}
	return out, nil
}

// WithErrors returns a copy with parameter uncertainties attached to yields.
func (m *Mixture) WithErrors(errs map[string]float64) *Mixture {
	out := &Mixture{obs: m.obs, components: m.Components()}
	for key, e := range errs {
		comp, role, err := SplitKey(key)
		if err != nil || role != YieldRole {
			continue
		}
		if idx := out.index(comp); idx >= 0 {
			out.components[idx].Yield.Error = e
		}
	}
	return out
}

// Scale multiplies every yield by k.
func (m *Mixture) Scale(k float64) *Mixture {
	out := &Mixture{obs: m.obs, components: m.Components()}
	for i := range out.components {
		y := out.components[i].Yield
		y.Value *= k
		y.Min *= k
		y.Max *= k
		y.Error *= k
		out.components[i].Yield = y
	}
	return out
}

func (m *Mixture) index(name shape.Component) int {
	for i, c := range m.components {
		if c.Name == name {
			return i
		}
	}
	return -1
}
