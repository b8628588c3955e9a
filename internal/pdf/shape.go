// Package pdf builds normalized jet-mass densities for every supported shape family.
//
// A composite family is a sum of elementary terms, each normalized on its own over
// the full range, weighted by explicit fractions with the last term taking the
// remainder. Every built Shape integrates to one over the full range.
package pdf

import (
	"fmt"
	"math"

	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
)

type term struct {
	name string
	f    func(float64) float64
	coef float64
	norm float64
}

// Shape is an immutable normalized density.
type Shape struct {
	spec  shape.Spec
	obs   *mass.Observable
	full  mass.Range
	terms []term
	total float64
}

// Build instantiates the density described by spec over the observable's full range.
// The spec is copied; later changes to it do not affect the shape.
func Build(spec shape.Spec, obs *mass.Observable) (*Shape, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	full := obs.Full()
	v := values(spec.Params)

	terms, err := buildTerms(spec.Family, v, full)
	if err != nil {
		return nil, err
	}
	for i := range terms {
		terms[i].norm = Integrate(terms[i].f, full.Lo, full.Hi)
		if !(terms[i].norm > 0) || math.IsInf(terms[i].norm, 0) {
			return nil, fmt.Errorf("%w: %s term %s integrates to %g", core.ErrDegenerateShape, spec.Family, terms[i].name, terms[i].norm)
		}
	}

	s := &Shape{spec: spec.Clone(), obs: obs, full: full, terms: terms, total: 1}
	total := Integrate(s.raw, full.Lo, full.Hi)
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: %s integrates to %g", core.ErrDegenerateShape, spec.Family, total)
	}
	s.total = total
	return s, nil
}

// MustBuild is Build for specs known to be valid.
func MustBuild(spec shape.Spec, obs *mass.Observable) *Shape {
	s, err := Build(spec, obs)
	if err != nil {
		panic(err)
	}
	return s
}

func values(ps shape.ParamSet) map[string]float64 {
	v := make(map[string]float64, len(ps))
	for k, p := range ps {
		v[k] = p.Value
	}
	return v
}

// raw is the weighted term sum clamped at zero, before the final normalization.
func (s *Shape) raw(x float64) float64 {
	var sum float64
	for _, t := range s.terms {
		sum += t.coef * t.f(x) / t.norm
	}
	if sum < 0 || math.IsNaN(sum) {
		return 0
	}
	return sum
}

// PDF is the normalized density at x. It is zero outside the full range.
func (s *Shape) PDF(x float64) float64 {
	if !s.full.Contains(x) {
		return 0
	}
	return s.raw(x) / s.total
}

// Integral returns ∫ PDF over the ranges, clipped to the full range.
func (s *Shape) Integral(ranges []mass.Range) float64 {
	var sum float64
	for _, r := range ranges {
		lo := math.Max(r.Lo, s.full.Lo)
		hi := math.Min(r.Hi, s.full.Hi)
		sum += Integrate(s.PDF, lo, hi)
	}
	return sum
}

// Spec returns a copy of the spec the shape was built from.
func (s *Shape) Spec() shape.Spec { return s.spec.Clone() }

func (s *Shape) Family() shape.Family { return s.spec.Family }

// Observable returns the observable the shape is normalized over.
func (s *Shape) Observable() *mass.Observable { return s.obs }

// With rebuilds the shape with some parameter values replaced. Bounds are kept.
func (s *Shape) With(updates map[string]float64) (*Shape, error) {
	spec := s.spec.Clone()
	for role, v := range updates {
		p, ok := spec.Params[role]
		if !ok {
			return nil, core.NewMissingParameterError(string(spec.Family), role)
		}
		p.Value = v
		spec.Params[role] = p
	}
	return Build(spec, s.obs)
}
