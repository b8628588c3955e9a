// Package sample holds unbinned jet-mass datasets, optionally weighted.
package sample

import (
	"alphabias/domain/mass"
)

// Dataset is an ordered set of observable values. Weights is nil for unit-weight data.
type Dataset struct {
	Name    string    `json:"name"`
	Values  []float64 `json:"values"`
	Weights []float64 `json:"weights,omitempty"`
}

// New returns an unweighted dataset.
func New(name string, values []float64) *Dataset {
	return &Dataset{Name: name, Values: values}
}

// NewWeighted returns a dataset with per-entry weights. Lengths must match.
func NewWeighted(name string, values, weights []float64) *Dataset {
	if len(values) != len(weights) {
		panic("sample: values and weights differ in length")
	}
	return &Dataset{Name: name, Values: values, Weights: weights}
}

// Len is the number of entries.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Values)
}

// Weighted reports whether the dataset carries non-unit weights.
func (d *Dataset) Weighted() bool { return d != nil && d.Weights != nil }

// Weight returns the weight of entry i.
func (d *Dataset) Weight(i int) float64 {
	if d.Weights == nil {
		return 1
	}
	return d.Weights[i]
}

// SumEntries is the sum of weights.
func (d *Dataset) SumEntries() float64 {
	if d == nil {
		return 0
	}
	if d.Weights == nil {
		return float64(len(d.Values))
	}
	var s float64
	for _, w := range d.Weights {
		s += w
	}
	return s
}

// SumEntriesIn is the sum of weights of entries inside ranges.
func (d *Dataset) SumEntriesIn(ranges []mass.Range) float64 {
	if d == nil {
		return 0
	}
	var s float64
	for i, x := range d.Values {
		if mass.InRanges(ranges, x) {
			s += d.Weight(i)
		}
	}
	return s
}

// Select returns the entries inside ranges as a new dataset.
func (d *Dataset) Select(name string, ranges []mass.Range) *Dataset {
	out := &Dataset{Name: name}
	if d == nil {
		return out
	}
	for i, x := range d.Values {
		if !mass.InRanges(ranges, x) {
			continue
		}
		out.Values = append(out.Values, x)
		if d.Weights != nil {
			out.Weights = append(out.Weights, d.Weights[i])
		}
	}
	return out
}

// Scale returns a copy with every weight multiplied by k.
func (d *Dataset) Scale(k float64) *Dataset {
	out := &Dataset{Name: d.Name, Values: append([]float64(nil), d.Values...)}
	out.Weights = make([]float64, len(d.Values))
	for i := range d.Values {
		out.Weights[i] = d.Weight(i) * k
	}
	return out
}

// Merge concatenates datasets, keeping weights when any input is weighted.
func Merge(name string, parts ...*Dataset) *Dataset {
	weighted := false
	for _, p := range parts {
		if p.Weighted() {
			weighted = true
		}
	}
	out := &Dataset{Name: name}
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Values = append(out.Values, p.Values...)
		if weighted {
			for i := range p.Values {
				out.Weights = append(out.Weights, p.Weight(i))
			}
		}
	}
	return out
}
