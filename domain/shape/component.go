package shape

// Component names a background process in the mixture.
type Component string

const (
	Vjet Component = "Vjet"
	VV   Component = "VV"
	Top  Component = "Top"
)

// Components is the fixed mixture order used everywhere a model is composed.
var Components = []Component{Vjet, VV, Top}

// Fractions holds per-component fractions of the total expected count.
type Fractions map[Component]float64

// Sum returns the total of all fractions.
func (f Fractions) Sum() float64 {
	var s float64
	for _, v := range f {
		s += v
	}
	return s
}

// Normalized returns fractions rescaled to sum to one. A zero sum is returned unchanged.
func (f Fractions) Normalized() Fractions {
	s := f.Sum()
	out := make(Fractions, len(f))
	for k, v := range f {
		if s > 0 {
			out[k] = v / s
		} else {
			out[k] = v
		}
	}
	return out
}
