package fit

import "math"

// transform maps bounded external parameters to unbounded internal ones with
// x = a + (b-a)(sin(u)+1)/2. Parameters with infinite bounds pass through.
type transform struct {
	lo, hi []float64
}

func newTransform(ps []Parameter) transform {
	t := transform{lo: make([]float64, len(ps)), hi: make([]float64, len(ps))}
	for i, p := range ps {
		t.lo[i], t.hi[i] = p.Min, p.Max
	}
	return t
}

func (t transform) bounded(i int) bool {
	return !math.IsInf(t.lo[i], 0) && !math.IsInf(t.hi[i], 0)
}

func (t transform) external(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		if !t.bounded(i) {
			x[i] = v
			continue
		}
		x[i] = t.lo[i] + (t.hi[i]-t.lo[i])*(math.Sin(v)+1)/2
	}
	return x
}

func (t transform) internal(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		if !t.bounded(i) {
			u[i] = v
			continue
		}
		// a start exactly on a bound has zero derivative; nudge it inside
		s := 2*(v-t.lo[i])/(t.hi[i]-t.lo[i]) - 1
		s = math.Max(-0.999, math.Min(0.999, s))
		u[i] = math.Asin(s)
	}
	return u
}
