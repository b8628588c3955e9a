package model

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/integrate/quad"

	"alphabias/domain/core"
)

// samplerCells is the resolution of the tabulated CDF.
const samplerCells = 4096

// Sampler draws values from a mixture's normalized density by inverting a tabulated
// CDF. It is read-only after construction and safe for concurrent use when each
// goroutine supplies its own rand source.
type Sampler struct {
	edges []float64
	cdf   []float64
}

// NewSampler tabulates the mixture density. It fails when the mixture has no
// probability mass in the full range.
func NewSampler(m *Mixture) (*Sampler, error) {
	if m.Total() <= 0 {
		return nil, core.NewSamplingError("mixture has no expected events")
	}
	full := m.Observable().Full()
	step := full.Width() / samplerCells
	s := &Sampler{
		edges: make([]float64, samplerCells+1),
		cdf:   make([]float64, samplerCells+1),
	}
	for i := 0; i <= samplerCells; i++ {
		s.edges[i] = full.Lo + float64(i)*step
	}
	s.edges[samplerCells] = full.Hi
	for i := 0; i < samplerCells; i++ {
		w := quad.Fixed(m.Density, s.edges[i], s.edges[i+1], 4, quad.Legendre{}, 0)
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		s.cdf[i+1] = s.cdf[i] + w
	}
	total := s.cdf[samplerCells]
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, core.NewSamplingError("density integrates to zero over the full range")
	}
	for i := range s.cdf {
		s.cdf[i] /= total
	}
	return s, nil
}

// Draw returns one value in [Lo, Hi) of the full range.
func (s *Sampler) Draw(rng *rand.Rand) float64 {
	u := rng.Float64()
	i := sort.SearchFloat64s(s.cdf, u)
	if i == 0 {
		i = 1
	}
	if i > samplerCells {
		i = samplerCells
	}
	// skip empty cells so the interpolation denominator is positive
	for i < samplerCells && s.cdf[i] == s.cdf[i-1] {
		i++
	}
	lo, hi := s.cdf[i-1], s.cdf[i]
	frac := 0.0
	if hi > lo {
		frac = (u - lo) / (hi - lo)
	}
	x := s.edges[i-1] + frac*(s.edges[i]-s.edges[i-1])
	if x >= s.edges[samplerCells] {
		x = math.Nextafter(s.edges[samplerCells], s.edges[0])
	}
	return x
}
