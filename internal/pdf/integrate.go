package pdf

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"alphabias/domain/mass"
)

const (
	panelWidth   = 5.0
	minPanels    = 4
	maxPanels    = 256
	pointsPerPan = 12
)

// Integrate computes ∫_lo^hi f with composite Gauss-Legendre quadrature. Panels are
// narrow enough to resolve the narrowest Gaussian peaks the families allow.
func Integrate(f func(float64) float64, lo, hi float64) float64 {
	if !(hi > lo) {
		return 0
	}
	n := int(math.Ceil((hi - lo) / panelWidth))
	if n < minPanels {
		n = minPanels
	}
	if n > maxPanels {
		n = maxPanels
	}
	step := (hi - lo) / float64(n)
	var sum float64
	for i := 0; i < n; i++ {
		a := lo + float64(i)*step
		b := a + step
		if i == n-1 {
			b = hi
		}
		sum += quad.Fixed(f, a, b, pointsPerPan, quad.Legendre{}, 0)
	}
	return sum
}

// IntegrateRanges sums Integrate over disjoint ranges.
func IntegrateRanges(f func(float64) float64, ranges []mass.Range) float64 {
	var sum float64
	for _, r := range ranges {
		sum += Integrate(f, r.Lo, r.Hi)
	}
	return sum
}
