package model

import (
	"fmt"

	"alphabias/domain/channel"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/pdf"
)

// FromPriors builds a Vjet/VV/Top mixture with freshly instantiated shapes, so later
// changes to the returned mixture never reach the priors. Every component needs a
// prior and a yield.
func FromPriors(obs *mass.Observable, priors channel.Priors, yields map[shape.Component]shape.Param) (*Mixture, error) {
	shapes := make([]*pdf.Shape, len(shape.Components))
	params := make([]shape.Param, len(shape.Components))
	for i, c := range shape.Components {
		spec, ok := priors[c]
		if !ok {
			return nil, fmt.Errorf("model: no prior for component %s", c)
		}
		s, err := pdf.Build(spec.Clone(), obs)
		if err != nil {
			return nil, fmt.Errorf("model: component %s: %w", c, err)
		}
		y, ok := yields[c]
		if !ok {
			return nil, fmt.Errorf("model: no yield for component %s", c)
		}
		shapes[i] = s
		params[i] = y
	}
	return Compose(obs, shape.Components, shapes, params)
}

// FixedYields pins each component's yield to total × fraction.
func FixedYields(total float64, fractions shape.Fractions) map[shape.Component]shape.Param {
	out := make(map[shape.Component]shape.Param, len(shape.Components))
	for _, c := range shape.Components {
		out[c] = shape.Fixed(total * fractions[c])
	}
	return out
}
