package sample

import (
	"fmt"

	"alphabias/domain/shape"
)

// Samples bundles the simulated component samples and the observed data of one channel.
type Samples struct {
	Channel string
	Data    *Dataset
	MC      map[shape.Component]*Dataset
}

// Validate checks that every mixture component has a non-empty MC sample.
func (s *Samples) Validate() error {
	for _, c := range shape.Components {
		if s.MC[c].Len() == 0 {
			return fmt.Errorf("channel %s: missing or empty %s sample", s.Channel, c)
		}
	}
	return nil
}

// MCTotal is the summed weight of all component samples.
func (s *Samples) MCTotal() float64 {
	var t float64
	for _, c := range shape.Components {
		t += s.MC[c].SumEntries()
	}
	return t
}
