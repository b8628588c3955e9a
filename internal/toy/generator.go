// Package toy draws pseudo-experiments from a fixed truth mixture.
package toy

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/internal/model"
)

// PseudoData is one generated pseudo-experiment with its region views.
type PseudoData struct {
	N   int
	All *sample.Dataset
	SB  *sample.Dataset
	SR  *sample.Dataset
	VR  *sample.Dataset
}

// TruthCount is the number of generated points in the signal region.
func (p *PseudoData) TruthCount() int { return p.SR.Len() }

// Generator samples from the truth mixture's normalized density. It is read-only after
// construction and may be shared across goroutines that each own their rand.Rand.
type Generator struct {
	truth   *model.Mixture
	sampler *model.Sampler
}

// NewGenerator tabulates the truth density once.
func NewGenerator(truth *model.Mixture) (*Generator, error) {
	if truth == nil {
		return nil, core.NewSamplingError("no truth model")
	}
	s, err := model.NewSampler(truth)
	if err != nil {
		return nil, err
	}
	return &Generator{truth: truth, sampler: s}, nil
}

// Truth returns the generating mixture.
func (g *Generator) Truth() *model.Mixture { return g.truth }

// Generate draws n ~ Poisson(expected) and n values over the full range.
func (g *Generator) Generate(rng *rand.Rand, expected float64) (*PseudoData, error) {
	if !(expected > 0) || math.IsInf(expected, 0) {
		return nil, core.NewSamplingError(fmt.Sprintf("expected count %g is not positive", expected))
	}
	n := int(distuv.Poisson{Lambda: expected, Src: rng}.Rand())
	values := make([]float64, n)
	for i := range values {
		values[i] = g.sampler.Draw(rng)
	}
	return g.views(sample.New("toy", values)), nil
}

// Views splits an existing dataset into the generator's regions.
func (g *Generator) Views(all *sample.Dataset) *PseudoData { return g.views(all) }

func (g *Generator) views(all *sample.Dataset) *PseudoData {
	obs := g.truth.Observable()
	return &PseudoData{
		N:   all.Len(),
		All: all,
		SB:  all.Select("toy_sb", obs.Ranges(mass.RegionSB)),
		SR:  all.Select("toy_sr", obs.Ranges(mass.RegionSR)),
		VR:  all.Select("toy_vr", obs.Ranges(mass.RegionVR)),
	}
}
