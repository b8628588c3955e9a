package testkit

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"alphabias/domain/channel"
	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal/model"
	"alphabias/internal/pdf"
	"alphabias/ports"
)

// SampleGeneratorConfig configures the synthetic sample generator
type SampleGeneratorConfig struct {
	// Yields is the physical expected count of each process; MC events carry
	// weight yield/entries.
	Yields map[shape.Component]float64 `json:"yields"`
	// Entries is the number of unweighted MC events drawn per process.
	Entries map[shape.Component]int `json:"entries"`
	Seed    uint64                  `json:"seed"`
}

// DefaultSampleConfig returns sensible defaults for synthetic samples
func DefaultSampleConfig() SampleGeneratorConfig {
	return SampleGeneratorConfig{
		Yields:  map[shape.Component]float64{shape.Vjet: 1400, shape.VV: 150, shape.Top: 90},
		Entries: map[shape.Component]int{shape.Vjet: 8000, shape.VV: 3000, shape.Top: 2000},
		Seed:    42,
	}
}

// SampleGenerator draws MC and data samples from a channel's default priors.
type SampleGenerator struct {
	config SampleGeneratorConfig
	obs    *mass.Observable
	rng    ports.RNGPort
}

var _ ports.SampleSource = (*SampleGenerator)(nil)

// NewSampleGenerator creates a new synthetic sample generator
func NewSampleGenerator(config SampleGeneratorConfig, obs *mass.Observable, rng ports.RNGPort) *SampleGenerator {
	return &SampleGenerator{config: config, obs: obs, rng: rng}
}

// Load draws weighted MC for every process and a Poisson-fluctuated data sample from
// their sum.
func (g *SampleGenerator) Load(ctx context.Context, channelName string) (*sample.Samples, error) {
	cfg, err := channel.Parse(channelName)
	if err != nil {
		return nil, err
	}
	priors := channel.DefaultPriors(cfg)
	out := &sample.Samples{Channel: channelName, MC: map[shape.Component]*sample.Dataset{}}

	for _, c := range shape.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries := g.config.Entries[c]
		if entries <= 0 {
			return nil, fmt.Errorf("synthetic %s: no entries configured", c)
		}
		s, err := pdf.Build(priors[c], g.obs)
		if err != nil {
			return nil, fmt.Errorf("synthetic %s: %w", c, err)
		}
		single, err := model.Compose(g.obs, []shape.Component{c}, []*pdf.Shape{s}, []shape.Param{shape.Fixed(1)})
		if err != nil {
			return nil, err
		}
		sampler, err := model.NewSampler(single)
		if err != nil {
			return nil, err
		}
		rng, err := g.rng.SeededStream(ctx, channelName+"/"+string(c), g.config.Seed)
		if err != nil {
			return nil, err
		}
		w := g.config.Yields[c] / float64(entries)
		values := make([]float64, entries)
		weights := make([]float64, entries)
		for i := range values {
			values[i] = sampler.Draw(rng)
			weights[i] = w
		}
		out.MC[c] = sample.NewWeighted(string(c), values, weights)
	}

	truth, err := model.FromPriors(g.obs, priors, fixed(g.config.Yields))
	if err != nil {
		return nil, err
	}
	sampler, err := model.NewSampler(truth)
	if err != nil {
		return nil, err
	}
	rng, err := g.rng.SeededStream(ctx, channelName+"/data", g.config.Seed)
	if err != nil {
		return nil, err
	}
	n := int(distuv.Poisson{Lambda: truth.Total(), Src: rng}.Rand())
	values := make([]float64, n)
	for i := range values {
		values[i] = sampler.Draw(rng)
	}
	out.Data = sample.New("data", values)
	return out, out.Validate()
}

func fixed(yields map[shape.Component]float64) map[shape.Component]shape.Param {
	out := make(map[shape.Component]shape.Param, len(yields))
	for c, y := range yields {
		out[c] = shape.Fixed(y)
	}
	return out
}
