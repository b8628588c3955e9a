package testkit

import (
	"context"
	"fmt"
	"math/rand/v2"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/model"
	"alphabias/ports"
)

// TestKit provides deterministic fixtures: seeded RNG streams, synthetic channel
// samples and truth models.
type TestKit struct {
	rng     *RNGAdapter
	obs     *mass.Observable
	samples SampleGeneratorConfig
}

// NewTestKit creates a test kit over the default jet-mass windows.
func NewTestKit() (*TestKit, error) {
	return NewTestKitWithWindows(mass.DefaultWindows(false))
}

// NewTestKitWithWindows creates a test kit over custom windows.
func NewTestKitWithWindows(w mass.Windows) (*TestKit, error) {
	obs, err := mass.NewObservable("jet mass", w)
	if err != nil {
		return nil, err
	}
	return &TestKit{rng: &RNGAdapter{}, obs: obs, samples: DefaultSampleConfig()}, nil
}

// WithSampleConfig replaces the synthetic sample configuration.
func (t *TestKit) WithSampleConfig(cfg SampleGeneratorConfig) *TestKit {
	t.samples = cfg
	return t
}

// RNGAdapter returns the seeded stream provider.
func (t *TestKit) RNGAdapter() *RNGAdapter { return t.rng }

// Observable returns the kit's observable.
func (t *TestKit) Observable() *mass.Observable { return t.obs }

// SampleSource returns a synthetic source drawing samples from the channel priors.
func (t *TestKit) SampleSource() ports.SampleSource {
	return NewSampleGenerator(t.samples, t.obs, t.rng)
}

// Truth builds the generator mixture of a channel from its default priors with
// yields total × fraction.
func (t *TestKit) Truth(channelName string, total float64, fractions shape.Fractions) (*model.Mixture, channel.Priors, error) {
	cfg, err := channel.Parse(channelName)
	if err != nil {
		return nil, nil, err
	}
	priors := channel.DefaultPriors(cfg)
	m, err := model.FromPriors(t.obs, priors, model.FixedYields(total, fractions))
	if err != nil {
		return nil, nil, err
	}
	return m, priors, nil
}

// RNGAdapter implements the RNGPort interface with PCG streams.
type RNGAdapter struct{}

var _ ports.RNGPort = (*RNGAdapter)(nil)

// SeededStream creates a deterministic random number generator for a named operation
func (r *RNGAdapter) SeededStream(ctx context.Context, name string, seed uint64) (*rand.Rand, error) {
	return rand.New(rand.NewPCG(seed, uint64(hashString(name)))), nil
}

// Stream creates the generator for trial index of a study seeded with seed.
func (r *RNGAdapter) Stream(ctx context.Context, seed uint64, index int) (*rand.Rand, error) {
	if index < 0 {
		return nil, fmt.Errorf("rng: negative trial index %d", index)
	}
	return rand.New(rand.NewPCG(seed, uint64(index))), nil
}

// ValidateSeed ensures the seed produces expected deterministic results
func (r *RNGAdapter) ValidateSeed(ctx context.Context, name string, seed uint64, expected []float64) error {
	rng, err := r.SeededStream(ctx, name, seed)
	if err != nil {
		return err
	}
	for i, want := range expected {
		if got := rng.Float64(); got != want {
			return fmt.Errorf("%w: %s draw %d is %v, expected %v", core.ErrSeedMismatch, name, i, got, want)
		}
	}
	return nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
