package toy

import (
	"errors"
	"math/rand/v2"
	"testing"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func truthMixture(t *testing.T, total float64, extrapolate bool) *model.Mixture {
	t.Helper()
	obs := mass.MustObservable("jet mass", mass.DefaultWindows(extrapolate))
	priors := channel.DefaultPriors(channel.MustParse("XZhnnb"))
	fr := shape.Fractions{shape.Vjet: 0.7, shape.VV: 0.2, shape.Top: 0.1}
	m, err := model.FromPriors(obs, priors, model.FixedYields(total, fr))
	require.NoError(t, err)
	return m
}

func TestGenerateViewsPartitionTheRange(t *testing.T) {
	g, err := NewGenerator(truthMixture(t, 1000, false))
	require.NoError(t, err)

	pd, err := g.Generate(rand.New(rand.NewPCG(42, 0)), 1000)
	require.NoError(t, err)

	assert.InDelta(t, 1000, pd.N, 5*32)
	assert.Equal(t, pd.N, pd.All.Len())
	assert.Equal(t, pd.N, pd.SB.Len()+pd.VR.Len()+pd.SR.Len())
	assert.Equal(t, pd.SR.Len(), pd.TruthCount())

	obs := g.Truth().Observable()
	for _, x := range pd.SB.Values {
		assert.False(t, obs.Contains(mass.RegionSR, x), "SB view leaked signal-region value %g", x)
	}
	for _, x := range pd.SR.Values {
		assert.True(t, x >= 105 && x < 135, "SR value %g outside [105,135)", x)
	}
}

func TestGenerateIsDeterministicPerStream(t *testing.T) {
	g, err := NewGenerator(truthMixture(t, 500, false))
	require.NoError(t, err)

	a, err := g.Generate(rand.New(rand.NewPCG(7, 3)), 500)
	require.NoError(t, err)
	b, err := g.Generate(rand.New(rand.NewPCG(7, 3)), 500)
	require.NoError(t, err)
	c, err := g.Generate(rand.New(rand.NewPCG(7, 4)), 500)
	require.NoError(t, err)

	assert.Equal(t, a.All.Values, b.All.Values)
	assert.NotEqual(t, a.All.Values, c.All.Values)
}

func TestGenerateExtrapolateModeHasNoHighSideband(t *testing.T) {
	g, err := NewGenerator(truthMixture(t, 2000, true))
	require.NoError(t, err)
	pd, err := g.Generate(rand.New(rand.NewPCG(1, 1)), 2000)
	require.NoError(t, err)
	for _, x := range pd.SB.Values {
		assert.Less(t, x, 65.0)
	}
	for _, x := range pd.SR.Values {
		assert.GreaterOrEqual(t, x, 135.0)
	}
}

func TestGenerateRejectsDegenerateInput(t *testing.T) {
	g, err := NewGenerator(truthMixture(t, 1000, false))
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected float64
	}{
		{"zero", 0},
		{"negative", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(rand.New(rand.NewPCG(1, 2)), tt.expected)
			if !errors.Is(err, core.ErrSamplingFailure) {
				t.Fatalf("expected ErrSamplingFailure, got %v", err)
			}
		})
	}

	_, err = NewGenerator(truthMixture(t, 0, false))
	assert.ErrorIs(t, err, core.ErrSamplingFailure)
}
