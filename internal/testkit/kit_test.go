package testkit

import (
	"context"
	"errors"
	"testing"

	"alphabias/domain/core"
	"alphabias/domain/shape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGAdapterStreams(t *testing.T) {
	ctx := context.Background()
	r := &RNGAdapter{}

	a, err := r.Stream(ctx, 42, 7)
	require.NoError(t, err)
	b, err := r.Stream(ctx, 42, 7)
	require.NoError(t, err)
	c, err := r.Stream(ctx, 42, 8)
	require.NoError(t, err)

	x, y, z := a.Float64(), b.Float64(), c.Float64()
	assert.Equal(t, x, y)
	assert.NotEqual(t, x, z)

	_, err = r.Stream(ctx, 42, -1)
	assert.Error(t, err)
}

func TestValidateSeed(t *testing.T) {
	ctx := context.Background()
	r := &RNGAdapter{}
	rng, err := r.SeededStream(ctx, "closure", 3)
	require.NoError(t, err)
	expected := []float64{rng.Float64(), rng.Float64(), rng.Float64()}

	assert.NoError(t, r.ValidateSeed(ctx, "closure", 3, expected))
	err = r.ValidateSeed(ctx, "closure", 4, expected)
	if !errors.Is(err, core.ErrSeedMismatch) {
		t.Fatalf("expected ErrSeedMismatch, got %v", err)
	}
}

func TestSampleGeneratorLoad(t *testing.T) {
	kit, err := NewTestKit()
	require.NoError(t, err)
	cfg := DefaultSampleConfig()
	cfg.Entries = map[shape.Component]int{shape.Vjet: 2000, shape.VV: 500, shape.Top: 500}
	kit.WithSampleConfig(cfg)

	samples, err := kit.SampleSource().Load(context.Background(), "XWhmnb")
	require.NoError(t, err)
	require.NoError(t, samples.Validate())

	for _, c := range shape.Components {
		ds := samples.MC[c]
		assert.Equal(t, cfg.Entries[c], ds.Len(), "%s entries", c)
		assert.InDelta(t, cfg.Yields[c], ds.SumEntries(), 1e-6*cfg.Yields[c], "%s weighted sum", c)
		for _, x := range ds.Values {
			assert.True(t, x >= 30 && x < 300)
		}
	}
	total := cfg.Yields[shape.Vjet] + cfg.Yields[shape.VV] + cfg.Yields[shape.Top]
	assert.InDelta(t, total, float64(samples.Data.Len()), 5*40)
	assert.False(t, samples.Data.Weighted())
}

func TestSampleGeneratorDeterministic(t *testing.T) {
	kit, err := NewTestKit()
	require.NoError(t, err)
	src := kit.SampleSource()
	a, err := src.Load(context.Background(), "XZheeb")
	require.NoError(t, err)
	b, err := src.Load(context.Background(), "XZheeb")
	require.NoError(t, err)
	assert.Equal(t, a.Data.Values, b.Data.Values)
	assert.Equal(t, a.MC[shape.Top].Values, b.MC[shape.Top].Values)
}

func TestSampleGeneratorUnknownChannel(t *testing.T) {
	kit, err := NewTestKit()
	require.NoError(t, err)
	_, err = kit.SampleSource().Load(context.Background(), "XQhzz")
	assert.ErrorIs(t, err, core.ErrMalformedChannel)
}

func TestTruth(t *testing.T) {
	kit, err := NewTestKit()
	require.NoError(t, err)
	m, priors, err := kit.Truth("XZhnnbb", 1000, shape.Fractions{shape.Vjet: 0.7, shape.VV: 0.2, shape.Top: 0.1})
	require.NoError(t, err)
	assert.Len(t, priors, 3)
	assert.InDelta(t, 1000, m.Total(), 1e-9)
}
