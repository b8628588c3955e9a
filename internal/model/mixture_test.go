package model

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal/pdf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMixture(t *testing.T, yields ...float64) *Mixture {
	t.Helper()
	obs := mass.MustObservable("jet mass", mass.DefaultWindows(false))
	priors := channel.DefaultPriors(channel.MustParse("XWhmnb"))
	shapes := make([]*pdf.Shape, len(shape.Components))
	params := make([]shape.Param, len(shape.Components))
	for i, c := range shape.Components {
		shapes[i] = pdf.MustBuild(priors[c], obs)
		params[i] = shape.Fixed(yields[i])
	}
	m, err := Compose(obs, shape.Components, shapes, params)
	require.NoError(t, err)
	return m
}

func TestComposeLengthMismatch(t *testing.T) {
	obs := mass.MustObservable("jet mass", mass.DefaultWindows(false))
	s := pdf.MustBuild(shape.Spec{Family: shape.EXP, Params: shape.ParamSet{shape.RoleSlope: shape.NewParam(-0.02, -1, 0)}}, obs)
	_, err := Compose(obs, []shape.Component{shape.Vjet}, []*pdf.Shape{s}, nil)
	if !errors.Is(err, core.ErrComponentMismatch) {
		t.Fatalf("expected ErrComponentMismatch, got %v", err)
	}
}

func TestExpectedUsesFullRangeCoefficients(t *testing.T) {
	m := testMixture(t, 700, 200, 100)
	obs := m.Observable()

	assert.InDelta(t, 1000, m.Expected(obs.Ranges(mass.RegionFull)), 1e-6)

	sum := m.Expected(obs.Ranges(mass.RegionSB)) +
		m.Expected(obs.Ranges(mass.RegionVR)) +
		m.Expected(obs.Ranges(mass.RegionSR))
	assert.InDelta(t, 1000, sum, 1e-6)

	byComp := m.ExpectedByComponent(obs.Ranges(mass.RegionSR))
	var total float64
	for _, v := range byComp {
		total += v
	}
	assert.InDelta(t, m.Expected(obs.Ranges(mass.RegionSR)), total, 1e-9)
}

func TestPDFInNormalizesOverQueriedRanges(t *testing.T) {
	m := testMixture(t, 700, 200, 100)
	sb := m.Observable().Ranges(mass.RegionSB)
	got := pdf.IntegrateRanges(func(x float64) float64 { return m.PDFIn(x, sb) }, sb)
	assert.InDelta(t, 1, got, 1e-6)
	assert.Equal(t, 0.0, m.PDFIn(120, sb), "signal region point is outside the sideband")
}

func TestScaleIsLinear(t *testing.T) {
	m := testMixture(t, 700, 200, 100)
	sr := m.Observable().Ranges(mass.RegionSR)
	scaled := m.Scale(3)
	assert.InDelta(t, 3*m.Expected(sr), scaled.Expected(sr), 1e-9)
	assert.InDelta(t, 1000.0, m.Total(), 1e-9, "Scale must not modify the receiver")
}

func TestWithUpdatesYieldAndShape(t *testing.T) {
	m := testMixture(t, 700, 200, 100)
	updated, err := m.With(map[string]float64{
		Key(shape.Vjet, YieldRole):     350,
		Key(shape.VV, shape.RoleSlope): -0.05,
	})
	require.NoError(t, err)

	v, ok := updated.Value(Key(shape.Vjet, YieldRole))
	require.True(t, ok)
	assert.Equal(t, 350.0, v)

	slope, ok := updated.Value(Key(shape.VV, shape.RoleSlope))
	require.True(t, ok)
	assert.Equal(t, -0.05, slope)

	orig, _ := m.Value(Key(shape.VV, shape.RoleSlope))
	assert.Equal(t, -0.03, orig)

	_, err = m.With(map[string]float64{"Vjet.nope": 1})
	assert.Error(t, err)
	_, err = m.With(map[string]float64{"QCD.yield": 1})
	assert.Error(t, err)
}

func TestSplitKey(t *testing.T) {
	comp, role, err := SplitKey("Top.mean2")
	require.NoError(t, err)
	assert.Equal(t, shape.Top, comp)
	assert.Equal(t, "mean2", role)

	for _, bad := range []string{"", "Top", ".yield", "Top."} {
		_, _, err := SplitKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestSamplerFollowsDensity(t *testing.T) {
	m := testMixture(t, 700, 200, 100)
	s, err := NewSampler(m)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	obs := m.Observable()
	const n = 20000
	counts := map[mass.Region]int{}
	for i := 0; i < n; i++ {
		x := s.Draw(rng)
		require.True(t, obs.Contains(mass.RegionFull, x), "draw %g outside full range", x)
		for _, r := range []mass.Region{mass.RegionSB, mass.RegionVR, mass.RegionSR} {
			if obs.Contains(r, x) {
				counts[r]++
			}
		}
	}
	for _, r := range []mass.Region{mass.RegionSB, mass.RegionVR, mass.RegionSR} {
		p := m.Expected(obs.Ranges(r)) / m.Total()
		want := p * n
		sigma := math.Sqrt(n * p * (1 - p))
		assert.InDelta(t, want, float64(counts[r]), 5*sigma, "region %s", r)
	}
}

func TestSamplerRejectsEmptyMixture(t *testing.T) {
	m := testMixture(t, 0, 0, 0)
	_, err := NewSampler(m)
	if !errors.Is(err, core.ErrSamplingFailure) {
		t.Fatalf("expected ErrSamplingFailure, got %v", err)
	}
}
