package fit

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"alphabias/domain/channel"
	"alphabias/domain/mass"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal/model"
	"alphabias/internal/pdf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianNLL(x []float64) float64 {
	a := (x[0] - 3) / 2
	b := (x[1] + 1) / 0.5
	return 0.5*a*a + 0.5*b*b
}

func TestMinimizeQuadratic(t *testing.T) {
	params := []Parameter{
		{Name: "a", Start: 0, Min: -10, Max: 10},
		{Name: "b", Start: 2, Min: -5, Max: 5},
	}
	for _, strategy := range []Strategy{StrategyFast, StrategyDefault, StrategyCareful} {
		res, err := NewMinimizer(strategy).Minimize(context.Background(), Problem{Params: params, NLL: gaussianNLL})
		require.NoError(t, err)
		assert.Equal(t, StatusOK, res.Status, "strategy %d: %s", strategy, res.Termination)
		assert.InDelta(t, 3, res.Values[0], 1e-3)
		assert.InDelta(t, -1, res.Values[1], 1e-3)
		assert.InDelta(t, 2, res.Errors[0], 1e-2)
		assert.InDelta(t, 0.5, res.Errors[1], 1e-2)
		assert.InDelta(t, 3, res.Map()["a"], 1e-3)
	}
}

func TestMinimizeRespectsBounds(t *testing.T) {
	params := []Parameter{{Name: "a", Start: 1, Min: 0, Max: 2}, {Name: "b", Start: 0, Min: -5, Max: 5}}
	res, err := NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{Params: params, NLL: gaussianNLL})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Values[0], 2.0)
	assert.InDelta(t, 2, res.Values[0], 1e-2)
}

func TestMinimizeMalformedProblem(t *testing.T) {
	_, err := NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{})
	assert.Error(t, err)
	_, err = NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{NLL: gaussianNLL})
	assert.Error(t, err)
}

func TestMinimizeEmptyRangeFails(t *testing.T) {
	params := []Parameter{{Name: "a", Start: 0, Min: 0, Max: 0}, {Name: "b", Start: 0, Min: -5, Max: 5}}
	res, err := NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{Params: params, NLL: gaussianNLL})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, res.Converged())
}

func TestMinimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params := []Parameter{{Name: "a", Start: 0, Min: -10, Max: 10}, {Name: "b", Start: 0, Min: -5, Max: 5}}
	_, err := NewMinimizer(StrategyDefault).Minimize(ctx, Problem{Params: params, NLL: gaussianNLL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPropagateLinear(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 0.25})
	f := func(x []float64) float64 { return 2*x[0] + 3*x[1] }
	got := Propagate(f, []float64{3, -1}, cov, nil)
	assert.InDelta(t, math.Sqrt(4*4+9*0.25), got, 1e-6)
	assert.Equal(t, 0.0, Propagate(f, []float64{3, -1}, nil, nil))
}

func TestExtendedYieldFitRecoversTruth(t *testing.T) {
	obs := mass.MustObservable("jet mass", mass.DefaultWindows(false))
	priors := channel.DefaultPriors(channel.MustParse("XWhmnb"))
	shapes := make([]*pdf.Shape, len(shape.Components))
	for i, c := range shape.Components {
		shapes[i] = pdf.MustBuild(priors[c], obs)
	}
	truth, err := model.Compose(obs, shape.Components, shapes,
		[]shape.Param{shape.Fixed(4000), shape.Fixed(600), shape.Fixed(400)})
	require.NoError(t, err)

	sampler, err := model.NewSampler(truth)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	values := make([]float64, 5000)
	for i := range values {
		values[i] = sampler.Draw(rng)
	}
	data := sample.New("toy", values)

	start, err := truth.With(map[string]float64{"Vjet.yield": 3000})
	require.NoError(t, err)
	keys := []string{"Vjet.yield"}
	params := []Parameter{{Name: keys[0], Start: 3000, Min: 0, Max: 8000}}
	sb := obs.Ranges(mass.RegionSB)
	nll, nllW2 := Extended(start, data, sb, keys)
	assert.Nil(t, nllW2, "unit-weight data needs no SumW2 correction")

	res, err := NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{Params: params, NLL: nll})
	require.NoError(t, err)
	require.True(t, res.Converged(), res.Termination)

	fitted := res.Values[0]
	sigma := res.Errors[0]
	assert.Greater(t, sigma, 0.0)
	assert.InDelta(t, 4000, fitted, 5*sigma, "fitted %g ± %g", fitted, sigma)
}

func TestPlainAndExtendedAgreeOnShape(t *testing.T) {
	obs := mass.MustObservable("jet mass", mass.DefaultWindows(false))
	spec := shape.Spec{Family: shape.EXP, Params: shape.ParamSet{shape.RoleSlope: shape.NewParam(-0.02, -0.1, 0)}}
	s := pdf.MustBuild(spec, obs)
	m, err := model.Compose(obs, []shape.Component{shape.Vjet}, []*pdf.Shape{s}, []shape.Param{shape.Fixed(1)})
	require.NoError(t, err)

	sampler, err := model.NewSampler(m)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(3, 4))
	values := make([]float64, 3000)
	for i := range values {
		values[i] = sampler.Draw(rng)
	}
	weights := make([]float64, len(values))
	for i := range weights {
		weights[i] = 0.5
	}
	data := sample.NewWeighted("mc", values, weights)

	keys := []string{"Vjet.slope"}
	params, err := Params(m, keys)
	require.NoError(t, err)
	nll, nllW2 := Plain(m, data, obs.Ranges(mass.RegionFull), keys)
	require.NotNil(t, nllW2)

	res, err := NewMinimizer(StrategyDefault).Minimize(context.Background(), Problem{Params: params, NLL: nll, NLLSumW2: nllW2})
	require.NoError(t, err)
	require.True(t, res.Converged(), res.Termination)
	assert.InDelta(t, -0.02, res.Values[0], 5*res.Errors[0])
}
