package study

import (
	"context"
	"errors"
	"math"
	"testing"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/run"
	"alphabias/domain/shape"
	"alphabias/internal/biaspull"
	"alphabias/internal/testkit"
	"alphabias/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var closureFractions = shape.Fractions{shape.Vjet: 0.7, shape.VV: 0.2, shape.Top: 0.1}

func testInputs(t *testing.T, name string, expected float64, fractions shape.Fractions) Inputs {
	t.Helper()
	cfg := channel.MustParse(name)
	return Inputs{
		Channel:    cfg,
		Observable: mass.MustObservable("jet mass", mass.DefaultWindows(false)),
		Priors:     channel.DefaultPriors(cfg),
		Truth:      Truth{Fractions: fractions, ExpectedCount: expected},
	}
}

func testConfig(trials, workers int) Config {
	cfg := DefaultConfig()
	cfg.Trials = trials
	cfg.Workers = workers
	cfg.RetainDiagnostics = 3
	return cfg
}

func TestRunCountsEveryTrial(t *testing.T) {
	out, err := NewRunner(testConfig(30, 4), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XWhmnb", 1000, closureFractions))
	require.NoError(t, err)

	acc := out.Accumulator
	assert.Equal(t, 30, acc.TrialsRun)
	assert.LessOrEqual(t, acc.TrialsConverged, acc.TrialsRun)
	assert.LessOrEqual(t, acc.TrialsWithUndefinedBias, acc.TrialsRun)
	require.Len(t, out.Trials, 30)
	for i, tr := range out.Trials {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, i < 3, tr.Diagnostics != nil, "trial %d diagnostics", i)
	}

	kept := acc.Retained()
	require.Len(t, kept, 3)
	for i, tr := range kept {
		assert.Equal(t, i, tr.Index)
	}
}

func TestRunIsIndependentOfWorkerCount(t *testing.T) {
	in := testInputs(t, "XZhnnb", 800, closureFractions)
	serial, err := NewRunner(testConfig(24, 1), &testkit.RNGAdapter{}, nil).Run(context.Background(), in)
	require.NoError(t, err)
	parallel, err := NewRunner(testConfig(24, 6), &testkit.RNGAdapter{}, nil).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, serial.Accumulator.Histograms(), parallel.Accumulator.Histograms())
	assert.Equal(t, serial.Accumulator.Biases(false), parallel.Accumulator.Biases(false))
	assert.Equal(t, serial.Accumulator.Counters(), parallel.Accumulator.Counters())
	for i := range serial.Trials {
		assert.Equal(t, serial.Trials[i].Row(), parallel.Trials[i].Row())
	}
}

func TestRunSeedChangesOutcome(t *testing.T) {
	in := testInputs(t, "XZhnnb", 800, closureFractions)
	a, err := NewRunner(testConfig(10, 2), &testkit.RNGAdapter{}, nil).Run(context.Background(), in)
	require.NoError(t, err)
	cfg := testConfig(10, 2)
	cfg.Seed = 7
	b, err := NewRunner(cfg, &testkit.RNGAdapter{}, nil).Run(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, a.Accumulator.Biases(false), b.Accumulator.Biases(false))
}

func TestClosure(t *testing.T) {
	if testing.Short() {
		t.Skip("closure study runs 100 fits")
	}
	out, err := NewRunner(testConfig(100, 4), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XWhenb", 1000, closureFractions))
	require.NoError(t, err)

	acc := out.Accumulator
	assert.Equal(t, 100, acc.TrialsRun)
	assert.Greater(t, acc.ConvergenceRate(), 0.9)

	s := acc.Summary()
	assert.InDelta(t, 0, s.BiasConverged.Mean, 0.05, "converged bias mean %g ± %g", s.BiasConverged.Mean, s.BiasConverged.MeanErr)
	assert.InDelta(t, 0, s.PullConverged.Mean, 0.4)

	var yields []float64
	var sumErr, sumTruth float64
	for _, tr := range out.Trials {
		if !tr.Converged || !tr.PullDefined {
			continue
		}
		yields = append(yields, tr.Yield)
		sumErr += tr.StdErr
		sumTruth += float64(tr.TruthCount)
	}
	require.Greater(t, len(yields), 50)
	n := float64(len(yields))
	meanErr, meanTruth := sumErr/n, sumTruth/n

	// the propagated error describes the spread of the extrapolated yield
	spread := biaspull.Describe(yields).StdDev
	assert.InDelta(t, 1, meanErr/spread, 0.3, "stderr %g, yield spread %g", meanErr, spread)

	// the pull also carries the Poisson fluctuation of the signal-region count
	width := math.Sqrt(1 + meanTruth/(meanErr*meanErr))
	assert.InDelta(t, 1, s.PullConverged.StdDev/width, 0.25, "pull width %g, expected %g", s.PullConverged.StdDev, width)
}

func TestZeroSignalRegionGivesSentinel(t *testing.T) {
	out, err := NewRunner(testConfig(20, 2), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XWhmnb", 0.05, closureFractions))
	require.NoError(t, err)

	zero := 0
	for _, tr := range out.Trials {
		if tr.Aborted || tr.TruthCount != 0 {
			continue
		}
		zero++
		assert.Equal(t, biaspull.BiasSentinel, tr.Bias)
		assert.False(t, tr.BiasDefined)
	}
	require.Greater(t, zero, 0)
	assert.Equal(t, zero, out.Accumulator.TrialsWithUndefinedBias)
	assert.Equal(t, 20, out.Accumulator.TrialsRun)
	for _, h := range out.Accumulator.Histograms() {
		assert.Zero(t, h.Overflow, "sentinel leaked into %s", h.Name)
	}
}

func TestPathologicalFitNeverConverges(t *testing.T) {
	// no Vjet in the truth leaves the free yield an empty range
	noVjet := shape.Fractions{shape.Vjet: 0, shape.VV: 0.6, shape.Top: 0.4}
	out, err := NewRunner(testConfig(15, 3), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XZheeb", 500, noVjet))
	require.NoError(t, err)
	assert.Equal(t, 15, out.Accumulator.TrialsRun)
	assert.Equal(t, 0, out.Accumulator.TrialsConverged)
	assert.Zero(t, out.Accumulator.BiasConverged.Entries())
}

func TestRunRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, "XWhmnb", 1000, closureFractions)

	_, err := NewRunner(testConfig(10, 0), &testkit.RNGAdapter{}, nil).Run(ctx, in)
	assert.Error(t, err)

	_, err = NewRunner(testConfig(0, 1), &testkit.RNGAdapter{}, nil).Run(ctx, in)
	assert.Error(t, err)

	bad := in
	bad.Truth.ExpectedCount = 0
	_, err = NewRunner(testConfig(10, 1), &testkit.RNGAdapter{}, nil).Run(ctx, bad)
	if !errors.Is(err, core.ErrSamplingFailure) {
		t.Fatalf("expected ErrSamplingFailure, got %v", err)
	}

	bad = in
	bad.Priors = in.Priors.Clone()
	bad.Priors[shape.Vjet] = shape.Spec{Family: "SPLINE", Params: shape.ParamSet{}}
	_, err = NewRunner(testConfig(10, 1), &testkit.RNGAdapter{}, nil).Run(ctx, bad)
	assert.ErrorIs(t, err, core.ErrUnsupportedShape)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(testConfig(10, 2), &testkit.RNGAdapter{}, nil).Run(ctx, testInputs(t, "XWhmnb", 1000, closureFractions))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBiasPullStudy(t *testing.T) {
	cfg := channel.MustParse("XZhmmb")
	acc, err := RunBiasPullStudy(context.Background(), cfg, channel.DefaultPriors(cfg),
		Truth{Fractions: closureFractions, ExpectedCount: 1000}, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, acc.TrialsRun)
}

type recordingSink struct {
	figures    []string
	histograms []string
	fail       bool
}

func (s *recordingSink) Figure(ctx context.Context, name string, f ports.Figure) (string, error) {
	if s.fail {
		return "", errors.New("disk full")
	}
	s.figures = append(s.figures, name)
	return name + ".png", nil
}

func (s *recordingSink) Histograms(ctx context.Context, name, title string, hs []run.Histogram) (string, error) {
	s.histograms = append(s.histograms, name)
	return name + ".png", nil
}

func TestRenderRetainedTrials(t *testing.T) {
	r := NewRunner(testConfig(6, 2), &testkit.RNGAdapter{}, nil)
	out, err := r.Run(context.Background(), testInputs(t, "XWhmnb", 1000, closureFractions))
	require.NoError(t, err)

	sink := &recordingSink{}
	written := r.Render(context.Background(), sink, "XWhmnb", out)
	assert.Equal(t, []string{"XWhmnb_toy_000", "XWhmnb_toy_001", "XWhmnb_toy_002"}, sink.figures)
	assert.Equal(t, []string{"XWhmnb_Bias_and_Pull", "XWhmnb_Bias_and_Pull_converged"}, sink.histograms)
	assert.Len(t, written, 5)

	failing := &recordingSink{fail: true}
	written = r.Render(context.Background(), failing, "XWhmnb", out)
	assert.Len(t, written, 2, "figure failures are skipped")
}

func TestTrialFigureCurves(t *testing.T) {
	out, err := NewRunner(testConfig(1, 1), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XWhmnb", 1000, closureFractions))
	require.NoError(t, err)
	fig, ok := TrialFigure("XWhmnb", out.Trials[0])
	require.True(t, ok)
	assert.Equal(t, 54, fig.Bins)
	// truth, fit total, fit VV+Top, fit Top
	require.Len(t, fig.Curves, 4)
	for _, c := range fig.Curves {
		assert.Len(t, c.X, curvePoints)
	}
	for i := range fig.Curves[1].Y {
		assert.GreaterOrEqual(t, fig.Curves[1].Y[i]+1e-12, fig.Curves[2].Y[i])
		assert.GreaterOrEqual(t, fig.Curves[2].Y[i]+1e-12, fig.Curves[3].Y[i])
	}
}

func TestFitFigure(t *testing.T) {
	out, err := NewRunner(testConfig(1, 1), &testkit.RNGAdapter{}, nil).
		Run(context.Background(), testInputs(t, "XZhnnb", 1000, closureFractions))
	require.NoError(t, err)
	obs := out.Truth.Observable()
	fig := FitFigure("sidebands", out.Truth, out.Trials[0].Diagnostics.Data, obs.Ranges(mass.RegionSR), out.Truth.Scale(0.5))
	// fit total, VV+Top, Top, alt
	require.Len(t, fig.Curves, 4)
	assert.True(t, fig.Curves[1].Filled)
	assert.False(t, fig.Curves[3].Filled)
	assert.Equal(t, "alt", fig.Curves[3].Name)
	assert.Equal(t, obs.Ranges(mass.RegionSR), fig.Blind)
	assert.InDelta(t, fig.Curves[0].Y[10]/2, fig.Curves[3].Y[10], 1e-9)
}
