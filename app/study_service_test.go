package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphabias/adapters/filestore"
	"alphabias/adapters/plot"
	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/biaspull"
	"alphabias/internal/config"
	"alphabias/internal/fit"
	"alphabias/internal/study"
	"alphabias/internal/testkit"
	"alphabias/ports"
)

type countingObserver struct {
	mu     sync.Mutex
	trials map[string]int
}

func (o *countingObserver) ObserveTrial(channel string, r biaspull.TrialResult, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trials[channel]++
}

type studyLog struct {
	mu       sync.Mutex
	statuses []string
}

func (l *studyLog) RecordStudy(channel, status string, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, channel+":"+status)
}

func newTestService(t *testing.T) (*StudyService, *filestore.StudyStore, string) {
	t.Helper()
	return newTestServiceWithSinks(t, func(string) ports.PlotSink { return nil })
}

func newTestServiceWithSinks(t *testing.T, sinks func(dir string) ports.PlotSink) (*StudyService, *filestore.StudyStore, string) {
	t.Helper()
	kit, err := testkit.NewTestKit()
	require.NoError(t, err)
	kit.WithSampleConfig(testkit.SampleGeneratorConfig{
		Yields:  testkit.DefaultSampleConfig().Yields,
		Entries: testkit.DefaultSampleConfig().Entries,
		Seed:    3,
	})

	out := t.TempDir()
	store := filestore.NewStudyStore(filepath.Join(out, "studies"))
	sc := study.DefaultConfig()
	sc.Trials = 6
	sc.Workers = 3
	sc.RetainDiagnostics = 0
	sc.Strategy = fit.StrategyDefault
	svc := NewStudyService(kit.SampleSource(), store, kit.RNGAdapter(), config.ChannelOverrides(nil),
		func(ch string) ports.PlotSink { return sinks(filepath.Join(out, ch)) },
		StudyOptions{Study: sc, OutputDir: out}, nil)
	return svc, store, out
}

func TestRunStoresCompletedStudy(t *testing.T) {
	if testing.Short() {
		t.Skip("full study")
	}
	svc, store, out := newTestService(t)
	obs := &countingObserver{trials: map[string]int{}}
	log := &studyLog{}
	svc.WithObserver(obs).WithRecorder(log)

	rec, err := svc.Run(context.Background(), "XWhmnb")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, rec.Status)
	assert.Equal(t, 6, rec.Summary.TrialsRun)
	assert.Len(t, rec.Trials, 6)
	assert.NotNil(t, rec.Background)
	assert.NoError(t, rec.Manifest.Verify())
	assert.NoError(t, rec.Manifest.Validate())
	assert.InDelta(t, 1, rec.Manifest.Fractions["Vjet"]+rec.Manifest.Fractions["VV"]+rec.Manifest.Fractions["Top"], 1e-9)
	assert.Equal(t, 6, obs.trials["XWhmnb"])
	assert.Equal(t, []string{"XWhmnb:completed"}, log.statuses)

	stored, err := store.Get(context.Background(), rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.Manifest.Fingerprint, stored.Manifest.Fingerprint)

	for _, f := range []string{"XWhmnb_report.md", "XWhmnb_study.xlsx"} {
		_, err := os.Stat(filepath.Join(out, "XWhmnb", f))
		assert.NoError(t, err, f)
	}
}

func TestRunRendersPlotsToFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("full study")
	}
	svc, store, out := newTestServiceWithSinks(t, func(dir string) ports.PlotSink {
		return plot.NewFileSink(dir, "png")
	})

	rec, err := svc.Run(context.Background(), "XWhmnb")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, rec.Status)

	dir := filepath.Join(out, "XWhmnb")
	for _, f := range []string{"XWhmnb_Bias_and_Pull.png", "XWhmnb_Bias_and_Pull_converged.png", "XWhmnb_SB.png"} {
		path := filepath.Join(dir, f)
		assert.Contains(t, rec.Plots, path)
		st, err := os.Stat(path)
		if assert.NoError(t, err, f) {
			assert.Greater(t, st.Size(), int64(0), f)
		}
	}
	for _, f := range []string{"XWhmnb_report.md", "XWhmnb_study.xlsx"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}

	stored, err := store.Get(context.Background(), rec.ID())
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, stored.Status)
	assert.Equal(t, rec.Plots, stored.Plots)
}

func TestRunIsReproducible(t *testing.T) {
	if testing.Short() {
		t.Skip("full study")
	}
	svc, _, _ := newTestService(t)
	a, err := svc.Run(context.Background(), "XZhmmb")
	require.NoError(t, err)
	b, err := svc.Run(context.Background(), "XZhmmb")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.Manifest.PriorsHash, b.Manifest.PriorsHash)
	assert.Equal(t, a.Histograms, b.Histograms)
	assert.Equal(t, a.Trials, b.Trials)
}

func TestRunUnknownChannel(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Run(context.Background(), "XQhnnb")
	assert.ErrorIs(t, err, core.ErrMalformedChannel)

	_, err = svc.Launch(context.Background(), "XQhnnb")
	assert.ErrorIs(t, err, core.ErrMalformedChannel)
}

func TestRunStoresFailedStudy(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := svc.Run(ctx, "XZheeb")
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, run.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	list, err := store.List(context.Background(), ports.StudyFilters{Status: run.StatusFailed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID(), list[0].ID)
}

func TestLaunchAndRunAll(t *testing.T) {
	if testing.Short() {
		t.Skip("full study")
	}
	svc, store, _ := newTestService(t)
	id, err := svc.Launch(context.Background(), "XZhnnbb")
	require.NoError(t, err)
	svc.Wait()
	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, rec.Status)

	recs, err := svc.RunAll(context.Background(), []string{"XWhenbb", "bogus"}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	require.Len(t, recs, 2)
	assert.Equal(t, run.StatusCompleted, recs[0].Status)
	assert.Nil(t, recs[1])
}
