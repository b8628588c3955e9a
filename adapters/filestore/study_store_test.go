package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/errors"
	"alphabias/ports"
)

func record(channel string, created time.Time, status run.Status) *run.Record {
	rec := &run.Record{
		Manifest: run.Manifest{
			StudyID:   core.NewStudyID(),
			Channel:   channel,
			Seed:      42,
			Trials:    100,
			CreatedAt: core.NewTimestamp(created),
		},
		Status: status,
		Summary: run.Summary{
			Counters:      run.Counters{TrialsRun: 100, TrialsConverged: 97, ConvergenceRate: 0.97},
			PullConverged: run.Distribution{N: 97, Mean: 0.05, StdDev: 1.02},
		},
		Trials: []run.TrialRow{{Index: 0, Bias: 0.01, BiasDefined: true}},
	}
	rec.Manifest.Seal()
	return rec
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStudyStore(filepath.Join(t.TempDir(), "studies"))
	rec := record("XZhnnb", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), run.StatusCompleted)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.Manifest.Fingerprint, got.Manifest.Fingerprint)
	assert.NoError(t, got.Manifest.Verify())
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.Trials, got.Trials)

	// saving again replaces the file
	rec.Status = run.StatusFailed
	require.NoError(t, s.Save(ctx, rec))
	files, err := os.ReadDir(s.BaseDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	got, err = s.Get(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
}

func TestGetUnknown(t *testing.T) {
	_, err := NewStudyStore(t.TempDir()).Get(context.Background(), core.NewStudyID())
	assert.True(t, core.IsNotFoundError(err))
}

func TestListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStudyStore(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []*run.Record{
		record("XZhnnb", base, run.StatusCompleted),
		record("XZhnnb", base.Add(time.Hour), run.StatusFailed),
		record("XWhenb", base.Add(2*time.Hour), run.StatusCompleted),
	}
	for _, r := range recs {
		require.NoError(t, s.Save(ctx, r))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir, "broken.json"), []byte("{"), 0644))

	all, err := s.List(ctx, ports.StudyFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, recs[2].ID(), all[0].ID)
	assert.Equal(t, recs[0].ID(), all[2].ID)

	tests := []struct {
		name    string
		filters ports.StudyFilters
		want    []core.StudyID
	}{
		{"channel", ports.StudyFilters{Channel: "XZhnnb"}, []core.StudyID{recs[1].ID(), recs[0].ID()}},
		{"status", ports.StudyFilters{Status: run.StatusCompleted}, []core.StudyID{recs[2].ID(), recs[0].ID()}},
		{"limit", ports.StudyFilters{Limit: 1}, []core.StudyID{recs[2].ID()}},
		{"offset", ports.StudyFilters{Offset: 2}, []core.StudyID{recs[0].ID()}},
		{"offset past end", ports.StudyFilters{Offset: 5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filters)
			require.NoError(t, err)
			var ids []core.StudyID
			for _, g := range got {
				ids = append(ids, g.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	assert.InDelta(t, 0.97, all[0].ConvergenceRate, 1e-12)
	assert.InDelta(t, 1.02, all[0].PullWidth, 1e-12)
}

func TestListEmptyDirectory(t *testing.T) {
	got, err := NewStudyStore(filepath.Join(t.TempDir(), "missing")).List(context.Background(), ports.StudyFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveRejectsMissingID(t *testing.T) {
	err := NewStudyStore(t.TempDir()).Save(context.Background(), &run.Record{})
	assert.Error(t, err)
}

func TestSaveReportsStorageError(t *testing.T) {
	base := filepath.Join(t.TempDir(), "studies")
	require.NoError(t, os.WriteFile(base, []byte("not a directory"), 0644))

	err := NewStudyStore(base).Save(context.Background(), record("XZhnnb", time.Now(), run.StatusRunning))
	require.Error(t, err)
	assert.Equal(t, errors.CodeStorageError, errors.GetCode(err))
}
