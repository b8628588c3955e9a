package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphabias/adapters/filestore"
	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/biaspull"
	"alphabias/internal/fit"
	"alphabias/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLauncher struct {
	channels []string
}

func (l *fakeLauncher) Launch(ctx context.Context, channel string) (core.StudyID, error) {
	if channel == "bogus" {
		return "", core.ErrMalformedChannel
	}
	l.channels = append(l.channels, channel)
	return core.StudyID("launched-1"), nil
}

func setup(t *testing.T, launcher Launcher) (*gin.Engine, *run.Record) {
	t.Helper()
	store := filestore.NewStudyStore(t.TempDir())
	rec := &run.Record{
		Manifest: run.Manifest{StudyID: core.NewStudyID(), Channel: "XZhnnb", Seed: 42, Trials: 2, CreatedAt: core.Now()},
		Status:   run.StatusCompleted,
		Summary:  run.Summary{Counters: run.Counters{TrialsRun: 2, TrialsConverged: 2, ConvergenceRate: 1}},
		Trials:   []run.TrialRow{{Index: 0, Converged: true}, {Index: 1, Converged: true}},
	}
	rec.Manifest.Seal()
	require.NoError(t, store.Save(context.Background(), rec))
	m := metrics.New(prometheus.NewRegistry())
	return NewRouter(NewStudyHandler(store, launcher), nil, m.Handler()), rec
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestReadEndpoints(t *testing.T) {
	r, rec := setup(t, nil)
	id := rec.ID().String()

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{"health", "/healthz", http.StatusOK, `"ok"`},
		{"list", "/studies", http.StatusOK, id},
		{"list by channel", "/studies?channel=XWhenb", http.StatusOK, `"count":0`},
		{"bad limit", "/studies?limit=-1", http.StatusBadRequest, "INVALID_INPUT"},
		{"get", "/studies/" + id, http.StatusOK, `"channel":"XZhnnb"`},
		{"unknown", "/studies/nope", http.StatusNotFound, "NOT_FOUND"},
		{"report html", "/studies/" + id + "/report", http.StatusOK, "<h1"},
		{"report md", "/studies/" + id + "/report?format=md", http.StatusOK, "# Bias/pull study XZhnnb"},
		{"metrics", "/metrics", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.status, w.Code)
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
}

func TestGetStudyTrials(t *testing.T) {
	r, rec := setup(t, nil)
	var got run.Record
	w := do(r, http.MethodGet, "/studies/"+rec.ID().String(), "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Empty(t, got.Trials)

	w = do(r, http.MethodGet, "/studies/"+rec.ID().String()+"?trials=true", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Trials, 2)
}

func TestStartStudy(t *testing.T) {
	r, _ := setup(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPost, "/studies", `{"channel":"XZhnnb"}`).Code)

	l := &fakeLauncher{}
	r, _ = setup(t, l)
	w := do(r, http.MethodPost, "/studies", `{"channel":"XWhenb"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "launched-1")
	assert.Equal(t, []string{"XWhenb"}, l.channels)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/studies", `{}`).Code)
	w = do(r, http.MethodPost, "/studies", `{"channel":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "CONFIG_INVALID")
}

func TestTrialBroadcaster(t *testing.T) {
	hub := NewSSEHub()
	defer hub.Close()
	events := make(chan StudyEvent, 10)
	hub.register <- SSEClient{Channel: "XZhnnb", Events: events}
	require.Eventually(t, func() bool { return hub.GetClientCount("XZhnnb") == 1 }, time.Second, 5*time.Millisecond)

	b := NewTrialBroadcaster(hub, 4)
	res := biaspull.Score(110, 10, 100, fit.StatusOK)
	res.Index = 3
	b.ObserveTrial("XZhnnb", res, 20*time.Millisecond)
	b.ObserveTrial("XWhenb", res, 20*time.Millisecond)
	b.ObserveTrial("XZhnnb", res, 20*time.Millisecond)

	for _, want := range []float64{0.25, 0.5} {
		select {
		case ev := <-events:
			assert.Equal(t, "XZhnnb", ev.Channel)
			assert.Equal(t, "trial", ev.EventType)
			assert.Equal(t, 3, ev.Trial)
			assert.InDelta(t, want, ev.Progress, 1e-12)
			assert.Equal(t, true, ev.Data["converged"])
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
	}
}
