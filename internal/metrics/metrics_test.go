package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphabias/internal/biaspull"
	"alphabias/internal/fit"
)

func newTestMetrics(t *testing.T) *StudyMetrics {
	t.Helper()
	return New(prometheus.NewRegistry())
}

func TestObserveTrialOutcomes(t *testing.T) {
	m := newTestMetrics(t)
	ch := "XZhnnb"

	m.ObserveTrial(ch, biaspull.Score(105, 10, 100, fit.StatusOK), time.Millisecond)
	m.ObserveTrial(ch, biaspull.Score(95, 10, 100, fit.StatusOK), time.Millisecond)
	m.ObserveTrial(ch, biaspull.Score(3, 1, 0, fit.StatusOK), time.Millisecond)
	m.ObserveTrial(ch, biaspull.Score(80, 10, 100, fit.StatusFailed), time.Millisecond)
	m.ObserveTrial(ch, biaspull.Abort(100, assert.AnError), time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues(ch, OutcomeConverged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues(ch, OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues(ch, OutcomeAborted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UndefinedBias.WithLabelValues(ch)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TrialDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Bias))
}

func TestRecordStudyAndHandler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordStudy("XWhenb", "completed", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StudiesTotal.WithLabelValues("XWhenb", "completed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `alphabias_studies_total{channel="XWhenb",status="completed"} 1`)
}
