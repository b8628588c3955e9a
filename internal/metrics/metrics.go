// Package metrics exposes study progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alphabias/internal/biaspull"
	"alphabias/internal/study"
)

// Trial outcome label values.
const (
	OutcomeConverged = "converged"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// StudyMetrics holds the collectors of the study runner.
type StudyMetrics struct {
	TrialsTotal   *prometheus.CounterVec
	TrialDuration *prometheus.HistogramVec
	Bias          *prometheus.HistogramVec
	Pull          *prometheus.HistogramVec
	UndefinedBias *prometheus.CounterVec
	StudiesTotal  *prometheus.CounterVec
	StudySeconds  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ study.Observer = (*StudyMetrics)(nil)

// New registers the study collectors on reg.
func New(reg *prometheus.Registry) *StudyMetrics {
	f := promauto.With(reg)
	return &StudyMetrics{
		TrialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphabias_trials_total",
			Help: "Toy trials by channel and outcome",
		}, []string{"channel", "outcome"}),
		TrialDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alphabias_trial_duration_seconds",
			Help:    "Wall time of one toy trial",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"channel"}),
		Bias: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alphabias_trial_bias",
			Help:    "Relative bias of converged trials",
			Buckets: prometheus.LinearBuckets(-0.5, 0.05, 21),
		}, []string{"channel"}),
		Pull: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alphabias_trial_pull",
			Help:    "Pull of converged trials",
			Buckets: prometheus.LinearBuckets(-5, 0.5, 21),
		}, []string{"channel"}),
		UndefinedBias: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphabias_trials_undefined_bias_total",
			Help: "Trials with no signal-region events",
		}, []string{"channel"}),
		StudiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphabias_studies_total",
			Help: "Finished studies by channel and status",
		}, []string{"channel", "status"}),
		StudySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alphabias_study_duration_seconds",
			Help:    "Wall time of a full study",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"channel"}),
		gatherer: reg,
	}
}

// ObserveTrial records one finished trial. Safe for concurrent use.
func (m *StudyMetrics) ObserveTrial(channel string, r biaspull.TrialResult, elapsed time.Duration) {
	m.TrialDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
	switch {
	case r.Aborted:
		m.TrialsTotal.WithLabelValues(channel, OutcomeAborted).Inc()
		return
	case r.Converged:
		m.TrialsTotal.WithLabelValues(channel, OutcomeConverged).Inc()
	default:
		m.TrialsTotal.WithLabelValues(channel, OutcomeFailed).Inc()
	}
	if r.TruthCount == 0 {
		m.UndefinedBias.WithLabelValues(channel).Inc()
	}
	if !r.Converged {
		return
	}
	if r.BiasDefined {
		m.Bias.WithLabelValues(channel).Observe(r.Bias)
	}
	if r.PullDefined {
		m.Pull.WithLabelValues(channel).Observe(r.Pull)
	}
}

// RecordStudy counts a finished study.
func (m *StudyMetrics) RecordStudy(channel, status string, elapsed time.Duration) {
	m.StudiesTotal.WithLabelValues(channel, status).Inc()
	m.StudySeconds.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *StudyMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
