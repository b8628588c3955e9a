package run

import (
	"time"

	"alphabias/domain/core"
)

// Status of a stored study.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Counters is the scalar state of a bias/pull accumulation.
type Counters struct {
	TrialsRun               int     `json:"trials_run" db:"trials_run"`
	TrialsConverged         int     `json:"trials_converged" db:"trials_converged"`
	TrialsWithUndefinedBias int     `json:"trials_with_undefined_bias" db:"trials_undefined_bias"`
	TrialsWithUndefinedPull int     `json:"trials_with_undefined_pull" db:"trials_undefined_pull"`
	TrialsAborted           int     `json:"trials_aborted" db:"trials_aborted"`
	TrialsNonFinite         int     `json:"trials_non_finite" db:"trials_non_finite"`
	ConvergenceRate         float64 `json:"convergence_rate" db:"convergence_rate"`
}

// Distribution summarizes a set of bias or pull values.
type Distribution struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	MeanErr  float64 `json:"mean_err"`
	StdDev   float64 `json:"stddev"`
	Median   float64 `json:"median"`
	Q25      float64 `json:"q25"`
	Q75      float64 `json:"q75"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
	Outliers int     `json:"outliers"`
	// NormalP is the Jarque-Bera p-value against a normal shape.
	NormalP float64 `json:"normal_p"`
}

// Summary is the aggregate statistics of a study.
type Summary struct {
	Counters
	Bias          Distribution `json:"bias"`
	Pull          Distribution `json:"pull"`
	BiasConverged Distribution `json:"bias_converged"`
	PullConverged Distribution `json:"pull_converged"`
}

// Bin is one histogram bin.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count float64 `json:"count"`
}

// Histogram is a serializable one-dimensional histogram.
type Histogram struct {
	Name      string  `json:"name"`
	Entries   int64   `json:"entries"`
	Underflow float64 `json:"underflow"`
	Overflow  float64 `json:"overflow"`
	Bins      []Bin   `json:"bins"`
}

// TrialRow is the stored scalar outcome of one toy trial.
type TrialRow struct {
	Index       int     `json:"index" db:"trial_index"`
	Generated   int     `json:"generated" db:"generated"`
	Yield       float64 `json:"yield" db:"yield"`
	StdErr      float64 `json:"stderr" db:"stderr"`
	TruthCount  int     `json:"truth_count" db:"truth_count"`
	Bias        float64 `json:"bias" db:"bias"`
	BiasDefined bool    `json:"bias_defined" db:"bias_defined"`
	Pull        float64 `json:"pull" db:"pull"`
	PullDefined bool    `json:"pull_defined" db:"pull_defined"`
	FitStatus   int     `json:"fit_status" db:"fit_status"`
	Converged   bool    `json:"converged" db:"converged"`
	Aborted     bool    `json:"aborted" db:"aborted"`
	NonFinite   bool    `json:"non_finite" db:"non_finite"`
}

// Background is the sideband background estimate of a channel.
type Background struct {
	SRYield  float64 `json:"sr_yield"`
	VRYield  float64 `json:"vr_yield"`
	SBYield  float64 `json:"sb_yield"`
	StatErr  float64 `json:"stat_err"`
	SystErr  float64 `json:"syst_err"`
	AltErr   float64 `json:"alt_err"`
	TotalErr float64 `json:"total_err"`
	// SRFractions is each component's share of the signal-region yield.
	SRFractions map[string]float64 `json:"sr_fractions"`
	TopSF       float64            `json:"top_sf"`
	FitStatus   int                `json:"fit_status"`
}

// Record is everything stored for one study.
type Record struct {
	Manifest   Manifest       `json:"manifest"`
	Status     Status         `json:"status"`
	Summary    Summary        `json:"summary"`
	Histograms []Histogram    `json:"histograms"`
	Background *Background    `json:"background,omitempty"`
	Trials     []TrialRow     `json:"trials,omitempty"`
	Plots      []string       `json:"plots,omitempty"`
	Seconds    float64        `json:"seconds"`
	FinishedAt core.Timestamp `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
}

// ID is the study identifier of the record.
func (r *Record) ID() core.StudyID { return r.Manifest.StudyID }

// Finish marks the record completed after elapsed, or failed when err is set.
func (r *Record) Finish(elapsed time.Duration, err error) {
	r.Seconds = elapsed.Seconds()
	r.FinishedAt = core.Now()
	r.Status = StatusCompleted
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}
}
