// Package biaspull scores extrapolated yields against the generated truth and
// accumulates the bias and pull distributions of a toy study.
package biaspull

import (
	"math"

	"alphabias/domain/run"
	"alphabias/domain/sample"
	"alphabias/internal/fit"
	"alphabias/internal/model"
)

// BiasSentinel is reported as the bias when the signal region holds no generated events.
const BiasSentinel = 999.0

// TrialResult is the scored outcome of one toy trial.
type TrialResult struct {
	Index       int        `json:"index"`
	Generated   int        `json:"generated"`
	Yield       float64    `json:"yield"`
	StdErr      float64    `json:"stderr"`
	TruthCount  int        `json:"truth_count"`
	Bias        float64    `json:"bias"`
	BiasDefined bool       `json:"bias_defined"`
	Pull        float64    `json:"pull"`
	PullDefined bool       `json:"pull_defined"`
	FitStatus   fit.Status `json:"fit_status"`
	Converged   bool       `json:"converged"`
	// Aborted trials hit an error during the refit and carry no fit-dependent values.
	Aborted bool `json:"aborted"`
	// NonFinite marks a refit that returned a NaN or infinite yield. Yield, Bias and
	// Pull are zeroed and both are undefined.
	NonFinite   bool         `json:"non_finite"`
	Err         string       `json:"error,omitempty"`
	Diagnostics *Diagnostics `json:"-"`
}

// Diagnostics keeps what is needed to draw one trial: the toy events, the generator
// and the fitted model.
type Diagnostics struct {
	Data   *sample.Dataset
	Truth  *model.Mixture
	Fitted *model.Mixture
}

// Score compares the extrapolated yield with the number of generated signal-region
// events. The bias is (yield-truth)/truth and reports BiasSentinel for zero truth;
// the pull is (yield-truth)/stderr and is undefined for a zero or non-finite stderr.
// A non-finite yield sets NonFinite and leaves bias and pull undefined.
func Score(yield, stderr float64, truthCount int, status fit.Status) TrialResult {
	r := TrialResult{
		Yield:      yield,
		StdErr:     stderr,
		TruthCount: truthCount,
		FitStatus:  status,
		Converged:  status == fit.StatusOK,
	}
	if truthCount == 0 {
		r.Bias = BiasSentinel
	}
	if !finite(yield) {
		r.Yield = 0
		r.NonFinite = true
		return r
	}
	truth := float64(truthCount)
	if truthCount > 0 {
		r.Bias = (yield - truth) / truth
		r.BiasDefined = true
	}
	if stderr != 0 && finite(stderr) {
		r.Pull = (yield - truth) / stderr
		r.PullDefined = true
	} else if !finite(stderr) {
		r.StdErr = 0
	}
	return r
}

// Abort records a trial whose refit raised an error. Its bias is zero and undefined.
func Abort(truthCount int, err error) TrialResult {
	r := TrialResult{TruthCount: truthCount, FitStatus: fit.StatusFailed, Aborted: true}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

// Row is the stored scalar form of the result.
func (r TrialResult) Row() run.TrialRow {
	return run.TrialRow{
		Index:       r.Index,
		Generated:   r.Generated,
		Yield:       r.Yield,
		StdErr:      r.StdErr,
		TruthCount:  r.TruthCount,
		Bias:        r.Bias,
		BiasDefined: r.BiasDefined,
		Pull:        r.Pull,
		PullDefined: r.PullDefined,
		FitStatus:   int(r.FitStatus),
		Converged:   r.Converged,
		Aborted:     r.Aborted,
		NonFinite:   r.NonFinite,
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
