package biaspull

import (
	"go-hep.org/x/hep/hbook"

	"alphabias/domain/run"
)

// Binning is a fixed-width histogram axis.
type Binning struct {
	Bins int     `json:"bins"`
	Lo   float64 `json:"lo"`
	Hi   float64 `json:"hi"`
}

var (
	DefaultBiasBinning = Binning{Bins: 40, Lo: -1, Hi: 1}
	DefaultPullBinning = Binning{Bins: 40, Lo: -8, Hi: 8}
)

// Options configures an Accumulator. Zero binnings use the defaults.
type Options struct {
	Bias Binning
	Pull Binning
	// Retain keeps the diagnostics of the first Retain trials added.
	Retain int
}

// Accumulator folds trial results into histograms and counters. It is not safe for
// concurrent use; trials are folded by a single goroutine.
type Accumulator struct {
	Bias          *hbook.H1D
	Pull          *hbook.H1D
	BiasConverged *hbook.H1D
	PullConverged *hbook.H1D

	TrialsRun               int
	TrialsConverged         int
	TrialsWithUndefinedBias int
	TrialsWithUndefinedPull int
	TrialsAborted           int
	TrialsNonFinite         int

	biases, pulls         []float64
	convBiases, convPulls []float64
	retain                int
	retained              []TrialResult
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(opts Options) *Accumulator {
	if opts.Bias.Bins <= 0 {
		opts.Bias = DefaultBiasBinning
	}
	if opts.Pull.Bins <= 0 {
		opts.Pull = DefaultPullBinning
	}
	newH := func(b Binning) *hbook.H1D { return hbook.NewH1D(b.Bins, b.Lo, b.Hi) }
	return &Accumulator{
		Bias:          newH(opts.Bias),
		Pull:          newH(opts.Pull),
		BiasConverged: newH(opts.Bias),
		PullConverged: newH(opts.Pull),
		retain:        opts.Retain,
	}
}

// Add folds one trial. Histograms take trials with a defined bias; the converged pair
// additionally requires fit status zero. Aborted trials only count as run. The
// undefined-bias counter only counts trials with an empty signal region.
func (a *Accumulator) Add(r TrialResult) {
	a.TrialsRun++
	if r.Diagnostics != nil && len(a.retained) < a.retain {
		a.retained = append(a.retained, r)
	}
	if r.Aborted {
		a.TrialsAborted++
		return
	}
	if r.Converged {
		a.TrialsConverged++
	}
	if r.TruthCount == 0 {
		a.TrialsWithUndefinedBias++
	}
	if r.NonFinite {
		a.TrialsNonFinite++
	}
	if !r.PullDefined {
		a.TrialsWithUndefinedPull++
	}
	if !r.BiasDefined {
		return
	}
	a.Bias.Fill(r.Bias, 1)
	a.biases = append(a.biases, r.Bias)
	if r.PullDefined {
		a.Pull.Fill(r.Pull, 1)
		a.pulls = append(a.pulls, r.Pull)
	}
	if !r.Converged {
		return
	}
	a.BiasConverged.Fill(r.Bias, 1)
	a.convBiases = append(a.convBiases, r.Bias)
	if r.PullDefined {
		a.PullConverged.Fill(r.Pull, 1)
		a.convPulls = append(a.convPulls, r.Pull)
	}
}

// ConvergenceRate is TrialsConverged / TrialsRun.
func (a *Accumulator) ConvergenceRate() float64 {
	if a.TrialsRun == 0 {
		return 0
	}
	return float64(a.TrialsConverged) / float64(a.TrialsRun)
}

// Retained returns the trials kept for diagnostics, in the order they were added.
func (a *Accumulator) Retained() []TrialResult {
	out := make([]TrialResult, len(a.retained))
	copy(out, a.retained)
	return out
}

// Biases returns the defined bias values in fill order; converged restricts them to
// converged fits.
func (a *Accumulator) Biases(converged bool) []float64 {
	if converged {
		return append([]float64(nil), a.convBiases...)
	}
	return append([]float64(nil), a.biases...)
}

// Pulls is Biases for the pull.
func (a *Accumulator) Pulls(converged bool) []float64 {
	if converged {
		return append([]float64(nil), a.convPulls...)
	}
	return append([]float64(nil), a.pulls...)
}

// Counters returns the scalar state.
func (a *Accumulator) Counters() run.Counters {
	return run.Counters{
		TrialsRun:               a.TrialsRun,
		TrialsConverged:         a.TrialsConverged,
		TrialsWithUndefinedBias: a.TrialsWithUndefinedBias,
		TrialsWithUndefinedPull: a.TrialsWithUndefinedPull,
		TrialsAborted:           a.TrialsAborted,
		TrialsNonFinite:         a.TrialsNonFinite,
		ConvergenceRate:         a.ConvergenceRate(),
	}
}

// Snapshot converts h into a Histogram.
func Snapshot(name string, h *hbook.H1D) run.Histogram {
	out := run.Histogram{Name: name, Entries: h.Entries()}
	for _, b := range h.Binning.Bins {
		out.Bins = append(out.Bins, run.Bin{Lo: b.XMin(), Hi: b.XMax(), Count: b.SumW()})
	}
	out.Underflow = h.Binning.Outflows[0].SumW()
	out.Overflow = h.Binning.Outflows[1].SumW()
	return out
}

// Histograms snapshots the four histograms.
func (a *Accumulator) Histograms() []run.Histogram {
	return []run.Histogram{
		Snapshot("bias", a.Bias),
		Snapshot("pull", a.Pull),
		Snapshot("bias_converged", a.BiasConverged),
		Snapshot("pull_converged", a.PullConverged),
	}
}
