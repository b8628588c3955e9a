// Package study runs the toy Monte Carlo bias and pull study of the sideband
// extrapolation: generate pseudo-data from a fixed truth, refit the sideband,
// extrapolate into the signal region and score against the generated truth.
package study

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
	"alphabias/internal"
	"alphabias/internal/biaspull"
	"alphabias/internal/extrapolate"
	"alphabias/internal/fit"
	"alphabias/internal/model"
	"alphabias/internal/refit"
	"alphabias/internal/testkit"
	"alphabias/internal/toy"
	"alphabias/ports"
)

// Config controls a study run.
type Config struct {
	Trials            int
	Seed              uint64
	Workers           int
	RetainDiagnostics int
	ProgressEvery     int
	Strategy          fit.Strategy
	// NormalizeToGenerated pins the refit yields to the fluctuated toy size instead
	// of the expected count.
	NormalizeToGenerated bool
	Bias                 biaspull.Binning
	Pull                 biaspull.Binning
}

// DefaultConfig returns 1000 trials with seed 42 on all CPUs.
func DefaultConfig() Config {
	return Config{
		Trials:            1000,
		Seed:              42,
		Workers:           runtime.NumCPU(),
		RetainDiagnostics: 20,
		ProgressEvery:     50,
		Strategy:          fit.StrategyCareful,
		Bias:              biaspull.DefaultBiasBinning,
		Pull:              biaspull.DefaultPullBinning,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Trials <= 0 {
		return core.NewValidationError("trials", "must be positive")
	}
	if c.Workers <= 0 {
		return core.NewValidationError("workers", "must be positive")
	}
	if c.RetainDiagnostics < 0 {
		return core.NewValidationError("retain_diagnostics", "cannot be negative")
	}
	if c.Strategy < fit.StrategyFast || c.Strategy > fit.StrategyCareful {
		return core.NewValidationError("strategy", fmt.Sprintf("%d is not in 0..2", c.Strategy))
	}
	return nil
}

// Truth describes the generator of the pseudo-experiments.
type Truth struct {
	Fractions     shape.Fractions
	ExpectedCount float64
	// Priors are the generator shapes. Nil uses the refit priors.
	Priors channel.Priors
}

// Inputs are the per-channel inputs of a study.
type Inputs struct {
	Channel    channel.Config
	Observable *mass.Observable
	// Priors are the shapes the refit instantiates every trial.
	Priors channel.Priors
	Truth  Truth
}

// Outcome is the result of a study run.
type Outcome struct {
	Accumulator *biaspull.Accumulator
	// Trials holds every scored trial in index order. Only the retained prefix
	// carries diagnostics.
	Trials  []biaspull.TrialResult
	Truth   *model.Mixture
	Elapsed time.Duration
}

// Observer is notified of every finished trial, from the worker goroutine.
type Observer interface {
	ObserveTrial(channel string, r biaspull.TrialResult, elapsed time.Duration)
}

// Runner executes studies.
type Runner struct {
	cfg      Config
	rng      ports.RNGPort
	logger   *internal.Logger
	observer Observer
}

// NewRunner returns a runner. The RNG port provides one stream per trial.
func NewRunner(cfg Config, rng ports.RNGPort, logger *internal.Logger) *Runner {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Runner{cfg: cfg, rng: rng, logger: logger.With("study")}
}

// WithObserver attaches a trial observer.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// Run executes cfg.Trials trials on a bounded worker pool. Results are folded in
// trial index order, so the outcome does not depend on the worker count.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Outcome, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	if r.rng == nil {
		return nil, fmt.Errorf("study: no rng port")
	}
	if in.Observable == nil {
		return nil, core.NewValidationError("observable", "is required")
	}
	if err := in.Priors.Validate(); err != nil {
		return nil, err
	}
	truthPriors := in.Truth.Priors
	if truthPriors == nil {
		truthPriors = in.Priors
	}
	if !(in.Truth.ExpectedCount > 0) {
		return nil, core.NewSamplingError(fmt.Sprintf("expected count %g is not positive", in.Truth.ExpectedCount))
	}

	truth, err := model.FromPriors(in.Observable, truthPriors, model.FixedYields(in.Truth.ExpectedCount, in.Truth.Fractions))
	if err != nil {
		return nil, err
	}
	gen, err := toy.NewGenerator(truth)
	if err != nil {
		return nil, err
	}
	refitter := refit.New(in.Observable, fit.NewMinimizer(r.cfg.Strategy), r.logger)

	r.logger.Info("%s: %d trials, expected %.0f events, fractions Vjet=%.3f VV=%.3f Top=%.3f, %d workers",
		in.Channel.Name, r.cfg.Trials, in.Truth.ExpectedCount,
		in.Truth.Fractions[shape.Vjet], in.Truth.Fractions[shape.VV], in.Truth.Fractions[shape.Top], r.cfg.Workers)

	start := time.Now()
	results := make([]biaspull.TrialResult, r.cfg.Trials)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := 0; i < r.cfg.Trials; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t0 := time.Now()
			res, err := r.trial(gctx, i, gen, refitter, in)
			if err != nil {
				return err
			}
			results[i] = res
			if r.observer != nil {
				r.observer.ObserveTrial(in.Channel.Name, res, time.Since(t0))
			}
			if n := done.Add(1); r.cfg.ProgressEvery > 0 && n%int64(r.cfg.ProgressEvery) == 0 {
				r.logger.Info("%s: %d/%d trials done", in.Channel.Name, n, r.cfg.Trials)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc := biaspull.NewAccumulator(biaspull.Options{Bias: r.cfg.Bias, Pull: r.cfg.Pull, Retain: r.cfg.RetainDiagnostics})
	for _, res := range results {
		acc.Add(res)
	}
	elapsed := time.Since(start)
	r.logger.Info("%s: %d trials in %s, convergence rate %.3f, undefined bias %d, aborted %d",
		in.Channel.Name, acc.TrialsRun, elapsed.Round(time.Millisecond), acc.ConvergenceRate(),
		acc.TrialsWithUndefinedBias, acc.TrialsAborted)
	if acc.ConvergenceRate() < 0.9 {
		r.logger.Warn("%s: only %.1f%% of the refits converged", in.Channel.Name, 100*acc.ConvergenceRate())
	}
	return &Outcome{Accumulator: acc, Trials: results, Truth: truth, Elapsed: elapsed}, nil
}

// trial runs generate, refit, extrapolate and score for one index. Only fatal
// problems are returned as errors; refit errors abort the trial.
func (r *Runner) trial(ctx context.Context, idx int, gen *toy.Generator, refitter *refit.Refitter, in Inputs) (biaspull.TrialResult, error) {
	rng, err := r.rng.Stream(ctx, r.cfg.Seed, idx)
	if err != nil {
		return biaspull.TrialResult{}, err
	}
	pd, err := gen.Generate(rng, in.Truth.ExpectedCount)
	if err != nil {
		return biaspull.TrialResult{}, err
	}

	fitted, res, err := refitter.Refit(ctx, refit.Request{
		Priors:               in.Priors,
		Fractions:            in.Truth.Fractions,
		ExpectedCount:        in.Truth.ExpectedCount,
		Generated:            pd.N,
		NormalizeToGenerated: r.cfg.NormalizeToGenerated,
		Data:                 pd.SB,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return biaspull.TrialResult{}, ctxErr
		}
		r.logger.Debug("trial %d aborted: %v", idx, err)
		return r.abort(idx, pd, err), nil
	}
	est, err := extrapolate.Region(fitted, res, mass.RegionSR)
	if err != nil {
		r.logger.Debug("trial %d aborted: %v", idx, err)
		return r.abort(idx, pd, err), nil
	}

	out := biaspull.Score(est.Yield, est.StdErr, pd.TruthCount(), res.Status)
	out.Index = idx
	out.Generated = pd.N
	if idx < r.cfg.RetainDiagnostics {
		out.Diagnostics = &biaspull.Diagnostics{Data: pd.All, Truth: gen.Truth(), Fitted: fitted}
	}
	r.logger.Debug("trial %d: n=%d SR truth=%d yield=%.2f±%.2f status=%d",
		idx, pd.N, out.TruthCount, out.Yield, out.StdErr, out.FitStatus)
	return out, nil
}

func (r *Runner) abort(idx int, pd *toy.PseudoData, err error) biaspull.TrialResult {
	out := biaspull.Abort(pd.TruthCount(), err)
	out.Index = idx
	out.Generated = pd.N
	return out
}

// RunBiasPullStudy runs nTrials trials of a channel with the default configuration
// and windows and returns the accumulated state. The result is a pure function of
// its arguments and the default seed.
func RunBiasPullStudy(ctx context.Context, cfg channel.Config, priors channel.Priors, truth Truth, nTrials int) (*biaspull.Accumulator, error) {
	obs, err := mass.NewObservable("jet mass", mass.DefaultWindows(false))
	if err != nil {
		return nil, err
	}
	sc := DefaultConfig()
	sc.Trials = nTrials
	out, err := NewRunner(sc, &testkit.RNGAdapter{}, nil).Run(ctx, Inputs{Channel: cfg, Observable: obs, Priors: priors, Truth: truth})
	if err != nil {
		return nil, err
	}
	return out.Accumulator, nil
}
