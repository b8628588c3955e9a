package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"alphabias/adapters/excel"
	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/run"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/internal"
	"alphabias/internal/biaspull"
	"alphabias/internal/errors"
	"alphabias/internal/estimate"
	"alphabias/internal/fit"
	"alphabias/internal/model"
	"alphabias/internal/pdf"
	"alphabias/internal/prefit"
	"alphabias/internal/report"
	"alphabias/internal/study"
	"alphabias/ports"
)

// ChannelResolver returns the configuration and starting priors of a channel.
type ChannelResolver interface {
	Resolve(name string) (channel.Config, channel.Priors, error)
}

// StudyRecorder is notified of finished studies.
type StudyRecorder interface {
	RecordStudy(channel, status string, elapsed time.Duration)
}

// StudyOptions configures the study service
type StudyOptions struct {
	Study       study.Config
	MCScale     float64
	Extrapolate bool
	// OutputDir receives one directory per channel with plots, report and workbook.
	OutputDir   string
	CodeVersion string
}

// StudyService runs the prefit, the sideband estimate and the toy study of a
// channel and stores the result.
type StudyService struct {
	samples   ports.SampleSource
	repo      ports.StudyRepository
	rng       ports.RNGPort
	channels  ChannelResolver
	sinks     func(channel string) ports.PlotSink
	observers []study.Observer
	recorder  StudyRecorder
	opts      StudyOptions
	logger    *internal.Logger

	wg sync.WaitGroup
}

// NewStudyService creates a study service. sinks returns the plot sink of a
// channel; nil disables plotting.
func NewStudyService(samples ports.SampleSource, repo ports.StudyRepository, rng ports.RNGPort,
	channels ChannelResolver, sinks func(string) ports.PlotSink, opts StudyOptions, logger *internal.Logger) *StudyService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if sinks == nil {
		sinks = func(string) ports.PlotSink { return nil }
	}
	if opts.MCScale <= 0 {
		opts.MCScale = prefit.DefaultMCScale
	}
	if opts.CodeVersion == "" {
		opts.CodeVersion = "dev"
	}
	return &StudyService{
		samples:  samples,
		repo:     repo,
		rng:      rng,
		channels: channels,
		sinks:    sinks,
		opts:     opts,
		logger:   logger.With("service"),
	}
}

// WithObserver adds a trial observer to every study run.
func (s *StudyService) WithObserver(o study.Observer) *StudyService {
	s.observers = append(s.observers, o)
	return s
}

// WithRecorder sets the finished-study recorder.
func (s *StudyService) WithRecorder(r StudyRecorder) *StudyService {
	s.recorder = r
	return s
}

// Prepared holds everything derived from a channel's samples before the toys run.
type Prepared struct {
	Channel    channel.Config
	Observable *mass.Observable
	Samples    *sample.Samples
	Prefit     *prefit.Result
}

// Prepare loads the samples of a channel and fits the component shapes.
func (s *StudyService) Prepare(ctx context.Context, name string) (*Prepared, error) {
	cfg, priors, err := s.channels.Resolve(name)
	if err != nil {
		return nil, err
	}
	obs, err := mass.NewObservable("jet mass", mass.DefaultWindows(s.opts.Extrapolate))
	if err != nil {
		return nil, err
	}
	samples, err := s.samples.Load(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load samples of %s", name)
	}
	pre, err := prefit.New(obs, fit.NewMinimizer(s.opts.Study.Strategy), s.logger, s.opts.MCScale).Run(ctx, cfg, priors, samples)
	if err != nil {
		return nil, errors.Wrapf(err, "prefit of %s failed", name)
	}
	return &Prepared{Channel: cfg, Observable: obs, Samples: samples, Prefit: pre}, nil
}

// Estimate prepares a channel, fits its data sidebands and draws the fits.
func (s *StudyService) Estimate(ctx context.Context, name string) (*Prepared, *estimate.Result, []string, error) {
	p, err := s.Prepare(ctx, name)
	if err != nil {
		return nil, nil, nil, err
	}
	est, err := estimate.New(p.Observable, fit.NewMinimizer(s.opts.Study.Strategy), s.logger).Estimate(ctx, p.Channel, p.Samples, p.Prefit)
	if err != nil {
		return p, nil, nil, errors.Wrapf(err, "sideband estimate of %s failed", name)
	}
	return p, est, s.renderFits(ctx, p, est), nil
}

// Run executes the full study of one channel and stores the record. A study
// that fails after it started is stored with status failed.
func (s *StudyService) Run(ctx context.Context, name string) (*run.Record, error) {
	if _, _, err := s.channels.Resolve(name); err != nil {
		return nil, err
	}
	return s.run(ctx, core.NewStudyID(), name)
}

// Launch starts a study in the background and returns its id at once. The
// study outlives ctx; Wait blocks until every launched study has finished.
func (s *StudyService) Launch(ctx context.Context, name string) (core.StudyID, error) {
	if _, _, err := s.channels.Resolve(name); err != nil {
		return "", err
	}
	id := core.NewStudyID()
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(bg, id, name); err != nil {
			s.logger.Error("%s: study %s failed: %v", name, id, err)
		}
	}()
	return id, nil
}

// Wait blocks until all launched studies have finished.
func (s *StudyService) Wait() { s.wg.Wait() }

// RunAll runs several channels concurrently, each with its own runner. Every
// channel runs to completion; the failures are joined into the returned error.
func (s *StudyService) RunAll(ctx context.Context, names []string, parallel int) ([]*run.Record, error) {
	records := make([]*run.Record, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, name := range names {
		g.Go(func() error {
			records[i], errs[i] = s.Run(ctx, name)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", name, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return records, stderrors.Join(errs...)
}

func (s *StudyService) run(ctx context.Context, id core.StudyID, name string) (*run.Record, error) {
	start := time.Now()
	rec := &run.Record{
		Manifest: run.Manifest{
			StudyID:              id,
			Channel:              name,
			Seed:                 s.opts.Study.Seed,
			Trials:               s.opts.Study.Trials,
			Workers:              s.opts.Study.Workers,
			Strategy:             int(s.opts.Study.Strategy),
			NormalizeToGenerated: s.opts.Study.NormalizeToGenerated,
			Windows:              mass.DefaultWindows(s.opts.Extrapolate),
			CodeVersion:          s.opts.CodeVersion,
			CreatedAt:            core.Now(),
		},
		Status: run.StatusRunning,
	}
	s.save(ctx, rec)

	err := s.execute(ctx, rec)
	rec.Finish(time.Since(start), err)
	rec.Manifest.Seal()
	s.save(ctx, rec)
	if s.recorder != nil {
		s.recorder.RecordStudy(name, string(rec.Status), time.Since(start))
	}
	if err != nil {
		return rec, err
	}
	s.writeArtifacts(rec)
	return rec, nil
}

func (s *StudyService) execute(ctx context.Context, rec *run.Record) error {
	name := rec.Manifest.Channel
	p, err := s.Prepare(ctx, name)
	if err != nil {
		return err
	}
	pre := p.Prefit
	if !pre.Converged() {
		s.logger.Warn("%s: not every MC shape fit converged", name)
	}

	m := &rec.Manifest
	m.ExpectedCount = pre.ExpectedCount
	m.PriorsHash = pre.Priors.Hash()
	m.Families = make(map[string]string, len(shape.Components))
	m.Fractions = make(map[string]float64, len(shape.Components))
	for _, c := range shape.Components {
		m.Families[string(c)] = string(pre.Priors[c].Family)
		m.Fractions[string(c)] = pre.Fractions[c]
	}
	s.save(ctx, rec)

	sink := s.sinks(name)
	est, err := estimate.New(p.Observable, fit.NewMinimizer(s.opts.Study.Strategy), s.logger).Estimate(ctx, p.Channel, p.Samples, pre)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		s.logger.Warn("%s: no sideband estimate: %v", name, err)
	default:
		bg := est.Background
		rec.Background = &bg
		rec.Plots = append(rec.Plots, s.renderFits(ctx, p, est)...)
	}

	runner := study.NewRunner(s.opts.Study, s.rng, s.logger)
	if len(s.observers) > 0 {
		runner.WithObserver(fanout(s.observers))
	}
	out, err := runner.Run(ctx, study.Inputs{
		Channel:    p.Channel,
		Observable: p.Observable,
		Priors:     pre.Priors,
		Truth:      study.Truth{Fractions: pre.Fractions, ExpectedCount: pre.ExpectedCount},
	})
	if err != nil {
		return err
	}

	acc := out.Accumulator
	rec.Summary = acc.Summary()
	rec.Histograms = acc.Histograms()
	rec.Trials = make([]run.TrialRow, len(out.Trials))
	for i, t := range out.Trials {
		rec.Trials[i] = t.Row()
	}
	rec.Plots = append(rec.Plots, runner.Render(ctx, sink, name, out)...)
	return nil
}

// renderFits draws the MC shape fits and the data sideband fit.
func (s *StudyService) renderFits(ctx context.Context, p *Prepared, est *estimate.Result) []string {
	sink := s.sinks(p.Channel.Name)
	if sink == nil {
		return nil
	}
	var written []string
	keep := func(name string, err error) {
		if err != nil {
			s.logger.Warn("%s: plot failed: %v", p.Channel.Name, err)
			return
		}
		if name != "" {
			written = append(written, name)
		}
	}
	for _, c := range shape.Components {
		sf := p.Prefit.Fits[c]
		m, err := shapeMixture(p.Observable, c, sf)
		if err != nil {
			keep("", err)
			continue
		}
		title := fmt.Sprintf("%s %s MC: %s", p.Channel.Name, c, sf.Spec.Family)
		keep(sink.Figure(ctx, fmt.Sprintf("%s_MC_%s", p.Channel.Name, c), study.FitFigure(title, m, p.Samples.MC[c], nil, nil)))
	}
	if est != nil {
		b := est.Background
		title := fmt.Sprintf("%s sidebands: SR %.1f ± %.1f", p.Channel.Name, b.SRYield, b.TotalErr)
		blind := p.Observable.Ranges(mass.RegionSR)
		keep(sink.Figure(ctx, p.Channel.Name+"_SB", study.FitFigure(title, est.Fitted, p.Samples.Data, blind, est.Alt)))
	}
	return written
}

func shapeMixture(obs *mass.Observable, c shape.Component, sf prefit.ShapeFit) (*model.Mixture, error) {
	sh, err := pdf.Build(sf.Spec.Clone(), obs)
	if err != nil {
		return nil, err
	}
	return model.Compose(obs, []shape.Component{c}, []*pdf.Shape{sh}, []shape.Param{shape.Fixed(sf.SumW)})
}

func (s *StudyService) save(ctx context.Context, rec *run.Record) {
	if s.repo == nil {
		return
	}
	// the final status is stored even when the study was cancelled
	if err := s.repo.Save(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("%s: failed to store study %s: %v", rec.Manifest.Channel, rec.ID(), err)
	}
}

// writeArtifacts writes the markdown report and the workbook next to the plots.
func (s *StudyService) writeArtifacts(rec *run.Record) {
	if s.opts.OutputDir == "" {
		return
	}
	dir := filepath.Join(s.opts.OutputDir, rec.Manifest.Channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("%s: %v", rec.Manifest.Channel, err)
		return
	}
	md := filepath.Join(dir, rec.Manifest.Channel+"_report.md")
	if err := os.WriteFile(md, report.Markdown(rec), 0o644); err != nil {
		s.logger.Error("%s: failed to write report: %v", rec.Manifest.Channel, err)
	}
	xlsx := filepath.Join(dir, rec.Manifest.Channel+"_study.xlsx")
	if err := excel.Export(xlsx, rec); err != nil {
		s.logger.Error("%s: failed to export workbook: %v", rec.Manifest.Channel, err)
	}
	s.logger.Info("%s: wrote %s and %s", rec.Manifest.Channel, md, xlsx)
}

type fanout []study.Observer

func (f fanout) ObserveTrial(channel string, r biaspull.TrialResult, elapsed time.Duration) {
	for _, o := range f {
		o.ObserveTrial(channel, r, elapsed)
	}
}
