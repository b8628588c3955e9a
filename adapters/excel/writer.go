package excel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"alphabias/domain/run"
)

// Sheets written by Export.
const (
	SummarySheet    = "Summary"
	TrialsSheet     = "Trials"
	HistogramsSheet = "Histograms"
)

var trialHeader = []interface{}{
	"index", "generated", "yield", "stderr", "truth_count", "bias", "bias_defined",
	"pull", "pull_defined", "fit_status", "converged", "aborted", "non_finite",
}

// Export writes a study record to an xlsx workbook: the manifest, counters,
// distributions and background estimate on the summary sheet, one row per trial,
// and the histogram bins.
func Export(path string, rec *run.Record) error {
	if rec == nil {
		return fmt.Errorf("export: no record")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(DefaultSheet, SummarySheet); err != nil {
		return err
	}
	if err := writeSummary(f, rec); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	if _, err := f.NewSheet(TrialsSheet); err != nil {
		return err
	}
	if err := writeTrials(f, rec.Trials); err != nil {
		return fmt.Errorf("trials sheet: %w", err)
	}
	if _, err := f.NewSheet(HistogramsSheet); err != nil {
		return err
	}
	if err := writeHistograms(f, rec.Histograms); err != nil {
		return fmt.Errorf("histograms sheet: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (w *sheetWriter) put(values ...interface{}) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(w.sheet, cell, &values)
}

func writeSummary(f *excelize.File, rec *run.Record) error {
	w := &sheetWriter{f: f, sheet: SummarySheet}
	m := rec.Manifest
	s := rec.Summary
	rows := [][]interface{}{
		{"study_id", m.StudyID.String()},
		{"channel", m.Channel},
		{"status", string(rec.Status)},
		{"seed", m.Seed},
		{"trials", m.Trials},
		{"expected_count", m.ExpectedCount},
		{"fingerprint", m.Fingerprint.String()},
		{"seconds", rec.Seconds},
		{},
		{"trials_run", s.TrialsRun},
		{"trials_converged", s.TrialsConverged},
		{"trials_with_undefined_bias", s.TrialsWithUndefinedBias},
		{"trials_with_undefined_pull", s.TrialsWithUndefinedPull},
		{"trials_aborted", s.TrialsAborted},
		{"trials_non_finite", s.TrialsNonFinite},
		{"convergence_rate", s.ConvergenceRate},
	}
	for _, r := range rows {
		if err := w.put(r...); err != nil {
			return err
		}
	}

	comps := make([]string, 0, len(m.Fractions))
	for c := range m.Fractions {
		comps = append(comps, c)
	}
	sort.Strings(comps)
	for _, c := range comps {
		if err := w.put("fraction_"+c, m.Fractions[c], m.Families[c]); err != nil {
			return err
		}
	}

	if err := w.put(); err != nil {
		return err
	}
	if err := w.put("distribution", "n", "mean", "mean_err", "stddev", "median", "q25", "q75", "skewness", "kurtosis", "outliers", "normal_p"); err != nil {
		return err
	}
	for _, d := range []struct {
		name string
		dist run.Distribution
	}{
		{"bias", s.Bias}, {"pull", s.Pull}, {"bias_converged", s.BiasConverged}, {"pull_converged", s.PullConverged},
	} {
		x := d.dist
		if err := w.put(d.name, x.N, x.Mean, x.MeanErr, x.StdDev, x.Median, x.Q25, x.Q75, x.Skewness, x.Kurtosis, x.Outliers, x.NormalP); err != nil {
			return err
		}
	}

	if b := rec.Background; b != nil {
		if err := w.put(); err != nil {
			return err
		}
		for _, r := range [][]interface{}{
			{"sr_yield", b.SRYield},
			{"vr_yield", b.VRYield},
			{"sb_yield", b.SBYield},
			{"stat_err", b.StatErr},
			{"syst_err", b.SystErr},
			{"alt_err", b.AltErr},
			{"total_err", b.TotalErr},
			{"top_sf", b.TopSF},
			{"fit_status", b.FitStatus},
		} {
			if err := w.put(r...); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeTrials(f *excelize.File, trials []run.TrialRow) error {
	w := &sheetWriter{f: f, sheet: TrialsSheet}
	if err := w.put(trialHeader...); err != nil {
		return err
	}
	for _, t := range trials {
		if err := w.put(t.Index, t.Generated, t.Yield, t.StdErr, t.TruthCount, t.Bias, t.BiasDefined,
			t.Pull, t.PullDefined, t.FitStatus, t.Converged, t.Aborted, t.NonFinite); err != nil {
			return err
		}
	}
	return nil
}

func writeHistograms(f *excelize.File, hs []run.Histogram) error {
	w := &sheetWriter{f: f, sheet: HistogramsSheet}
	if err := w.put("histogram", "lo", "hi", "count"); err != nil {
		return err
	}
	for _, h := range hs {
		for _, b := range h.Bins {
			if err := w.put(h.Name, b.Lo, b.Hi, b.Count); err != nil {
				return err
			}
		}
	}
	return nil
}
