package report

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"alphabias/domain/core"
	"alphabias/domain/run"
)

func fixture() *run.Record {
	return &run.Record{
		Manifest: run.Manifest{
			StudyID:       core.StudyID("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"),
			Channel:       "XZhnnb",
			Families:      map[string]string{"Vjet": "ERFEXP", "VV": "EXPGAUS", "Top": "GAUS2"},
			Seed:          42,
			Trials:        100,
			Strategy:      2,
			ExpectedCount: 16400,
			Fractions:     map[string]float64{"Vjet": 0.75, "VV": 0.15, "Top": 0.1},
			Fingerprint:   core.Hash("3f2a9c0d1e4b5a6978877665544332211"),
		},
		Status: run.StatusCompleted,
		Summary: run.Summary{
			Counters: run.Counters{TrialsRun: 100, TrialsConverged: 97, TrialsWithUndefinedBias: 1, TrialsAborted: 2, ConvergenceRate: 0.97},
			Bias:     run.Distribution{N: 99, Mean: 0.0123, MeanErr: 0.0051, StdDev: 0.0512, Median: 0.011, NormalP: 0.4321},
			Pull:     run.Distribution{N: 98, Mean: 0.08, MeanErr: 0.1, StdDev: 1.01, Median: 0.05, Outliers: 1, NormalP: 0.7},
			BiasConverged: run.Distribution{N: 96, Mean: 0.0101, MeanErr: 0.005, StdDev: 0.05, Median: 0.01, NormalP: 0.5},
			PullConverged: run.Distribution{N: 96, Mean: 0.07, MeanErr: 0.1, StdDev: 0.99, Median: 0.04, NormalP: 0.8},
		},
		Background: &run.Background{
			SRYield: 812.345, VRYield: 2301.5, SBYield: 5120.25,
			StatErr: 30.1, SystErr: 12.25, AltErr: 40.5, TotalErr: 51.9,
			SRFractions: map[string]float64{"Vjet": 0.8, "VV": 0.12, "Top": 0.08},
			TopSF:       0.852,
		},
		Plots:   []string{"plotsAlpha/XZhnnb/XZhnnb_Bias_and_Pull.png"},
		Seconds: 12.34,
	}
}

func TestMarkdownGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "XZhnnb_report", Markdown(fixture()))
}

func TestMarkdownFailedStudy(t *testing.T) {
	rec := fixture()
	rec.Status = run.StatusFailed
	rec.Error = "sampling failure: negative mean"
	rec.Background = nil
	rec.Plots = nil
	md := string(Markdown(rec))
	assert.Contains(t, md, "> **failed:** sampling failure: negative mean")
	assert.NotContains(t, md, "## Background estimate")
	assert.NotContains(t, md, "## Plots")
}

func TestHTML(t *testing.T) {
	page := string(HTML(fixture()))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(page), "<!DOCTYPE html"), page[:40])
	assert.Contains(t, page, "<title>alphabias XZhnnb 0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<td>97 (97.0%)</td>")
}
