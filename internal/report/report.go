// Package report renders a study record as a markdown document and as HTML.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"alphabias/domain/run"
)

// Markdown renders the record. The output depends only on the record, so it is
// stable across runs of the same study.
func Markdown(rec *run.Record) []byte {
	var b strings.Builder
	m := rec.Manifest
	s := rec.Summary

	fmt.Fprintf(&b, "# Bias/pull study %s\n\n", m.Channel)
	if rec.Error != "" {
		fmt.Fprintf(&b, "> **failed:** %s\n\n", rec.Error)
	}

	b.WriteString("| Setting | Value |\n|---|---|\n")
	row(&b, "Study", m.StudyID.String())
	row(&b, "Status", string(rec.Status))
	row(&b, "Seed", fmt.Sprintf("%d", m.Seed))
	row(&b, "Trials", fmt.Sprintf("%d", m.Trials))
	row(&b, "Strategy", fmt.Sprintf("%d", m.Strategy))
	row(&b, "Expected count", fmt.Sprintf("%.1f", m.ExpectedCount))
	row(&b, "Normalize to generated", fmt.Sprintf("%t", m.NormalizeToGenerated))
	row(&b, "Fingerprint", "`"+m.Fingerprint.Short()+"`")
	row(&b, "Duration", fmt.Sprintf("%.1f s", rec.Seconds))
	b.WriteString("\n")

	if len(m.Fractions) > 0 {
		b.WriteString("## Truth\n\n| Component | Family | Fraction |\n|---|---|---|\n")
		comps := make([]string, 0, len(m.Fractions))
		for c := range m.Fractions {
			comps = append(comps, c)
		}
		sort.Strings(comps)
		for _, c := range comps {
			fmt.Fprintf(&b, "| %s | %s | %.4f |\n", c, m.Families[c], m.Fractions[c])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Trials\n\n| Counter | Value |\n|---|---|\n")
	row(&b, "Run", fmt.Sprintf("%d", s.TrialsRun))
	row(&b, "Converged", fmt.Sprintf("%d (%.1f%%)", s.TrialsConverged, 100*s.ConvergenceRate))
	row(&b, "Undefined bias", fmt.Sprintf("%d", s.TrialsWithUndefinedBias))
	row(&b, "Undefined pull", fmt.Sprintf("%d", s.TrialsWithUndefinedPull))
	row(&b, "Aborted", fmt.Sprintf("%d", s.TrialsAborted))
	row(&b, "Non-finite yield", fmt.Sprintf("%d", s.TrialsNonFinite))
	b.WriteString("\n")

	b.WriteString("## Bias and pull\n\n")
	b.WriteString("| Distribution | N | Mean | Mean err | Std dev | Median | Outliers | Normal p |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, d := range []struct {
		name string
		dist run.Distribution
	}{
		{"bias", s.Bias},
		{"pull", s.Pull},
		{"bias (converged)", s.BiasConverged},
		{"pull (converged)", s.PullConverged},
	} {
		x := d.dist
		fmt.Fprintf(&b, "| %s | %d | %.4f | %.4f | %.4f | %.4f | %d | %.3f |\n",
			d.name, x.N, x.Mean, x.MeanErr, x.StdDev, x.Median, x.Outliers, x.NormalP)
	}
	b.WriteString("\n")

	if bg := rec.Background; bg != nil {
		b.WriteString("## Background estimate\n\n")
		fmt.Fprintf(&b, "Signal region: **%.2f ± %.2f (stat) ± %.2f (syst) ± %.2f (alt)**, total ± %.2f\n\n",
			bg.SRYield, bg.StatErr, bg.SystErr, bg.AltErr, bg.TotalErr)
		b.WriteString("| Quantity | Value |\n|---|---|\n")
		row(&b, "Sideband yield", fmt.Sprintf("%.2f", bg.SBYield))
		row(&b, "Validation region yield", fmt.Sprintf("%.2f", bg.VRYield))
		row(&b, "Top scale factor", fmt.Sprintf("%.3f", bg.TopSF))
		row(&b, "Fit status", fmt.Sprintf("%d", bg.FitStatus))
		comps := make([]string, 0, len(bg.SRFractions))
		for c := range bg.SRFractions {
			comps = append(comps, c)
		}
		sort.Strings(comps)
		for _, c := range comps {
			row(&b, "SR fraction "+c, fmt.Sprintf("%.4f", bg.SRFractions[c]))
		}
		b.WriteString("\n")
	}

	if len(rec.Plots) > 0 {
		b.WriteString("## Plots\n\n")
		for _, p := range rec.Plots {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func row(b *strings.Builder, k, v string) {
	fmt.Fprintf(b, "| %s | %s |\n", k, v)
}

// HTML renders the markdown report as a complete HTML page.
func HTML(rec *run.Record) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "alphabias " + rec.Manifest.Channel + " " + rec.ID().String(),
	})
	return markdown.ToHTML(Markdown(rec), p, r)
}
