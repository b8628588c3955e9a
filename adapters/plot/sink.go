// Package plot renders study diagnostics to image files with hplot.
package plot

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"alphabias/domain/mass"
	"alphabias/domain/run"
	"alphabias/ports"
)

// FileSink writes one image per call into a directory.
type FileSink struct {
	dir    string
	format string
	width  vg.Length
	height vg.Length
}

var _ ports.PlotSink = (*FileSink)(nil)

// NewFileSink returns a sink writing format ("png", "pdf", "svg") files into dir.
func NewFileSink(dir, format string) *FileSink {
	if format == "" {
		format = "png"
	}
	return &FileSink{dir: dir, format: format, width: 6 * vg.Inch, height: 4 * vg.Inch}
}

func (s *FileSink) path(name string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+"."+s.format), nil
}

// Figure draws the binned events with the model curves on top.
func (s *FileSink) Figure(ctx context.Context, name string, f ports.Figure) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Bins <= 0 || !(f.Hi > f.Lo) {
		return "", fmt.Errorf("plot %s: invalid binning %d [%g, %g)", name, f.Bins, f.Lo, f.Hi)
	}
	p := hplot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = f.XLabel
	p.Y.Label.Text = fmt.Sprintf("Events / %.0f GeV", (f.Hi-f.Lo)/float64(f.Bins))
	p.Legend.Top = true

	// filled curves first so lines and points stay visible
	for i, c := range f.Curves {
		if !c.Filled {
			continue
		}
		line, err := curveLine(c)
		if err != nil {
			return "", err
		}
		line.FillColor = fill(i)
		line.LineStyle.Width = 0
		p.Add(line)
		p.Legend.Add(c.Name, line)
	}

	if f.Data != nil {
		h := hbook.NewH1D(f.Bins, f.Lo, f.Hi)
		for i, x := range f.Data.Values {
			if mass.InRanges(f.Blind, x) {
				continue
			}
			h.Fill(x, f.Data.Weight(i))
		}
		hh := hplot.NewH1D(h)
		hh.FillColor = nil
		hh.LineStyle.Color = color.Black
		hh.Infos.Style = hplot.HInfoNone
		p.Add(hh)
		p.Legend.Add("data", hh)
	}

	for i, c := range f.Curves {
		if c.Filled {
			continue
		}
		line, err := curveLine(c)
		if err != nil {
			return "", err
		}
		line.LineStyle.Color = plotutil.Color(i)
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(c.Name, line)
	}

	out, err := s.path(name)
	if err != nil {
		return "", err
	}
	if err := p.Save(s.width, s.height, out); err != nil {
		return "", fmt.Errorf("plot %s: %w", name, err)
	}
	return out, nil
}

// Histograms draws the histograms side by side.
func (s *FileSink) Histograms(ctx context.Context, name, title string, hs []run.Histogram) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(hs) == 0 {
		return "", fmt.Errorf("plot %s: no histograms", name)
	}
	tp := hplot.NewTiledPlot(draw.Tiles{Cols: len(hs), Rows: 1})
	for i, rh := range hs {
		h, err := toH1D(rh)
		if err != nil {
			return "", fmt.Errorf("plot %s: %w", name, err)
		}
		p := tp.Plot(i, 0)
		p.Title.Text = fmt.Sprintf("%s %s", title, rh.Name)
		p.X.Label.Text = rh.Name
		hh := hplot.NewH1D(h)
		hh.FillColor = fill(i)
		hh.Infos.Style = hplot.HInfoSummary
		p.Add(hh)
	}
	out, err := s.path(name)
	if err != nil {
		return "", err
	}
	if err := hplot.Save(tp, s.width*vg.Length(len(hs)), s.height, out); err != nil {
		return "", fmt.Errorf("plot %s: %w", name, err)
	}
	return out, nil
}

// toH1D rebuilds an hbook histogram from its stored bins.
func toH1D(rh run.Histogram) (*hbook.H1D, error) {
	if len(rh.Bins) == 0 {
		return nil, fmt.Errorf("histogram %s has no bins", rh.Name)
	}
	lo, hi := rh.Bins[0].Lo, rh.Bins[len(rh.Bins)-1].Hi
	h := hbook.NewH1D(len(rh.Bins), lo, hi)
	for _, b := range rh.Bins {
		if b.Count != 0 {
			h.Fill(0.5*(b.Lo+b.Hi), b.Count)
		}
	}
	return h, nil
}

func curveLine(c ports.Curve) (*plotter.Line, error) {
	xys := make(plotter.XYs, len(c.X))
	for i := range c.X {
		xys[i].X = c.X[i]
		xys[i].Y = c.Y[i]
	}
	return plotter.NewLine(xys)
}

func fill(i int) color.Color {
	c := color.NRGBAModel.Convert(plotutil.Color(i)).(color.NRGBA)
	c.A = 110
	return c
}

// NopSink discards every plot.
type NopSink struct{}

var _ ports.PlotSink = NopSink{}

func (NopSink) Figure(context.Context, string, ports.Figure) (string, error) { return "", nil }

func (NopSink) Histograms(context.Context, string, string, []run.Histogram) (string, error) {
	return "", nil
}
