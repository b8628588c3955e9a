package ports

import (
	"context"

	"alphabias/domain/mass"
	"alphabias/domain/run"
	"alphabias/domain/sample"
)

// Curve is a sampled function drawn over a histogram of events.
type Curve struct {
	Name string
	X    []float64
	Y    []float64
	// Filled curves are drawn as stacked areas.
	Filled bool
}

// Figure is a binned event histogram with overlaid model curves.
type Figure struct {
	Title  string
	XLabel string
	Data   *sample.Dataset
	Bins   int
	Lo     float64
	Hi     float64
	Curves []Curve
	// Blind ranges are left out of the data histogram.
	Blind []mass.Range
}

// PlotSink renders study diagnostics. Implementations return the location of the
// written artifact; callers log sink errors and carry on.
type PlotSink interface {
	Figure(ctx context.Context, name string, f Figure) (string, error)
	Histograms(ctx context.Context, name, title string, hs []run.Histogram) (string, error)
}
