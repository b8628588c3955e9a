// Package mass describes the jet-mass observable and its named analysis regions.
//
// All regions are half-open intervals [lo, hi). A point on a boundary belongs to the
// region above it, so LSB, VR, SR and HSB are disjoint and together cover the full range.
package mass

import (
	"fmt"

	"alphabias/domain/core"
)

// Region names a sub-range of the observable.
type Region string

const (
	RegionLSB  Region = "LSB"
	RegionHSB  Region = "HSB"
	RegionSB   Region = "SB"
	RegionVR   Region = "VR"
	RegionSR   Region = "SR"
	RegionFull Region = "FULL"
)

// Range is a half-open interval [Lo, Hi).
type Range struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

func (r Range) Contains(x float64) bool { return x >= r.Lo && x < r.Hi }
func (r Range) Width() float64          { return r.Hi - r.Lo }
func (r Range) Empty() bool             { return r.Hi <= r.Lo }
func (r Range) String() string          { return fmt.Sprintf("[%g,%g)", r.Lo, r.Hi) }

// Windows holds the six cut values that define the regions.
type Windows struct {
	LowMin  float64 `json:"low_min" yaml:"low_min"`
	LowMax  float64 `json:"low_max" yaml:"low_max"`
	SigMin  float64 `json:"sig_min" yaml:"sig_min"`
	SigMax  float64 `json:"sig_max" yaml:"sig_max"`
	HighMin float64 `json:"high_min" yaml:"high_min"`
	HighMax float64 `json:"high_max" yaml:"high_max"`
}

// DefaultWindows returns the standard jet-mass windows. In extrapolate mode the signal
// region extends to the upper edge and the high sideband is empty.
func DefaultWindows(extrapolate bool) Windows {
	w := Windows{LowMin: 30, LowMax: 65, SigMin: 105, SigMax: 135, HighMin: 135, HighMax: 300}
	if extrapolate {
		w.SigMin, w.SigMax, w.HighMin = 135, 300, 300
	}
	return w
}

// Validate checks LOWMIN < LOWMAX <= SIGMIN < SIGMAX <= HIGMIN <= HIGMAX.
func (w Windows) Validate() error {
	switch {
	case !(w.LowMin < w.LowMax):
		return fmt.Errorf("%w: low sideband %g..%g is empty", core.ErrInvalidRegion, w.LowMin, w.LowMax)
	case !(w.LowMax <= w.SigMin):
		return fmt.Errorf("%w: signal region starts at %g below sideband end %g", core.ErrInvalidRegion, w.SigMin, w.LowMax)
	case !(w.SigMin < w.SigMax):
		return fmt.Errorf("%w: signal region %g..%g is empty", core.ErrInvalidRegion, w.SigMin, w.SigMax)
	case !(w.SigMax <= w.HighMin):
		return fmt.Errorf("%w: high sideband starts at %g inside the signal region", core.ErrInvalidRegion, w.HighMin)
	case !(w.HighMin <= w.HighMax):
		return fmt.Errorf("%w: high sideband %g..%g is inverted", core.ErrInvalidRegion, w.HighMin, w.HighMax)
	}
	return nil
}

// Observable is the jet-mass variable together with its regions. It is immutable after
// construction and safe to share between goroutines.
type Observable struct {
	Name    string
	Bins    int
	windows Windows
	regions map[Region][]Range
}

// DefaultBins is the plotting binning over the full range.
const DefaultBins = 54

// NewObservable validates the windows and builds the region table.
func NewObservable(name string, w Windows) (*Observable, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	lsb := Range{w.LowMin, w.LowMax}
	hsb := Range{w.HighMin, w.HighMax}
	sb := []Range{lsb}
	if !hsb.Empty() {
		sb = append(sb, hsb)
	}
	return &Observable{
		Name:    name,
		Bins:    DefaultBins,
		windows: w,
		regions: map[Region][]Range{
			RegionLSB:  {lsb},
			RegionHSB:  {hsb},
			RegionSB:   sb,
			RegionVR:   {{w.LowMax, w.SigMin}},
			RegionSR:   {{w.SigMin, w.SigMax}},
			RegionFull: {{w.LowMin, w.HighMax}},
		},
	}, nil
}

// MustObservable is NewObservable for windows known to be valid.
func MustObservable(name string, w Windows) *Observable {
	o, err := NewObservable(name, w)
	if err != nil {
		panic(err)
	}
	return o
}

func (o *Observable) Windows() Windows { return o.windows }

// Full is the reasonable range every density is normalized over.
func (o *Observable) Full() Range { return o.regions[RegionFull][0] }

// Ranges returns the intervals making up a region. Unknown regions yield nil.
func (o *Observable) Ranges(r Region) []Range {
	rs := o.regions[r]
	out := make([]Range, len(rs))
	copy(out, rs)
	return out
}

// Contains reports whether x falls in the named region.
func (o *Observable) Contains(r Region, x float64) bool {
	return InRanges(o.regions[r], x)
}

// InRanges reports whether x falls in any of the ranges.
func InRanges(rs []Range, x float64) bool {
	for _, rg := range rs {
		if rg.Contains(x) {
			return true
		}
	}
	return false
}
