package biaspull

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"alphabias/domain/run"
)

// Summary computes the distribution summaries of every value list.
func (a *Accumulator) Summary() run.Summary {
	return run.Summary{
		Counters:      a.Counters(),
		Bias:          Describe(a.biases),
		Pull:          Describe(a.pulls),
		BiasConverged: Describe(a.convBiases),
		PullConverged: Describe(a.convPulls),
	}
}

// Describe computes summary statistics. Fewer than two values give a zero summary
// with only N and Mean set.
func Describe(data []float64) run.Distribution {
	d := run.Distribution{N: len(data)}
	if len(data) == 0 {
		return d
	}
	d.Mean, _ = stats.Mean(data)
	if len(data) < 2 {
		return d
	}

	var err error
	if d.StdDev, err = stats.StandardDeviationSample(data); err != nil {
		return d
	}
	d.MeanErr = d.StdDev / math.Sqrt(float64(len(data)))
	d.Median, _ = stats.Median(data)
	d.Q25, _ = stats.Percentile(data, 25)
	d.Q75, _ = stats.Percentile(data, 75)
	d.Outliers = countOutliers(data, d.Q25, d.Q75)
	if d.StdDev > 0 {
		d.Skewness = skewness(data, d.Mean, d.StdDev)
		d.Kurtosis = kurtosis(data, d.Mean, d.StdDev)
		d.NormalP = jarqueBera(len(data), d.Skewness, d.Kurtosis)
	}
	return d
}

// skewness is the adjusted Fisher-Pearson coefficient.
func skewness(data []float64, mean, sd float64) float64 {
	if len(data) < 3 {
		return 0
	}
	n := float64(len(data))
	var s float64
	for _, x := range data {
		z := (x - mean) / sd
		s += z * z * z
	}
	return s / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// kurtosis is the plain fourth standardized moment; 3 for a normal distribution.
func kurtosis(data []float64, mean, sd float64) float64 {
	if len(data) < 4 {
		return 3
	}
	var s float64
	for _, x := range data {
		z := (x - mean) / sd
		s += z * z * z * z
	}
	return s / float64(len(data))
}

func jarqueBera(n int, skew, kurt float64) float64 {
	if n < 4 {
		return 1
	}
	jb := float64(n) / 6 * (skew*skew + (kurt-3)*(kurt-3)/4)
	return 1 - distuv.ChiSquared{K: 2}.CDF(jb)
}

// countOutliers counts values outside the 1.5·IQR fences.
func countOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lo, hi := q25-1.5*iqr, q75+1.5*iqr
	n := 0
	for _, x := range data {
		if x < lo || x > hi {
			n++
		}
	}
	return n
}
