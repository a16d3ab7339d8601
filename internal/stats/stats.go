// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/sunscan/internal/qsort"
)

// Basic statistics of a data set: min, max, mean and population standard deviation
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	N      int
}

func (s *Stats) String() string {
	return fmt.Sprintf("min %.4g max %.4g mean %.4g stddev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculates basic statistics for the given data. NaNs are ignored
func NewStats(data []float32) *Stats {
	xs := make([]float64, 0, len(data))
	for _, d := range data {
		if !math.IsNaN(float64(d)) {
			xs = append(xs, float64(d))
		}
	}
	s := &Stats{N: len(xs)}
	if len(xs) == 0 {
		s.Min, s.Max, s.Mean, s.StdDev = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min, s.Max = floats.Min(xs), floats.Max(xs)
	s.Mean, s.StdDev = stat.PopMeanStdDev(xs, nil)
	return s
}

// Returns mean and population standard deviation of the values selected by the mask.
// A nil mask selects all values. n is the number of values used.
func MaskedMeanStdDev(xs []float64, valid []bool) (mean, stdDev float64, n int) {
	sel := xs
	if valid != nil {
		sel = make([]float64, 0, len(xs))
		for i, x := range xs {
			if valid[i] {
				sel = append(sel, x)
			}
		}
	}
	if len(sel) == 0 {
		return math.NaN(), math.NaN(), 0
	}
	mean, stdDev = stat.PopMeanStdDev(sel, nil)
	return mean, stdDev, len(sel)
}

// Returns the p-quantile of the data with linear interpolation of the empirical
// distribution. Sorts a copy without NaNs, the data is not modified.
func Quantile(p float64, data []float64) float64 {
	sorted := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	qsort.QSortFloat64(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

// Number of samples above which quantiles are estimated from a random subset
const QuantileSamples = 1 << 17

// Estimates the p-quantile from a random sample of at most QuantileSamples entries.
// Exact for smaller data sets.
func FastApproxQuantile(p float64, data []float64) float64 {
	if len(data) <= QuantileSamples {
		return Quantile(p, data)
	}
	rng := fastrand.RNG{}
	samples := make([]float64, QuantileSamples)
	for i := range samples {
		samples[i] = data[rng.Uint32n(uint32(len(data)))]
	}
	return Quantile(p, samples)
}
