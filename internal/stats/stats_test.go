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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float32{1, 2, 3, 4, float32(math.NaN())})
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.StdDev, 1e-12)
}

func TestMaskedMeanStdDev(t *testing.T) {
	xs := []float64{1, 100, 3}
	mean, std, n := MaskedMeanStdDev(xs, []bool{true, false, true})
	assert.Equal(t, 2, n)
	assert.InDelta(t, 2.0, mean, 1e-12)
	assert.InDelta(t, 1.0, std, 1e-12)

	_, _, n = MaskedMeanStdDev(xs, []bool{false, false, false})
	assert.Equal(t, 0, n)
}

func TestQuantile(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 1.0, Quantile(0, data))
	assert.Equal(t, 5.0, Quantile(1, data))
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, data, "input must not be reordered")
	assert.True(t, math.IsNaN(Quantile(0.5, nil)))
	assert.Equal(t, 5.0, Quantile(1, []float64{math.NaN(), 5, 1}), "NaNs are skipped")
	assert.True(t, math.IsNaN(Quantile(0.5, []float64{math.NaN()})))
}

func TestFastApproxQuantile(t *testing.T) {
	data := make([]float64, 4*QuantileSamples)
	for i := range data {
		data[i] = float64(i % 1000)
	}
	assert.InDelta(t, 500, FastApproxQuantile(0.5, data), 20)
	assert.InDelta(t, 10, FastApproxQuantile(0.01, data), 5)
}

func TestPolyFitCubic(t *testing.T) {
	xs, ys := []float64{}, []float64{}
	for x := 0.0; x < 2000; x += 7 {
		xs = append(xs, x)
		ys = append(ys, 300+0.02*x-1e-5*x*x+2e-9*x*x*x)
	}
	p, err := PolyFit(xs, ys, 3)
	require.NoError(t, err)
	for _, x := range []float64{0, 500, 1234.5, 1999} {
		assert.InDelta(t, 300+0.02*x-1e-5*x*x+2e-9*x*x*x, p.Eval(x), 1e-6)
	}
}

func TestPolyFitErrors(t *testing.T) {
	_, err := PolyFit([]float64{1, 2}, []float64{1, 2}, 3)
	assert.Error(t, err)
	_, err = PolyFit([]float64{1, 1, 1, 1}, []float64{1, 2, 3, 4}, 3)
	assert.Error(t, err)
	_, err = PolyFit([]float64{1, 2, 3}, []float64{1, 2}, 1)
	assert.Error(t, err)
}

func TestParabolaVertex(t *testing.T) {
	xs := []float64{10, 11, 12, 13, 14}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 7 + 3*(x-12.3)*(x-12.3)
	}
	x, ok := ParabolaVertex(xs, ys)
	require.True(t, ok)
	assert.InDelta(t, 12.3, x, 1e-9)

	_, ok = ParabolaVertex(xs, []float64{1, 1, 1, 1, 1})
	assert.False(t, ok)
	_, ok = ParabolaVertex(xs, []float64{0, 3, 4, 3, 0})
	assert.False(t, ok, "maximum is not a line core")
}

func TestFitGaussian(t *testing.T) {
	truth := Gaussian{Amplitude: -800, Mu: 30.3, Sigma: 3, Offset: 1000}
	var xs, ys []float64
	for x := 15.0; x <= 45; x++ {
		xs, ys = append(xs, x), append(ys, truth.Eval(x))
	}
	g, err := FitGaussian(xs, ys)
	require.NoError(t, err)
	assert.InDelta(t, truth.Mu, g.Mu, 0.05)
	assert.InDelta(t, truth.Sigma, g.Sigma, 0.05)
	assert.InDelta(t, truth.Amplitude, g.Amplitude, 5)
	assert.InDelta(t, truth.Offset, g.Offset, 5)
	assert.InDelta(t, 2.3548*3, g.FWHM(), 0.2)

	_, err = FitGaussian([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.Error(t, err)
	_, err = FitGaussian([]float64{1, 2, 3, 4, 5}, []float64{7, 7, 7, 7, 7})
	assert.Error(t, err)
}
