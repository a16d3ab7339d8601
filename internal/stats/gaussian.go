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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// A gaussian curve on a constant offset
type Gaussian struct {
	Amplitude float64 // peak height above the offset, negative for a dip
	Mu        float64
	Sigma     float64
	Offset    float64
}

func (g Gaussian) String() string {
	return fmt.Sprintf("amplitude %.4g at %.4g sigma %.4g offset %.4g", g.Amplitude, g.Mu, g.Sigma, g.Offset)
}

func (g Gaussian) Eval(x float64) float64 {
	d := (x - g.Mu) / g.Sigma
	return g.Offset + g.Amplitude*math.Exp(-0.5*d*d)
}

// Full width at half maximum
func (g Gaussian) FWHM() float64 {
	return 2 * math.Sqrt(2*math.Ln2) * math.Abs(g.Sigma)
}

// Fits a gaussian with offset to the samples by minimizing the squared residuals with Nelder-Mead.
// The initial guess takes the offset from the median of the ends and the extremum furthest from it.
func FitGaussian(xs, ys []float64) (Gaussian, error) {
	if len(xs) != len(ys) {
		return Gaussian{}, fmt.Errorf("gaussian fit: %d x values, %d y values", len(xs), len(ys))
	}
	if len(xs) < 4 {
		return Gaussian{}, fmt.Errorf("gaussian fit: %d samples, need 4", len(xs))
	}

	// Take an educated initial guess
	offset := (ys[0] + ys[len(ys)-1]) / 2
	peak := floats.MaxIdx(ys)
	if offset-ys[floats.MinIdx(ys)] > ys[peak]-offset {
		peak = floats.MinIdx(ys)
	}
	span := xs[len(xs)-1] - xs[0]
	x0 := []float64{ys[peak] - offset, xs[peak], math.Abs(span) / 8, offset}
	if x0[0] == 0 || x0[2] == 0 {
		return Gaussian{}, errors.New("gaussian fit: flat data")
	}

	// Now minimize the distance between the samples and the curve
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			g := Gaussian{Amplitude: x[0], Mu: x[1], Sigma: x[2], Offset: x[3]}
			sumSqDiff := 0.0
			for i, y := range ys {
				diff := y - g.Eval(xs[i])
				sumSqDiff += diff * diff
			}
			return sumSqDiff / float64(len(ys))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return Gaussian{}, fmt.Errorf("gaussian fit: %w", err)
	}
	g := Gaussian{Amplitude: result.X[0], Mu: result.X[1], Sigma: math.Abs(result.X[2]), Offset: result.X[3]}
	if math.IsNaN(g.Mu) || math.IsNaN(g.Sigma) || g.Sigma == 0 {
		return Gaussian{}, errors.New("gaussian fit: degenerate solution")
	}
	return g, nil
}
