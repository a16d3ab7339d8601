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
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// A polynomial in a normalized variable t=(x-Offset)/Scale, with coefficients
// in ascending order of power
type Poly struct {
	Coeffs []float64
	Offset float64
	Scale  float64
}

// Evaluates the polynomial at x with Horner's scheme
func (p Poly) Eval(x float64) float64 {
	t := (x - p.Offset) / p.Scale
	res := 0.0
	for i := len(p.Coeffs) - 1; i >= 0; i-- {
		res = res*t + p.Coeffs[i]
	}
	return res
}

// Fits a polynomial of the given degree to the points in the least squares sense.
// The abscissae are centered and scaled before building the Vandermonde matrix,
// which keeps the system well conditioned for thousands of sensor rows.
func PolyFit(xs, ys []float64, degree int) (Poly, error) {
	if len(xs) != len(ys) {
		return Poly{}, fmt.Errorf("polyfit: %d abscissae and %d ordinates", len(xs), len(ys))
	}
	if len(xs) < degree+1 {
		return Poly{}, fmt.Errorf("polyfit: %d points for degree %d", len(xs), degree)
	}

	offset := stat.Mean(xs, nil)
	scale := (floats.Max(xs) - floats.Min(xs)) / 2
	if scale == 0 {
		return Poly{}, errors.New("polyfit: all abscissae equal")
	}

	a := mat.NewDense(len(xs), degree+1, nil)
	for i, x := range xs {
		t, pow := (x-offset)/scale, 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, pow)
			pow *= t
		}
	}
	b := mat.NewVecDense(len(ys), append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(a)
	var c mat.VecDense
	if err := qr.SolveVecTo(&c, false, b); err != nil {
		return Poly{}, fmt.Errorf("polyfit: %w", err)
	}
	return Poly{Coeffs: append([]float64(nil), c.RawVector().Data...), Offset: offset, Scale: scale}, nil
}

// Returns the abscissa of the vertex of the least squares parabola through the points.
// ok is false unless the parabola opens upwards, i.e. the vertex is a minimum.
func ParabolaVertex(xs, ys []float64) (x float64, ok bool) {
	p, err := PolyFit(xs, ys, 2)
	if err != nil {
		return 0, false
	}
	eps := 1e-12 * (1 + floats.Norm(ys, math.Inf(1)))
	if !(p.Coeffs[2] > eps) {
		return 0, false
	}
	// vertex in normalized coordinates, then back
	t := -p.Coeffs[1] / (2 * p.Coeffs[2])
	return p.Offset + t*p.Scale, true
}
