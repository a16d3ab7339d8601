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

package shape

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrEllipseFitFailed = errors.New("ellipse fit failed")

// An ellipse in image coordinates: x is the frame index, y the sensor row
type Ellipse struct {
	CX     float64 `json:"cx"`     // center
	CY     float64 `json:"cy"`     // center
	Width  float64 `json:"width"`  // semi-major axis
	Height float64 `json:"height"` // semi-minor axis
	Phi    float64 `json:"phi"`    // angle of the major axis from the +x towards the +y axis in degrees, in (-90, 90]
}

func (e Ellipse) String() string {
	return fmt.Sprintf("center (%.2f, %.2f) axes %.2f/%.2f angle %.2f°", e.CX, e.CY, e.Width, e.Height, e.Phi)
}

// Returns the point at parameter t in radians
func (e Ellipse) Point(t float64) (x, y float64) {
	sinPhi, cosPhi := math.Sincos(e.Phi * math.Pi / 180)
	sinT, cosT := math.Sincos(t)
	return e.CX + e.Width*cosT*cosPhi - e.Height*sinT*sinPhi,
		e.CY + e.Width*cosT*sinPhi + e.Height*sinT*cosPhi
}

// Fits an ellipse to the points with the direct least squares method of Halir and Flusser,
// which constrains the conic Ax²+Bxy+Cy²+Dx+Ey+F=0 to 4AC-B²=1.
// Points are centered and scaled for conditioning. Fails with ErrEllipseFitFailed for fewer than
// 5 points or a conic which is not a real ellipse.
func FitEllipse(xs, ys []float64) (Ellipse, error) {
	n := len(xs)
	if n < 5 || len(ys) != n {
		return Ellipse{}, fmt.Errorf("%w: %d points", ErrEllipseFitFailed, n)
	}

	// condition: zero mean, unit spread, same scale on both axes to keep angles
	mx, my := stat.Mean(xs, nil), stat.Mean(ys, nil)
	scale := math.Max(floats.Max(xs)-floats.Min(xs), floats.Max(ys)-floats.Min(ys)) / 2
	if !(scale > 0) {
		return Ellipse{}, fmt.Errorf("%w: degenerate point set", ErrEllipseFitFailed)
	}
	d1, d2 := mat.NewDense(n, 3, nil), mat.NewDense(n, 3, nil)
	for i := range xs {
		x, y := (xs[i]-mx)/scale, (ys[i]-my)/scale
		d1.SetRow(i, []float64{x * x, x * y, y * y})
		d2.SetRow(i, []float64{x, y, 1})
	}

	// scatter matrices
	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	// linear coefficients as function of the quadratic ones: a2 = t*a1
	var t mat.Dense
	if err := t.Solve(&s3, s2.T()); err != nil {
		return Ellipse{}, fmt.Errorf("%w: %v", ErrEllipseFitFailed, err)
	}
	t.Scale(-1, &t)

	// reduced scatter matrix, premultiplied with the inverse constraint matrix
	var m mat.Dense
	m.Mul(&s2, &t)
	m.Add(&s1, &m)
	red := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		red.Set(0, j, m.At(2, j)/2)
		red.Set(1, j, -m.At(1, j))
		red.Set(2, j, m.At(0, j)/2)
	}

	var eig mat.Eigen
	if !eig.Factorize(red, mat.EigenRight) {
		return Ellipse{}, fmt.Errorf("%w: eigen decomposition did not converge", ErrEllipseFitFailed)
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	var a1 []float64
	for k := 0; k < 3; k++ {
		v := []float64{real(vecs.At(0, k)), real(vecs.At(1, k)), real(vecs.At(2, k))}
		if 4*v[0]*v[2]-v[1]*v[1] > 0 {
			a1 = v
			break
		}
	}
	if a1 == nil {
		return Ellipse{}, fmt.Errorf("%w: no elliptic solution", ErrEllipseFitFailed)
	}
	a2 := mat.NewVecDense(3, nil)
	a2.MulVec(&t, mat.NewVecDense(3, a1))

	e, err := conicToEllipse(a1[0], a1[1], a1[2], a2.AtVec(0), a2.AtVec(1), a2.AtVec(2))
	if err != nil {
		return Ellipse{}, err
	}
	e.CX, e.CY = mx+scale*e.CX, my+scale*e.CY
	e.Width, e.Height = scale*e.Width, scale*e.Height
	return e, nil
}

// Converts the coefficients of the conic Ax²+Bxy+Cy²+Dx+Ey+F=0 to geometric ellipse parameters
func conicToEllipse(a, b, c, d, e, f float64) (Ellipse, error) {
	det := 4*a*c - b*b
	if !(det > 0) {
		return Ellipse{}, fmt.Errorf("%w: conic is not an ellipse", ErrEllipseFitFailed)
	}
	// center, where the gradient vanishes
	cx := (b*e - 2*c*d) / det
	cy := (b*d - 2*a*e) / det
	// constant term in centered coordinates
	fc := f + (d*cx+e*cy)/2

	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(2, []float64{a, b / 2, b / 2, c}), true) {
		return Ellipse{}, fmt.Errorf("%w: eigen decomposition did not converge", ErrEllipseFitFailed)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// semi-axis along eigenvector k has length sqrt(-fc/lambda_k)
	r0, r1 := -fc/vals[0], -fc/vals[1]
	if !(r0 > 0 && r1 > 0) || math.IsInf(r0, 0) || math.IsInf(r1, 0) {
		return Ellipse{}, fmt.Errorf("%w: imaginary ellipse", ErrEllipseFitFailed)
	}
	major, minor, k := math.Sqrt(r0), math.Sqrt(r1), 0
	if minor > major {
		major, minor, k = minor, major, 1
	}
	phi := math.Atan2(vecs.At(1, k), vecs.At(0, k)) * 180 / math.Pi
	phi = normalizeAngle(phi)

	res := Ellipse{CX: cx, CY: cy, Width: major, Height: minor, Phi: phi}
	for _, v := range []float64{res.CX, res.CY, res.Width, res.Height, res.Phi} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Ellipse{}, fmt.Errorf("%w: non-finite parameters %v", ErrEllipseFitFailed, res)
		}
	}
	return res, nil
}

// Maps an axis angle in degrees into (-90, 90]
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 180)
	if deg <= -90 {
		deg += 180
	} else if deg > 90 {
		deg -= 180
	}
	return deg
}

// Number of samples along the ellipse for distance calculations
const residualSamples = 3600

// Returns the distance of each point to the ellipse, approximated by the nearest of
// densely sampled ellipse points
func FitResiduals(e Ellipse, xs, ys []float64) []float64 {
	px, py := make([]float64, residualSamples), make([]float64, residualSamples)
	for i := range px {
		px[i], py[i] = e.Point(2 * math.Pi * float64(i) / residualSamples)
	}
	res := make([]float64, len(xs))
	for i := range xs {
		best := math.Inf(1)
		for j := range px {
			dx, dy := xs[i]-px[j], ys[i]-py[j]
			if d := dx*dx + dy*dy; d < best {
				best = d
			}
		}
		res[i] = math.Sqrt(best)
	}
	return res
}
