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

package geom

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// A 2D affine transform, stored as the top two rows of a 3x3 matrix in row-major order.
// Transforms are built from named steps which apply in call order: for
// Identity().Translate(1, 0).Rotate(90), a point is first translated, then rotated.
type Affine f64.Aff3

func Identity() Affine {
	return Affine{1, 0, 0, 0, 1, 0}
}

// Returns p*q, i.e. the transform applying q first, then p
func (p Affine) Mul(q Affine) Affine {
	return Affine{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

// Appends a translation by (tx, ty)
func (m Affine) Translate(tx, ty float64) Affine {
	return Affine{1, 0, tx, 0, 1, ty}.Mul(m)
}

// Appends a rotation by thetaDeg degrees about the origin, from the +x axis towards the +y axis
func (m Affine) Rotate(thetaDeg float64) Affine {
	sin, cos := math.Sincos(thetaDeg * math.Pi / 180)
	return Affine{cos, -sin, 0, sin, cos, 0}.Mul(m)
}

// Appends an axis-aligned scaling
func (m Affine) Scale(sx, sy float64) Affine {
	return Affine{sx, 0, 0, 0, sy, 0}.Mul(m)
}

// Returns the rotation by thetaDeg degrees about the point (x, y)
func RotateAbout(thetaDeg, x, y float64) Affine {
	return Identity().Translate(-x, -y).Rotate(thetaDeg).Translate(x, y)
}

// Returns the inverse transform. Fails if the linear part is singular
func (m Affine) Invert() (Affine, error) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, fmt.Errorf("affine transform is not invertible: %v", m)
	}
	a, b := m[4]/det, -m[1]/det
	d, e := -m[3]/det, m[0]/det
	return Affine{a, b, -(a*m[2] + b*m[5]), d, e, -(d*m[2] + e*m[5])}, nil
}

// Maps the point (x, y)
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func (m Affine) String() string {
	return fmt.Sprintf("[%10f, %10f, %10f]\n[%10f, %10f, %10f]", m[0], m[1], m[2], m[3], m[4], m[5])
}
