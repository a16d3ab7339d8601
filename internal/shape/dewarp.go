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
	"fmt"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/geom"
)

// Default fraction of the output frame covered by the disk diameter
const DefaultFillFraction = 0.8

// Returns the transform mapping the ellipse onto a centered circle of diameter sz*fill
// in an sz x sz frame
func DewarpTransform(e Ellipse, sz int, fill float64) geom.Affine {
	radius := float64(sz) * fill / 2
	return geom.Identity().
		Translate(-e.CX, -e.CY). // center to origin
		Rotate(-e.Phi).          // major axis onto x
		Scale(e.Height/e.Width, 1).
		Rotate(e.Phi).
		Scale(radius/e.Height, radius/e.Height).
		Translate(float64(sz)/2, float64(sz)/2)
}

// Resamples the image so the fitted ellipse becomes a circle of diameter sz*fill,
// centered in an sz x sz result. Pixels outside the source are zero.
func Dewarp(img *fits.Image, e Ellipse, sz int, fill float64) (*fits.Image, error) {
	if sz <= 0 || !(fill > 0) || !(e.Width > 0) || !(e.Height > 0) {
		return nil, fmt.Errorf("dewarp: invalid size %d, fill %g or ellipse %v", sz, fill, e)
	}
	return geom.Warp(img, DewarpTransform(e, sz, fill), sz, sz, 0)
}
