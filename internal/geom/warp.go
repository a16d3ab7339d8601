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
	"math"

	"github.com/mlnoga/sunscan/internal/fits"
)

// Returns the bilinearly interpolated value of the grayscale image at (x, y), with pixel
// centers at integer coordinates. ok is false outside the image.
func Bilinear(img *fits.Image, x, y float64) (v float32, ok bool) {
	w, h := img.Width(), img.Height()
	if !(x >= 0 && y >= 0 && x <= float64(w-1) && y <= float64(h-1)) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))
	top := img.At(x0, y0)*(1-fx) + img.At(x1, y0)*fx
	bottom := img.At(x0, y1)*(1-fx) + img.At(x1, y1)*fx
	return top*(1-fy) + bottom*fy, true
}

// Resamples the grayscale image through the transform m into a new image of the given size.
// Each destination pixel takes the value at its inverse-mapped source position.
// Destination pixels mapping outside the source take the fill value.
func Warp(img *fits.Image, m Affine, width, height int, fill float32) (*fits.Image, error) {
	inv, err := m.Invert()
	if err != nil {
		return nil, err
	}
	res := fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, nil)
	res.ID, res.FileName = img.ID, img.FileName
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := inv.Apply(float64(x), float64(y))
			v, ok := Bilinear(img, sx, sy)
			if !ok || math.IsNaN(float64(v)) {
				v = fill
			}
			res.Data[y*width+x] = v
		}
	}
	return res, nil
}
