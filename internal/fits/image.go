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

package fits

import (
	"image"
	"image/color"
	"math"
)

// Scales a value into [0,1] with the given min, max and inverse gamma.
// NaNs map to zero, else exported files break
func scaleValue(v, min, scale float32, gammaInv float64) float64 {
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		return math.Pow(float64(v), gammaInv)
	}
	return float64(v)
}

// Converts the image into a Go image with 16 bits per channel, using the given min, max and gamma.
// Grayscale images become image.Gray16, three-channel images image.RGBA64
func (f *Image) ToImage16(min, max, gamma float32) image.Image {
	width, height := f.Width(), f.Height()
	rect := image.Rect(0, 0, width, height)
	scale := 1 / (max - min)
	gammaInv := float64(1.0 / gamma)

	if f.Channels() < 3 {
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			yoffset := y * width
			for x := 0; x < width; x++ {
				gray := scaleValue(f.Data[yoffset+x], min, scale, gammaInv)
				img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
			}
		}
		return img
	}

	size := width * height
	img := image.NewRGBA64(rect)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := scaleValue(f.Data[yoffset+x], min, scale, gammaInv)
			g := scaleValue(f.Data[yoffset+x+size], min, scale, gammaInv)
			b := scaleValue(f.Data[yoffset+x+size*2], min, scale, gammaInv)
			img.SetRGBA64(x, y, color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535})
		}
	}
	return img
}

// Converts the image into a Go image with 8 bits per channel, using the given min, max and gamma.
// Grayscale images become image.Gray, three-channel images image.RGBA
func (f *Image) ToImage8(min, max, gamma float32) image.Image {
	width, height := f.Width(), f.Height()
	rect := image.Rect(0, 0, width, height)
	scale := 1 / (max - min)
	gammaInv := float64(1.0 / gamma)

	if f.Channels() < 3 {
		img := image.NewGray(rect)
		for y := 0; y < height; y++ {
			yoffset := y * width
			for x := 0; x < width; x++ {
				gray := scaleValue(f.Data[yoffset+x], min, scale, gammaInv)
				img.SetGray(x, y, color.Gray{uint8(gray * 255)})
			}
		}
		return img
	}

	size := width * height
	img := image.NewRGBA(rect)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := scaleValue(f.Data[yoffset+x], min, scale, gammaInv)
			g := scaleValue(f.Data[yoffset+x+size], min, scale, gammaInv)
			b := scaleValue(f.Data[yoffset+x+size*2], min, scale, gammaInv)
			img.SetRGBA(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}
	return img
}
