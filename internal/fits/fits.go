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
	"fmt"
	"strings"

	"github.com/mlnoga/sunscan/internal/stats"
)

// A FITS image. Holds reconstructed solar images as well as colour mapped results.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output. By convention the index of the wavelength shift
	FileName string // Original file name, if any, for log output.

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y), optional third axis for colour channels
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
	}
}

// Creates a FITS image with the same metadata as the given image. New data array will be allocated
func NewImageFromImage(img *Image) *Image {
	res := NewImageFromNaxisn(img.Naxisn, nil)
	res.ID, res.FileName = img.ID, img.FileName
	return res
}

// Returns a deep copy of the image
func (f *Image) Clone() *Image {
	res := NewImageFromImage(f)
	copy(res.Data, f.Data)
	return res
}

func (f *Image) Width() int  { return int(f.Naxisn[0]) }
func (f *Image) Height() int { return int(f.Naxisn[1]) }

// Returns the number of colour channels, 1 for grayscale images
func (f *Image) Channels() int {
	if len(f.Naxisn) < 3 {
		return 1
	}
	return int(f.Naxisn[2])
}

// Returns the pixel at column x and row y of the first channel
func (f *Image) At(x, y int) float32 { return f.Data[y*int(f.Naxisn[0])+x] }

// Sets the pixel at column x and row y of the first channel
func (f *Image) Set(x, y int, v float32) { f.Data[y*int(f.Naxisn[0])+x] = v }

// Returns row y of the first channel. Shares the underlying data
func (f *Image) Row(y int) []float32 {
	w := int(f.Naxisn[0])
	return f.Data[y*w : (y+1)*w]
}

// Returns a new grayscale image with rows and columns swapped
func (f *Image) Transpose() *Image {
	w, h := f.Width(), f.Height()
	res := NewImageFromNaxisn([]int32{int32(h), int32(w)}, nil)
	res.ID, res.FileName = f.ID, f.FileName
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			res.Data[x*h+y] = f.Data[y*w+x]
		}
	}
	return res
}

// Calculates basic statistics over all pixels
func (f *Image) Stats() *stats.Stats {
	return stats.NewStats(f.Data)
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}
