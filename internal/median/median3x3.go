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

package median

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/sunscan/internal/qsort"
)

// Applies a 3x3 median filter to input data, assumed to be a 2D array with given line width,
// and stores results in output. Copies over the outermost rows and columns unchanged.
func Filter3x3(output, data []float64, width int) {
	height := len(data) / width
	if height < 3 || width < 3 {
		copy(output, data)
		return
	}
	copy(output[:width], data[:width]) // copy first row

	gathered := make([]float64, 9)
	for line := 0; line < height-2; line++ {
		start, end := line*width, (line+3)*width

		output[start+width] = data[start+width] // copy first column
		FilterLine3x3(output[start:end], data[start:end], width, gathered)
		output[start+2*width-1] = data[start+2*width-1] // copy last column
	}
	copy(output[(height-1)*width:], data[(height-1)*width:]) // copy last row
}

// Input data is three lines of given width. Applies a 3x3 median filter to these.
// Stores results in the middle row of the output, which must have the same shape as the input.
// Does not touch first and last column. Gathered is scratch space for nine values.
func FilterLine3x3(output, data []float64, width int, gathered []float64) {
	for i := width + 1; i < 2*width-1; i++ {
		j := 0
		for _, off := range [3]int{i - width - 1, i - 1, i + width - 1} {
			gathered[j], gathered[j+1], gathered[j+2] = data[off], data[off+1], data[off+2]
			j += 3
		}
		output[i] = qsort.QSelectMedianFloat64(gathered[:9])
	}
}

// Generates a bad pixel map. Pixels are considered bad if they deviate from the local 3x3 median
// by more than sigma times the standard deviation of all differences from the local median.
// Returns the indices of bad pixels, and the median filtered data.
func BadPixelMap(data []float64, width int, sigma float64) (bpm []int, medians []float64) {
	medians = make([]float64, len(data))
	Filter3x3(medians, data, width)

	diffs := make([]float64, len(data))
	floats.SubTo(diffs, data, medians)
	_, std := stat.PopMeanStdDev(diffs, nil)
	threshold := std * sigma
	for i, d := range diffs {
		if math.Abs(d) > threshold {
			bpm = append(bpm, i)
		}
	}
	return bpm, medians
}
