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

package spectrum

import (
	"fmt"
	"math"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/ser"
)

// Samples the frame along the line positions given per row, offset by shift columns,
// and stores one value per row in dst. Positions are clamped to [0, width-2] and
// interpolated linearly between the two neighbouring columns.
func ExtractLine(f *ser.Frame, columns []float64, shift float64, dst []float64) {
	maxCol := float64(f.Width - 2)
	if maxCol < 0 {
		maxCol = 0
	}
	for y := 0; y < f.Height; y++ {
		c := math.Max(0, math.Min(maxCol, columns[y]+shift))
		l := int(c)
		frac := c - float64(l)
		left := float64(f.Data[y*f.Width+l])
		right := left
		if l+1 < f.Width {
			right = float64(f.Data[y*f.Width+l+1])
		}
		dst[y] = left*(1-frac) + right*frac
	}
}

// Returns one extracted profile per shift for the given frame
func ExtractLines(f *ser.Frame, columns []float64, shifts []float64) [][]float64 {
	res := make([][]float64, len(shifts))
	for i, shift := range shifts {
		res[i] = make([]float64, f.Height)
		ExtractLine(f, columns, shift, res[i])
	}
	return res
}

// Calls fn for every frame of the video, with up to maxThreads frames in flight.
// fn receives the frame index and must only write state owned by that index.
// Returns the first error encountered.
func ForEachFrame(src ser.Source, maxThreads int, fn func(i int, f *ser.Frame) error) error {
	n := src.FrameCount()
	if maxThreads < 1 {
		maxThreads = 1
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			f, err := src.Frame(i)
			if err == nil {
				err = fn(i, f)
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	close(errs)
	return <-errs
}

// Reconstructs one image per shift from the video. Column i of each image holds the profile
// extracted from frame i, rows are sensor rows. Frames are processed in parallel.
func Reconstruct(src ser.Source, lf *LineFit, shifts []float64, maxThreads int) ([]*fits.Image, error) {
	w, h := src.FrameCount(), src.Height()
	if len(lf.Columns) != h {
		return nil, fmt.Errorf("reconstruct: line fit has %d rows, video %d", len(lf.Columns), h)
	}
	imgs := make([]*fits.Image, len(shifts))
	for s := range shifts {
		imgs[s] = fits.NewImageFromNaxisn([]int32{int32(w), int32(h)}, nil)
		imgs[s].ID = s
	}

	err := ForEachFrame(src, maxThreads, func(i int, f *ser.Frame) error {
		line := make([]float64, h)
		for s, shift := range shifts {
			ExtractLine(f, lf.Columns, shift, line)
			data := imgs[s].Data
			for y, v := range line {
				data[y*w+i] = float32(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}
	return imgs, nil
}

// Averages groups of adjacent columns and resizes the result back with linear interpolation.
// The group size is the ratio of width to height, at least 1. The width is first cropped to
// a multiple of the group size, which is also the width of the result.
func BinColumns(img *fits.Image) *fits.Image {
	w, h := img.Width(), img.Height()
	group := w / h
	if group <= 1 {
		return img.Clone()
	}
	bw := w / group
	cw := bw * group

	binned := make([]float64, bw*h)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for bx := 0; bx < bw; bx++ {
			sum := 0.0
			for _, v := range row[bx*group : (bx+1)*group] {
				sum += float64(v)
			}
			binned[y*bw+bx] = sum / float64(group)
		}
	}

	res := fits.NewImageFromNaxisn([]int32{int32(cw), int32(h)}, nil)
	res.ID, res.FileName = img.ID, img.FileName
	for x := 0; x < cw; x++ {
		// pixel centers of source and destination coincide at half-pixel offsets
		sx := math.Max(0, math.Min(float64(bw-1), (float64(x)+0.5)/float64(group)-0.5))
		x0 := int(sx)
		x1 := x0 + 1
		if x1 > bw-1 {
			x1 = bw - 1
		}
		frac := sx - float64(x0)
		for y := 0; y < h; y++ {
			res.Data[y*cw+x] = float32(binned[y*bw+x0]*(1-frac) + binned[y*bw+x1]*frac)
		}
	}
	return res
}
