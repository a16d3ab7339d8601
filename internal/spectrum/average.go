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

	"github.com/mlnoga/sunscan/internal/median"
	"github.com/mlnoga/sunscan/internal/ser"
	"gonum.org/v1/gonum/floats"
)

// The per-pixel mean over all frames of a video, in sensor orientation after rotation
type Average struct {
	Width  int
	Height int
	Data   []float64
}

func (a *Average) At(x, y int) float64 { return a.Data[y*a.Width+x] }

// Returns row y. Shares the underlying data
func (a *Average) Row(y int) []float64 { return a.Data[y*a.Width : (y+1)*a.Width] }

// Calculates the mean frame of the video. Frames are summed in parallel by up to maxThreads
// workers, each over a contiguous block of frames.
func MeanFrame(src ser.Source, maxThreads int) (*Average, error) {
	n := src.FrameCount()
	if n == 0 {
		return nil, fmt.Errorf("mean frame: video has no frames")
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if maxThreads > n {
		maxThreads = n
	}
	size := src.Width() * src.Height()

	sums := make([][]float64, maxThreads)
	errs := make(chan error, maxThreads)
	limiter := make(chan bool, maxThreads)
	for t := 0; t < maxThreads; t++ {
		limiter <- true
		go func(t int) {
			defer func() { <-limiter }()
			sum := make([]float64, size)
			for i := t * n / maxThreads; i < (t+1)*n/maxThreads; i++ {
				f, err := src.Frame(i)
				if err != nil {
					errs <- err
					return
				}
				f.AddTo(sum)
			}
			sums[t] = sum
		}(t)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	close(errs)
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("mean frame: %w", err)
	}

	avg := &Average{Width: src.Width(), Height: src.Height(), Data: sums[0]}
	for _, sum := range sums[1:] {
		floats.Add(avg.Data, sum)
	}
	floats.Scale(1/float64(n), avg.Data)
	return avg, nil
}

// Returns the mean of each row
func (a *Average) RowMeans() []float64 {
	res := make([]float64, a.Height)
	for y := range res {
		res[y] = floats.Sum(a.Row(y)) / float64(a.Width)
	}
	return res
}

// Minimum number of rows for an illuminated range to be trusted
const minIlluminatedRows = 10

// Finds the range of rows [y1, y2) lit by the slit, from the row means of the average frame.
// A row counts as lit if its mean exceeds min+(max-min)/4. Falls back to all rows if the
// profile is flat or the lit range is implausibly short.
func FindIlluminatedRows(a *Average) (y1, y2 int) {
	means := a.RowMeans()
	min, max := floats.Min(means), floats.Max(means)
	if !(max > min) {
		return 0, a.Height
	}
	thd := min + (max-min)/4
	y1, y2 = -1, -1
	for y, m := range means {
		if m > thd {
			if y1 < 0 {
				y1 = y
			}
			y2 = y + 1
		}
	}
	if y1 < 0 || y2-y1 < minIlluminatedRows {
		return 0, a.Height
	}
	return y1, y2
}

// Returns a copy of the average frame smoothed with a box filter of bw columns by bh rows.
// Windows are centered and truncated at the borders.
func (a *Average) BoxBlur(bw, bh int) *Average {
	w, h := a.Width, a.Height
	tmp := make([]float64, len(a.Data))
	res := &Average{Width: w, Height: h, Data: make([]float64, len(a.Data))}

	// horizontal pass
	for y := 0; y < h; y++ {
		row := a.Row(y)
		for x := 0; x < w; x++ {
			x0, x1 := clampInt(x-bw/2, 0, w), clampInt(x-bw/2+bw, 0, w)
			tmp[y*w+x] = floats.Sum(row[x0:x1]) / float64(x1-x0)
		}
	}
	// vertical pass
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			y0, y1 := clampInt(y-bh/2, 0, h), clampInt(y-bh/2+bh, 0, h)
			sum := 0.0
			for yy := y0; yy < y1; yy++ {
				sum += tmp[yy*w+x]
			}
			res.Data[y*w+x] = sum / float64(y1-y0)
		}
	}
	return res
}

// Deviation from the local median, in standard deviations, above which a pixel counts as bad
const badPixelSigma = 3

// Returns a copy of the average frame with hot and dead pixels replaced by their local 3x3 median
func (a *Average) Despeckle() *Average {
	res := &Average{Width: a.Width, Height: a.Height, Data: append([]float64(nil), a.Data...)}
	bpm, medians := median.BadPixelMap(a.Data, a.Width, badPixelSigma)
	for _, i := range bpm {
		res.Data[i] = medians[i]
	}
	return res
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
