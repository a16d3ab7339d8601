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
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/sunscan/internal/qsort"
	"github.com/mlnoga/sunscan/internal/stats"
	"gonum.org/v1/gonum/floats"
)

var ErrInsufficientLineData = errors.New("insufficient spectral line data")

// Parameters of the spectral line fit
type FitOptions struct {
	Window       int     `json:"window"`       // columns on either side of the row minimum for the parabola fit
	MedianWindow int     `json:"medianWindow"` // rows on either side for the local median of outlier rejection
	Tolerance    float64 `json:"tolerance"`    // maximum deviation from the local median, in pixels
	Degree       int     `json:"degree"`       // degree of the polynomial through the surviving rows
	Denoise      bool    `json:"denoise"`      // box blur the average frame before locating minima
	Despeckle    bool    `json:"despeckle"`    // replace hot and dead pixels of the average frame by their 3x3 median first
}

func DefaultFitOptions() FitOptions {
	return FitOptions{
		Window:       2,
		MedianWindow: 20,
		Tolerance:    10,
		Degree:       3,
		Denoise:      false,
	}
}

// Checks value ranges
func (o FitOptions) Validate() error {
	switch {
	case o.Window < 1:
		return fmt.Errorf("line fit window %d must be at least 1", o.Window)
	case o.MedianWindow < 1:
		return fmt.Errorf("line fit median window %d must be at least 1", o.MedianWindow)
	case !(o.Tolerance > 0):
		return fmt.Errorf("line fit tolerance %g must be positive", o.Tolerance)
	case o.Degree < 1:
		return fmt.Errorf("line fit degree %d must be at least 1", o.Degree)
	}
	return nil
}

// Position of the spectral line on the sensor
type LineFit struct {
	Columns []float64  // fractional column of the line core, for every sensor row
	Poly    stats.Poly // polynomial giving the column as a function of the row

	Y1, Y2           int       // analysed row range [Y1, Y2)
	Minima           []float64 // sub-pixel line core per analysed row, valid where Found is set
	Found            []bool    // rows where a line core was located
	Inlier           []bool    // rows which survived outlier rejection
	RejectedFraction float64   // fraction of analysed rows rejected
}

// Fits the spectral line position as a function of the sensor row to the average frame,
// analysing rows [y1, y2). Per row, the sub-pixel minimum is the vertex of a parabola through the
// darkest column and its neighbours. Rows deviating from their local median are rejected
// before fitting a polynomial through the rest. The result is clamped to the valid column range.
func FitLine(avg *Average, y1, y2 int, opts FitOptions) (*LineFit, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if y1 < 0 || y2 > avg.Height || y2 <= y1 {
		return nil, fmt.Errorf("%w: invalid row range [%d,%d) for height %d", ErrInsufficientLineData, y1, y2, avg.Height)
	}
	img := avg
	if opts.Despeckle {
		img = img.Despeckle()
	}
	if opts.Denoise {
		bh := (y2 - y1) / 100
		if bh < 1 {
			bh = 1
		}
		img = img.BoxBlur(3, bh)
	}

	n := y2 - y1
	lf := &LineFit{Y1: y1, Y2: y2, Minima: make([]float64, n), Found: make([]bool, n), Inlier: make([]bool, n)}
	found := lf.Found
	xs, ys := make([]float64, 0, 2*opts.Window+1), make([]float64, 0, 2*opts.Window+1)
	for y := y1; y < y2; y++ {
		row := img.Row(y)
		m := floats.MinIdx(row)
		x1, x2 := clampInt(m-opts.Window, 0, img.Width), clampInt(m+opts.Window+1, 0, img.Width)
		xs, ys = xs[:0], ys[:0]
		for x := x1; x < x2; x++ {
			xs, ys = append(xs, float64(x)), append(ys, row[x])
		}
		if vertex, ok := stats.ParabolaVertex(xs, ys); ok && vertex >= float64(x1)-1 && vertex <= float64(x2) {
			lf.Minima[y-y1], found[y-y1] = vertex, true
		}
	}

	// reject rows deviating from the local median of their neighbourhood
	scratch := make([]float64, 0, 2*opts.MedianWindow+1)
	inliers := 0
	for i := range lf.Minima {
		if !found[i] {
			continue
		}
		scratch = scratch[:0]
		for j := clampInt(i-opts.MedianWindow, 0, n); j < clampInt(i+opts.MedianWindow+1, 0, n); j++ {
			if found[j] {
				scratch = append(scratch, lf.Minima[j])
			}
		}
		median := qsort.QSelectMedianFloat64(scratch)
		if math.Abs(lf.Minima[i]-median) < opts.Tolerance {
			lf.Inlier[i] = true
			inliers++
		}
	}
	lf.RejectedFraction = float64(n-inliers) / float64(n)

	if inliers < opts.Degree+1 {
		return lf, fmt.Errorf("%w: %d of %d rows usable, need %d", ErrInsufficientLineData, inliers, n, opts.Degree+1)
	}
	rows, cols := lf.InlierPoints()
	poly, err := stats.PolyFit(rows, cols, opts.Degree)
	if err != nil {
		return lf, fmt.Errorf("%w: %v", ErrInsufficientLineData, err)
	}
	lf.Poly = poly

	lf.Columns = make([]float64, avg.Height)
	maxCol := float64(avg.Width - 1)
	for y := range lf.Columns {
		lf.Columns[y] = math.Max(0, math.Min(maxCol, poly.Eval(float64(y))))
	}
	return lf, nil
}

// Returns the rows which survived outlier rejection and their sub-pixel line cores
func (lf *LineFit) InlierPoints() (rows, cols []float64) {
	for i, ok := range lf.Inlier {
		if ok {
			rows, cols = append(rows, float64(lf.Y1+i)), append(cols, lf.Minima[i])
		}
	}
	return rows, cols
}

// Averages the inlier rows of the frame along the fitted line, at integer column offsets up to
// halfWidth on either side, and fits a gaussian to the resulting line profile. Mu is the residual
// offset of the line core from the fit, FWHM the line width.
func (lf *LineFit) MeasureProfile(avg *Average, halfWidth int) (stats.Gaussian, error) {
	n := 2*halfWidth + 1
	sums, counts := make([]float64, n), make([]int, n)
	maxCol := float64(avg.Width - 1)
	for i, ok := range lf.Inlier {
		if !ok {
			continue
		}
		y := lf.Y1 + i
		row := avg.Row(y)
		for k := 0; k < n; k++ {
			x := lf.Columns[y] + float64(k-halfWidth)
			if x < 0 || x > maxCol {
				continue
			}
			x0 := int(x)
			if x0 > avg.Width-2 {
				x0 = avg.Width - 2
			}
			frac := x - float64(x0)
			sums[k] += row[x0]*(1-frac) + row[x0+1]*frac
			counts[k]++
		}
	}

	xs, ys := make([]float64, 0, n), make([]float64, 0, n)
	for k := range sums {
		if counts[k] > 0 {
			xs, ys = append(xs, float64(k-halfWidth)), append(ys, sums[k]/float64(counts[k]))
		}
	}
	return stats.FitGaussian(xs, ys)
}
