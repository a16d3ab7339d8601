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

package light

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/geom"
	"github.com/mlnoga/sunscan/internal/stats"
)

var ErrNoRisingEdgeDetected = errors.New("no rising edge detected")

// Default height of the border bands, as fraction of the image height
const DefaultBorderFraction = 0.05

// Pixels below this value were never scanned and are excluded from all statistics
const VisibilityFloor = 1

// Quantile of the background plane taken as its floor
const planeFloorQuantile = 0.001

// Parameters of the stray light correction
type Options struct {
	Axes           int     `json:"axes"`           // 0 to disable, 1 for rows only, 2 for rows then columns
	BorderFraction float64 `json:"borderFraction"` // height of the border bands as fraction of the image height
}

func DefaultOptions() Options {
	return Options{Axes: 2, BorderFraction: DefaultBorderFraction}
}

// Checks value ranges. The border fraction only matters when correcting at least one axis
func (o Options) Validate() error {
	if o.Axes < 0 || o.Axes > 2 {
		return fmt.Errorf("light correction axes %d outside [0,2]", o.Axes)
	}
	if o.Axes > 0 && !(o.BorderFraction > 0 && o.BorderFraction < 0.5) {
		return fmt.Errorf("border fraction %g outside (0,0.5)", o.BorderFraction)
	}
	return nil
}

// Returns the first index in the first half of the profile whose value exceeds the mean of the
// profile before it by more than 6 standard deviations. Before each test, points beyond
// 3 standard deviations are excluded, and stay excluded for later indices. The standard deviation
// is at least 1. Only entries marked valid take part.
func FindRising(profile []float64, valid []bool) (int, error) {
	mask := append([]bool(nil), valid...)
	for i := 3; i < len(profile)/2; i++ {
		head, headMask := profile[:i], mask[:i]
		mean, std, n := stats.MaskedMeanStdDev(head, headMask)
		if n < 3 {
			continue
		}
		for j, v := range head {
			if headMask[j] && math.Abs(v-mean) > 3*std {
				headMask[j] = false
			}
		}
		mean, std, n = stats.MaskedMeanStdDev(head, headMask)
		if n < 3 {
			continue
		}
		std = math.Max(1, std)
		if valid[i] && profile[i] > mean+6*std {
			return i, nil
		}
	}
	return 0, ErrNoRisingEdgeDetected
}

// Returns the per-column mean of rows [y1, y2) over valid pixels. Columns without any valid pixel are invalid
func columnMeans(img *fits.Image, valid []bool, y1, y2 int) (means []float64, ok []bool) {
	w := img.Width()
	means, ok = make([]float64, w), make([]bool, w)
	for x := 0; x < w; x++ {
		sum, n := 0.0, 0
		for y := y1; y < y2; y++ {
			if valid[y*w+x] {
				sum, n = sum+float64(img.Data[y*w+x]), n+1
			}
		}
		if n > 0 {
			means[x], ok[x] = sum/float64(n), true
		}
	}
	return means, ok
}

// Rotates the profile to the right by shift entries, wrapping around
func roll(profile []float64, valid []bool, shift int) ([]float64, []bool) {
	n := len(profile)
	res, resValid := make([]float64, n), make([]bool, n)
	for i := range profile {
		j := ((i+shift)%n + n) % n
		res[j], resValid[j] = profile[i], valid[i]
	}
	return res, resValid
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Removes a stray light gradient between the top and bottom border of the image. Each border band
// yields a column profile whose rising edge marks where the disk light starts. The offset between
// the two rising edges measures the tilt of the gradient. The background plane interpolates linearly
// between both profiles, each shifted by half the offset towards the other, on a canvas 20% taller
// than the image. It is rotated by the tilt angle and cropped back to the image height. The floor
// of the plane is subtracted first, so unlit borders stay unaffected.
// Returns the corrected image and the plane floor.
func CorrectAxis(img *fits.Image, valid []bool, borderFraction float64) (*fits.Image, float64, error) {
	w, h := img.Width(), img.Height()
	brd := int(float64(h) * borderFraction)
	if brd < 1 {
		brd = 1
	}
	curveA, validA := columnMeans(img, valid, 0, brd)
	curveB, validB := columnMeans(img, valid, h-brd, h)

	ca, err := FindRising(curveA, validA)
	if err != nil {
		return nil, 0, fmt.Errorf("top border: %w", err)
	}
	cb, err := FindRising(curveB, validB)
	if err != nil {
		return nil, 0, fmt.Errorf("bottom border: %w", err)
	}
	shift := cb - ca
	curveA, validA = roll(curveA, validA, floorDiv(shift, 2))
	curveB, validB = roll(curveB, validB, floorDiv(-shift, 2))

	// taller canvas, so the rotated plane still covers the image
	ph := int(float64(h) * 1.2)
	plane := fits.NewImageFromNaxisn([]int32{int32(w), int32(ph)}, nil)
	planeValid := make([]bool, w*ph)
	values := make([]float64, 0, w*ph)
	for y := 0; y < ph; y++ {
		t := float64(y) / float64(ph)
		for x := 0; x < w; x++ {
			if validA[x] && validB[x] {
				v := curveA[x]*(1-t) + curveB[x]*t
				plane.Data[y*w+x], planeValid[y*w+x] = float32(v), true
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return nil, 0, fmt.Errorf("%w: border bands hold no valid pixels", ErrNoRisingEdgeDetected)
	}
	bgLevel := stats.FastApproxQuantile(planeFloorQuantile, values)
	for i := range plane.Data {
		if planeValid[i] {
			plane.Data[i] -= float32(bgLevel)
		} else {
			plane.Data[i] = 0
		}
	}

	angle := math.Atan2(float64(shift)/2, float64(h)/2) * 180 / math.Pi
	rotated, err := geom.Warp(plane, geom.RotateAbout(-angle, float64(w)/2, float64(ph)/2), w, ph, 0)
	if err != nil {
		return nil, 0, err
	}

	start := ph/2 - h/2
	res := img.Clone()
	for y := 0; y < h; y++ {
		prow := rotated.Row(start + y)
		row := res.Row(y)
		for x := range row {
			if valid[y*w+x] {
				row[x] -= prow[x]
			}
		}
	}
	return res, bgLevel, nil
}

// Removes stray light gradients along the configured number of axes, first between top and
// bottom, then between left and right. An axis without a detectable rising edge is skipped,
// and its error returned in the list of warnings. Pixels below the visibility floor are left out
// of all statistics and set to the plane floor of the last corrected axis, or zero.
func Correct(img *fits.Image, opts Options) (*fits.Image, []error) {
	valid := make([]bool, len(img.Data))
	for i, v := range img.Data {
		valid[i] = v >= VisibilityFloor
	}
	bgLevel := 0.0
	var warnings []error

	res := img.Clone()
	if opts.Axes >= 1 {
		corrected, bg, err := CorrectAxis(res, valid, opts.BorderFraction)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("rows: %w", err))
		} else {
			res, bgLevel = corrected, bg
		}
	}
	if opts.Axes >= 2 {
		tr, trValid := res.Transpose(), transposeMask(valid, res.Width(), res.Height())
		corrected, bg, err := CorrectAxis(tr, trValid, opts.BorderFraction)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("columns: %w", err))
		} else {
			res, bgLevel = corrected.Transpose(), bg
		}
	}

	for i, ok := range valid {
		if !ok {
			res.Data[i] = float32(bgLevel)
		}
	}
	return res, warnings
}

func transposeMask(valid []bool, w, h int) []bool {
	res := make([]bool, len(valid))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			res[x*h+y] = valid[y*w+x]
		}
	}
	return res
}
