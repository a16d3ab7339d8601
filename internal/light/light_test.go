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
	"testing"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allValid(n int) []bool {
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v
}

func TestFindRising(t *testing.T) {
	profile := make([]float64, 100)
	for i := range profile {
		profile[i] = 10 + float64(i%3)
		if i >= 30 {
			profile[i] = 100
		}
	}
	i, err := FindRising(profile, allValid(100))
	require.NoError(t, err)
	assert.Equal(t, 30, i)
}

func TestFindRisingIgnoresInvalidEntries(t *testing.T) {
	profile := make([]float64, 100)
	for i := range profile {
		profile[i] = 10
	}
	valid := allValid(100)
	profile[20], valid[20] = 1000, false
	profile[40] = 100
	i, err := FindRising(profile, valid)
	require.NoError(t, err)
	assert.Equal(t, 40, i)
}

func TestFindRisingOnlySearchesFirstHalf(t *testing.T) {
	profile := make([]float64, 100)
	for i := range profile {
		profile[i] = 10
		if i >= 60 {
			profile[i] = 100
		}
	}
	_, err := FindRising(profile, allValid(100))
	assert.True(t, errors.Is(err, ErrNoRisingEdgeDetected))
}

func newImage(w, h int, f func(x, y int) float32) *fits.Image {
	img := fits.NewImageFromNaxisn([]int32{int32(w), int32(h)}, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, f(x, y))
		}
	}
	return img
}

func TestCorrectRemovesVerticalStep(t *testing.T) {
	img := newImage(100, 80, func(x, y int) float32 {
		if x >= 40 {
			return 60
		}
		return 10
	})
	img.Set(50, 40, 0) // never scanned

	res, warnings := Correct(img, DefaultOptions())
	require.Len(t, warnings, 1, "columns are flat after the first pass")
	assert.True(t, errors.Is(warnings[0], ErrNoRisingEdgeDetected))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			assert.InDelta(t, 10, res.At(x, y), 1e-3, "pixel %d,%d", x, y)
		}
	}
	assert.Equal(t, float32(60), img.At(60, 40), "input must not be modified")
}

func TestCorrectRemovesTiltedStep(t *testing.T) {
	w, h := 120, 80
	img := newImage(w, h, func(x, y int) float32 {
		if float64(x) >= 40+10*float64(y)/float64(h) {
			return 60
		}
		return 10
	})
	res, warnings := Correct(img, Options{Axes: 1, BorderFraction: DefaultBorderFraction})
	require.Empty(t, warnings)
	for y := 10; y < 70; y++ {
		for _, x := range []int{20, 25, 30, 60, 70, 80} {
			assert.InDelta(t, 10, res.At(x, y), 1, "pixel %d,%d", x, y)
		}
	}
}

func TestCorrectLeavesFlatBackgroundUnchanged(t *testing.T) {
	img := newImage(100, 80, func(x, y int) float32 {
		dx, dy := float32(x-50), float32(y-40)
		if dx*dx+dy*dy < 25*25 {
			return 100
		}
		return 10
	})
	res, warnings := Correct(img, DefaultOptions())
	assert.Len(t, warnings, 2)
	assert.Equal(t, img.Data, res.Data)
}

func TestCorrectKeepsFlatBackgroundWithDetectedEdges(t *testing.T) {
	// a scanned stripe crosses both borders at the same columns, so both rising edges are found
	// without tilt. Elsewhere the background is flat and carries a small disk that stays clear of the borders.
	w, h := 100, 80
	stripe := func(x int) bool { return x >= 30 && x < 60 }
	disk := func(x, y int) bool { return x >= 5 && x < 25 && y >= 30 && y < 50 }
	img := newImage(w, h, func(x, y int) float32 {
		switch {
		case stripe(x):
			return 100
		case disk(x, y):
			return 200
		}
		return 10
	})

	_, bg, err := CorrectAxis(img, allValid(w*h), DefaultBorderFraction)
	require.NoError(t, err)
	assert.InDelta(t, 10, bg, 1e-6, "plane floor is the flat background")

	res, warnings := Correct(img, Options{Axes: 1, BorderFraction: DefaultBorderFraction})
	require.Empty(t, warnings)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if stripe(x) {
				assert.InDelta(t, 10, res.At(x, y), 1e-3, "stripe pixel %d,%d", x, y)
			} else {
				assert.InDelta(t, img.At(x, y), res.At(x, y), 1e-4, "pixel %d,%d", x, y)
			}
		}
	}

	// once flat, a second pass finds no edges and is the identity
	again, warnings := Correct(res, DefaultOptions())
	assert.Len(t, warnings, 2)
	assert.Equal(t, res.Data, again.Data)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.NoError(t, Options{Axes: 0, BorderFraction: 0}.Validate(), "border unused when disabled")
	assert.Error(t, Options{Axes: -1, BorderFraction: 0.05}.Validate())
	assert.Error(t, Options{Axes: 3, BorderFraction: 0.05}.Validate())
	assert.Error(t, Options{Axes: 1, BorderFraction: 0}.Validate())
	assert.Error(t, Options{Axes: 2, BorderFraction: 0.5}.Validate())
}

func TestCorrectSkipsColumnsWithoutBorderData(t *testing.T) {
	w, h := 100, 80
	img := newImage(w, h, func(x, y int) float32 {
		if x == 45 && y < 4 {
			return 0 // top border band never scanned in this column
		}
		if x >= 30 && x < 60 {
			return 100
		}
		return 10
	})
	res, warnings := Correct(img, Options{Axes: 1, BorderFraction: DefaultBorderFraction})
	require.Empty(t, warnings)
	assert.InDelta(t, 10, res.At(44, 40), 1e-3)
	assert.InDelta(t, 10, res.At(46, 40), 1e-3)
	assert.InDelta(t, 100, res.At(45, 40), 1e-3, "no plane value, column left as is")
	assert.InDelta(t, 10, res.At(45, 0), 1e-3, "unscanned pixel set to the plane floor")
}
