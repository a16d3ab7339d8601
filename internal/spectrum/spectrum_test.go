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
	"math"
	"path/filepath"
	"testing"

	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Creates an average frame whose rows have a parabolic minimum at column center(y)
func parabolicAverage(w, h int, center func(y int) float64) *Average {
	a := &Average{Width: w, Height: h, Data: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		c := center(y)
		for x := 0; x < w; x++ {
			a.Data[y*w+x] = 1000 + 5*(float64(x)-c)*(float64(x)-c)
		}
	}
	return a
}

func lineCenter(y int) float64 { return 20.3 + 0.01*float64(y) }

func TestFitLineRecoversSubPixelCenter(t *testing.T) {
	avg := parabolicAverage(64, 400, lineCenter)
	// three rows with a spurious minimum far off the line
	for y := 100; y < 103; y++ {
		for x := 0; x < 64; x++ {
			avg.Data[y*64+x] = 1000 + 5*(float64(x)-60)*(float64(x)-60)
		}
	}

	lf, err := FitLine(avg, 0, 400, DefaultFitOptions())
	require.NoError(t, err)
	require.Len(t, lf.Columns, 400)
	for y := 0; y < 400; y++ {
		assert.InDelta(t, lineCenter(y), lf.Columns[y], 0.1, "row %d", y)
	}
	for y := 100; y < 103; y++ {
		assert.False(t, lf.Inlier[y], "row %d", y)
	}
	assert.InDelta(t, 3.0/400, lf.RejectedFraction, 1e-9)
}

func TestFitLineWithDenoise(t *testing.T) {
	avg := parabolicAverage(64, 400, lineCenter)
	opts := DefaultFitOptions()
	opts.Denoise = true
	lf, err := FitLine(avg, 50, 350, opts)
	require.NoError(t, err)
	for _, y := range []int{0, 60, 200, 340, 399} {
		assert.InDelta(t, lineCenter(y), lf.Columns[y], 0.1, "row %d", y)
	}
}

func TestFitLineClampsToFrame(t *testing.T) {
	avg := parabolicAverage(32, 100, func(y int) float64 { return 2 + 0.5*float64(y) })
	lf, err := FitLine(avg, 0, 40, DefaultFitOptions())
	require.NoError(t, err)
	for _, c := range lf.Columns {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 31.0)
	}
	assert.Equal(t, 31.0, lf.Columns[99])
}

func TestFitLineInsufficientData(t *testing.T) {
	avg := &Average{Width: 16, Height: 50, Data: make([]float64, 16*50)}
	_, err := FitLine(avg, 0, 50, DefaultFitOptions())
	assert.True(t, errors.Is(err, ErrInsufficientLineData))

	_, err = FitLine(avg, 30, 20, DefaultFitOptions())
	assert.True(t, errors.Is(err, ErrInsufficientLineData))
}

func TestFitLineRejectsInvalidOptions(t *testing.T) {
	avg := parabolicAverage(64, 400, lineCenter)
	for name, modify := range map[string]func(o *FitOptions){
		"window":        func(o *FitOptions) { o.Window = -2 },
		"median window": func(o *FitOptions) { o.MedianWindow = -1 },
		"tolerance":     func(o *FitOptions) { o.Tolerance = math.NaN() },
		"degree":        func(o *FitOptions) { o.Degree = -1 },
	} {
		opts := DefaultFitOptions()
		modify(&opts)
		assert.NotPanics(t, func() {
			_, err := FitLine(avg, 0, 400, opts)
			assert.Error(t, err, name)
		}, name)
	}
}

func TestFindIlluminatedRows(t *testing.T) {
	a := &Average{Width: 4, Height: 400, Data: make([]float64, 4*400)}
	for y := 0; y < 400; y++ {
		v := 10.0
		if y >= 100 && y < 300 {
			v = 1000
		}
		for x := 0; x < 4; x++ {
			a.Data[y*4+x] = v
		}
	}
	y1, y2 := FindIlluminatedRows(a)
	assert.Equal(t, 100, y1)
	assert.Equal(t, 300, y2)

	flat := &Average{Width: 4, Height: 50, Data: make([]float64, 4*50)}
	y1, y2 = FindIlluminatedRows(flat)
	assert.Equal(t, 0, y1)
	assert.Equal(t, 50, y2)
}

func TestExtractLinesInterpolatesRamp(t *testing.T) {
	f := &ser.Frame{Width: 10, Height: 3, Data: make([]uint32, 30)}
	for y := 0; y < 3; y++ {
		for x := 0; x < 10; x++ {
			f.Data[y*10+x] = uint32(100 * x)
		}
	}
	lines := ExtractLines(f, []float64{2.25, 3.5, 8.9}, []float64{0, 1, -5})
	require.Len(t, lines, 3)
	assert.InDeltaSlice(t, []float64{225, 350, 800}, lines[0], 1e-9)
	assert.InDeltaSlice(t, []float64{325, 450, 800}, lines[1], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 0, 390}, lines[2], 1e-9)
}

func writeVideo(t *testing.T, w, h, frames int, value func(i, x, y int) uint32) ser.Source {
	fileName := filepath.Join(t.TempDir(), "video.ser")
	err := ser.WriteFile(fileName, ser.NewHeader(w, h, 16, frames), func(i int) []uint32 {
		data := make([]uint32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = value(i, x, y)
			}
		}
		return data
	})
	require.NoError(t, err)
	src, err := ser.Open(fileName)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestMeanFrame(t *testing.T) {
	src := writeVideo(t, 16, 20, 5, func(i, x, y int) uint32 { return uint32(10*i + x + y) })
	avg, err := MeanFrame(src, 2)
	require.NoError(t, err)
	assert.Equal(t, 16, avg.Width)
	assert.Equal(t, 20, avg.Height)
	assert.InDelta(t, 20+3+4, avg.At(3, 4), 1e-9)
}

func TestReconstructStacksColumnsInFrameOrder(t *testing.T) {
	src := writeVideo(t, 16, 20, 7, func(i, x, y int) uint32 { return uint32(100*i + 10*x + y) })
	columns := make([]float64, 20)
	for y := range columns {
		columns[y] = 3.5
	}
	imgs, err := Reconstruct(src, &LineFit{Columns: columns}, []float64{0, 1}, 3)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	for s, img := range imgs {
		assert.Equal(t, []int32{7, 20}, img.Naxisn)
		for i := 0; i < 7; i++ {
			for y := 0; y < 20; y++ {
				assert.InDelta(t, float32(100*i)+10*(3.5+float32(s))+float32(y), img.At(i, y), 1e-3)
			}
		}
	}

	_, err = Reconstruct(src, &LineFit{Columns: columns[:5]}, []float64{0}, 1)
	assert.Error(t, err)
}

func TestBinColumns(t *testing.T) {
	src := writeVideo(t, 3, 4, 13, func(i, x, y int) uint32 { return uint32(i) })
	imgs, err := Reconstruct(src, &LineFit{Columns: []float64{1, 1, 1, 1}}, []float64{0}, 2)
	require.NoError(t, err)
	require.Equal(t, []int32{13, 4}, imgs[0].Naxisn)

	// groups of 3 frames, cropped to 12 columns
	binned := BinColumns(imgs[0])
	require.Equal(t, []int32{12, 4}, binned.Naxisn)
	for y := 0; y < 4; y++ {
		assert.InDelta(t, 1, binned.At(0, y), 1e-6)
		for x := 1; x <= 10; x++ {
			assert.InDelta(t, float64(x), binned.At(x, y), 1e-5)
		}
		assert.InDelta(t, 10, binned.At(11, y), 1e-6)
	}

	tall := imgs[0].Transpose()
	same := BinColumns(tall)
	assert.Equal(t, tall.Data, same.Data)
}

func TestMeasureProfile(t *testing.T) {
	w, h := 64, 200
	avg := &Average{Width: w, Height: h, Data: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		c := lineCenter(y)
		for x := 0; x < w; x++ {
			d := (float64(x) - c) / 3
			avg.Data[y*w+x] = 1000 - 800*math.Exp(-d*d/2)
		}
	}
	lf, err := FitLine(avg, 0, h, DefaultFitOptions())
	require.NoError(t, err)

	g, err := lf.MeasureProfile(avg, 15)
	require.NoError(t, err)
	assert.InDelta(t, 0, g.Mu, 0.2)
	assert.InDelta(t, 2.3548*3, g.FWHM(), 0.3)
	assert.InDelta(t, -800, g.Amplitude, 20)
}

func TestFitLineWithDespeckle(t *testing.T) {
	avg := parabolicAverage(64, 400, lineCenter)
	// a column of dead pixels next to the line in every row
	for y := 0; y < 400; y += 2 {
		avg.Data[y*64+50] = 0
	}
	opts := DefaultFitOptions()
	opts.Despeckle = true
	lf, err := FitLine(avg, 0, 400, opts)
	require.NoError(t, err)
	assert.Zero(t, lf.RejectedFraction)
	for _, y := range []int{10, 200, 390} {
		assert.InDelta(t, lineCenter(y), lf.Columns[y], 0.1, "row %d", y)
	}
}
