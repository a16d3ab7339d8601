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
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mlnoga/sunscan/internal/stats"
)

// Name of a colour map for display output
type ColorMap string

const (
	ColorMapOrangeEnhanced ColorMap = "orange-enhanced" // contrast enhanced, tinted like an H-alpha view
	ColorMapEnhanced       ColorMap = "enhanced"        // contrast enhanced grayscale
	ColorMapLinear         ColorMap = "linear"          // no mapping
)

// Validates a colour map name
func ParseColorMap(name string) (ColorMap, error) {
	switch cm := ColorMap(name); cm {
	case ColorMapOrangeEnhanced, ColorMapEnhanced, ColorMapLinear:
		return cm, nil
	}
	return "", fmt.Errorf("unknown color map '%s'", name)
}

// Black and white point quantiles for normalization
const (
	normLowQuantile  = 0.001
	normHighQuantile = 0.999
)

// Returns a copy of the grayscale image normalized to [0,1]. The black point is the 0.1% quantile,
// the white point the 99.9% quantile divided by the brightness factor. Values are clipped.
func (f *Image) Normalize(brightness float32) *Image {
	data := make([]float64, 0, len(f.Data))
	for _, d := range f.Data {
		if !math.IsNaN(float64(d)) {
			data = append(data, float64(d))
		}
	}
	res := NewImageFromImage(f)
	if len(data) == 0 {
		return res
	}
	lo := float32(stats.FastApproxQuantile(normLowQuantile, data))
	hi := float32(stats.FastApproxQuantile(normHighQuantile, data))
	if brightness > 0 {
		hi = lo + (hi-lo)/brightness
	}
	scale := float32(0)
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	for i, d := range f.Data {
		v := (d - lo) * scale
		if math.IsNaN(float64(v)) || v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		res.Data[i] = v
	}
	return res
}

// Contrast enhancement curve on [0,1]: lifts the faint limb and prominences, compresses the bright disk
func enhance(v float64) float64 {
	return math.Pow(v, 0.7)
}

// One stop of a colour gradient
type gradientStop struct {
	Col colorful.Color
	Pos float64
}

// Stops for the orange tint, from black sky through deep red to a pale disk center
var orangeGradient = []gradientStop{
	{mustParseHex("#000000"), 0.0},
	{mustParseHex("#4a0e00"), 0.25},
	{mustParseHex("#b03a00"), 0.5},
	{mustParseHex("#f08c1e"), 0.75},
	{mustParseHex("#fff2d8"), 1.0},
}

func mustParseHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Returns the gradient colour at position t in [0,1], blended in HCL space
func interpolateGradient(stops []gradientStop, t float64) colorful.Color {
	for i := 0; i < len(stops)-1; i++ {
		c1, c2 := stops[i], stops[i+1]
		if c1.Pos <= t && t <= c2.Pos {
			t = (t - c1.Pos) / (c2.Pos - c1.Pos)
			return c1.Col.BlendHcl(c2.Col, t).Clamped()
		}
	}
	return stops[len(stops)-1].Col
}

// Number of entries in colour lookup tables
const lutSize = 1024

// Applies the colour map to a normalized grayscale image with values in [0,1].
// Returns a grayscale image for the linear and enhanced maps, a three-channel RGB image for orange-enhanced.
func (f *Image) ApplyColorMap(cm ColorMap) (*Image, error) {
	switch cm {
	case ColorMapLinear:
		return f.Clone(), nil

	case ColorMapEnhanced:
		res := NewImageFromImage(f)
		for i, d := range f.Data {
			res.Data[i] = float32(enhance(clamp01(float64(d))))
		}
		return res, nil

	case ColorMapOrangeEnhanced:
		var lut [lutSize][3]float32
		for i := range lut {
			c := interpolateGradient(orangeGradient, enhance(float64(i)/(lutSize-1)))
			lut[i] = [3]float32{float32(c.R), float32(c.G), float32(c.B)}
		}
		size := int(f.Pixels)
		res := NewImageFromNaxisn([]int32{f.Naxisn[0], f.Naxisn[1], 3}, nil)
		res.ID, res.FileName = f.ID, f.FileName
		for i, d := range f.Data[:size] {
			rgb := lut[int(clamp01(float64(d))*(lutSize-1)+0.5)]
			res.Data[i], res.Data[i+size], res.Data[i+2*size] = rgb[0], rgb[1], rgb[2]
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown color map '%s'", cm)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
