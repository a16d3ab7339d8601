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

package synth

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mlnoga/sunscan/internal/ser"
)

// Parameters of a synthetic scan. The spectrum runs along the columns of each frame, the slit
// along the rows. The disk is an ellipse in the plane of frame index and row.
type Options struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Frames     int     `json:"frames"`
	Depth      int     `json:"depth"`      // bits per sample, 8 or 16
	LineColumn float64 `json:"lineColumn"` // column of the absorption line at the center row
	LineSigma  float64 `json:"lineSigma"`
	LineDepth  float64 `json:"lineDepth"` // fraction of the continuum absorbed at the line core
	Smile      float64 `json:"smile"`     // column offset of the line at the first and last row
	CenterX    float64 `json:"centerX"`   // disk center, in frames
	CenterY    float64 `json:"centerY"`   // disk center, in rows
	SemiX      float64 `json:"semiX"`     // disk semi-axis along the scan, in frames
	SemiY      float64 `json:"semiY"`     // disk semi-axis along the slit, in rows
	Continuum  float64 `json:"continuum"`
	Sky        float64 `json:"sky"`
	Noise      float64 `json:"noise"` // standard deviation of additive gaussian noise, 0 for none
	Seed       uint64  `json:"seed"`
}

// Returns a small 16-bit scan with a stationary gaussian line and a disk centered in the video
func DefaultOptions() Options {
	return Options{
		Width: 64, Height: 500, Frames: 50, Depth: 16,
		LineColumn: 30, LineSigma: 3, LineDepth: 0.8,
		CenterX: 25, CenterY: 250, SemiX: 20, SemiY: 200,
		Continuum: 1000, Sky: 50,
	}
}

func (o Options) validate() error {
	if o.Width < 4 || o.Height < 4 || o.Frames < 1 {
		return fmt.Errorf("synth: invalid geometry %dx%d with %d frames", o.Width, o.Height, o.Frames)
	}
	if o.Depth != 8 && o.Depth != 16 {
		return fmt.Errorf("synth: unsupported depth %d", o.Depth)
	}
	if !(o.SemiX > 0) || !(o.SemiY > 0) || !(o.LineSigma > 0) {
		return fmt.Errorf("synth: disk semi-axes and line width must be positive")
	}
	return nil
}

// Returns the column of the line center in the given row
func (o Options) LineAt(y int) float64 {
	half := float64(o.Height-1) / 2
	t := (float64(y) - half) / half
	return o.LineColumn + o.Smile*t*t
}

// Returns whether the given row of frame i lies on the disk
func (o Options) OnDisk(i, y int) bool {
	dx := (float64(i) - o.CenterX) / o.SemiX
	dy := (float64(y) - o.CenterY) / o.SemiY
	return dx*dx+dy*dy <= 1
}

// Renders frame i as row-major samples. The noise source is optional.
func (o Options) Frame(i int, noise *distuv.Normal) []uint32 {
	maxVal := float64(uint32(1)<<uint(o.Depth) - 1)
	data := make([]uint32, o.Width*o.Height)
	for y := 0; y < o.Height; y++ {
		onDisk := o.OnDisk(i, y)
		center := o.LineAt(y)
		for x := 0; x < o.Width; x++ {
			v := o.Sky
			if onDisk {
				d := (float64(x) - center) / o.LineSigma
				v = o.Continuum * (1 - o.LineDepth*math.Exp(-d*d/2))
			}
			if noise != nil {
				v += noise.Rand()
			}
			data[y*o.Width+x] = uint32(math.Round(math.Max(0, math.Min(maxVal, v))))
		}
	}
	return data
}

// Writes the scan as SER video
func WriteFile(fileName string, o Options) error {
	if err := o.validate(); err != nil {
		return err
	}
	var noise *distuv.Normal
	if o.Noise > 0 {
		noise = &distuv.Normal{Mu: 0, Sigma: o.Noise, Src: rand.NewSource(o.Seed)}
	}
	h := ser.NewHeader(o.Width, o.Height, o.Depth, o.Frames)
	return ser.WriteFile(fileName, h, func(i int) []uint32 { return o.Frame(i, noise) })
}
