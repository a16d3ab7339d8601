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

package ser

// A raw video frame of unsigned integer samples, row major
type Frame struct {
	Width  int
	Height int
	Data   []uint32
}

func (f *Frame) At(x, y int) uint32 { return f.Data[y*f.Width+x] }

// Returns the frame rotated 90 degrees counter-clockwise. Width and height swap
func (f *Frame) Rot90() *Frame {
	w, h := f.Width, f.Height
	out := &Frame{Width: h, Height: w, Data: make([]uint32, len(f.Data))}
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			out.Data[y*h+x] = f.Data[x*w+(w-1-y)]
		}
	}
	return out
}

// Adds the frame to a running sum of the same dimensions
func (f *Frame) AddTo(sum []float64) {
	for i, v := range f.Data {
		sum[i] += float64(v)
	}
}
