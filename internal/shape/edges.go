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

package shape

import (
	"fmt"

	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/mlnoga/sunscan/internal/spectrum"
	"gonum.org/v1/gonum/floats"
)

// Default column offset from the line core for edge detection. Lands in the line wing,
// where the disk stands out sharply against the sky
const DefaultEdgeShift = 10

// The two disk boundary crossings of one frame's profile, in fractional rows
type EdgePoint struct {
	Rising  float64 // first crossing of the threshold from below
	Falling float64 // first crossing back below the threshold after Rising
	Range   float64 // max-min of the profile
	Valid   bool
}

// Disk boundary crossings for every frame of a video, indexed by frame
type EdgePointSet []EdgePoint

// Returns a deep copy of the set
func (s EdgePointSet) Clone() EdgePointSet {
	return append(EdgePointSet(nil), s...)
}

// Returns the number of valid entries
func (s EdgePointSet) ValidCount() int {
	n := 0
	for _, p := range s {
		if p.Valid {
			n++
		}
	}
	return n
}

// Returns the valid crossings as (frame index, row) pairs, two per valid frame
func (s EdgePointSet) Points() (xs, ys []float64) {
	for i, p := range s {
		if p.Valid {
			xs, ys = append(xs, float64(i), float64(i)), append(ys, p.Rising, p.Falling)
		}
	}
	return xs, ys
}

// Finds the disk boundary in a single profile. The threshold lies at a quarter of the way from
// min to max. The rising crossing goes from <= threshold to > threshold, the falling crossing back
// from > threshold to <= threshold after it. Both are refined by linear interpolation between the
// bracketing samples. The result is invalid if either crossing is missing.
func DetectEdges(profile []float64) (p EdgePoint) {
	if len(profile) < 2 {
		return p
	}
	min, max := floats.Min(profile), floats.Max(profile)
	p.Range = max - min
	thd := min + (max-min)/4

	crossing := func(i int) float64 {
		a, b := profile[i], profile[i+1]
		return float64(i) + (thd-a)/(b-a)
	}

	rise := -1
	for i := 0; i < len(profile)-1; i++ {
		if profile[i] <= thd && profile[i+1] > thd {
			rise = i
			break
		}
	}
	if rise < 0 {
		return p
	}
	for j := rise + 1; j < len(profile)-1; j++ {
		if profile[j] > thd && profile[j+1] <= thd {
			p.Rising, p.Falling, p.Valid = crossing(rise), crossing(j), true
			return p
		}
	}
	return p
}

// Detects the disk boundary crossings in every frame of the video, sampling each frame along the
// fitted line offset by shift columns. Frames whose profile range is below a quarter of the
// largest range across the video missed the disk and are marked invalid.
func DetectEdgePoints(src ser.Source, lf *spectrum.LineFit, shift float64, maxThreads int) (EdgePointSet, error) {
	pts := make(EdgePointSet, src.FrameCount())
	err := spectrum.ForEachFrame(src, maxThreads, func(i int, f *ser.Frame) error {
		profile := make([]float64, f.Height)
		spectrum.ExtractLine(f, lf.Columns, shift, profile)
		pts[i] = DetectEdges(profile)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("edge detection: %w", err)
	}

	maxRange := 0.0
	for _, p := range pts {
		if p.Range > maxRange {
			maxRange = p.Range
		}
	}
	for i := range pts {
		if maxRange <= 0 || pts[i].Range < maxRange/4 {
			pts[i].Valid = false
		}
	}
	return pts, nil
}
