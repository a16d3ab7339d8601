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

import "math"

// Default tolerance for edge points deviating from their local moving average, in rows
const DefaultOutlierTolerance = 8

// Minimum plausible distance between the two crossings of a frame, in rows
const DefaultMinEdgeGap = 10

// Returns a copy of the edge points with outliers marked invalid. Frames whose crossings are
// closer than minGap are invalid. Then, the frame deviating most from the length-3 moving average
// of its valid neighbours is invalidated, for either crossing, until no deviation exceeds
// tolerance. Averages only cover valid frames, so a spike never drags its neighbours out.
func FilterEdgePoints(pts EdgePointSet, tolerance, minGap float64) EdgePointSet {
	res := pts.Clone()
	for i := range res {
		if res[i].Valid && math.Abs(res[i].Falling-res[i].Rising) < minGap {
			res[i].Valid = false
		}
	}

	for {
		worst, worstDev := -1, tolerance
		for i := range res {
			if !res[i].Valid {
				continue
			}
			if dev := deviation(res, i); dev > worstDev {
				worst, worstDev = i, dev
			}
		}
		if worst < 0 {
			return res
		}
		res[worst].Valid = false
	}
}

// Returns the larger deviation of the two crossings of frame i from their moving averages
// over the valid frames among i-1, i and i+1
func deviation(pts EdgePointSet, i int) float64 {
	sumR, sumF, n := 0.0, 0.0, 0
	for j := i - 1; j <= i+1; j++ {
		if j >= 0 && j < len(pts) && pts[j].Valid {
			sumR, sumF, n = sumR+pts[j].Rising, sumF+pts[j].Falling, n+1
		}
	}
	devR := math.Abs(pts[i].Rising - sumR/float64(n))
	devF := math.Abs(pts[i].Falling - sumF/float64(n))
	return math.Max(devR, devF)
}
