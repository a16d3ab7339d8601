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

package diag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/sunscan/internal/shape"
	"github.com/mlnoga/sunscan/internal/spectrum"
)

func TestPlotLineFit(t *testing.T) {
	lf := &spectrum.LineFit{
		Y1:      10,
		Minima:  []float64{30, 30.2, 45, 0},
		Found:   []bool{true, true, true, false},
		Inlier:  []bool{true, true, false, false},
		Columns: make([]float64, 20),
	}
	for y := range lf.Columns {
		lf.Columns[y] = 30 + 0.01*float64(y)
	}
	fileName := filepath.Join(t.TempDir(), "linefit.png")
	require.NoError(t, PlotLineFit(lf, fileName))
	fi, err := os.Stat(fileName)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestPlotEdges(t *testing.T) {
	detected := shape.EdgePointSet{
		{Rising: 10, Falling: 50, Valid: true},
		{Rising: 8, Falling: 52, Valid: true},
		{Rising: 30, Falling: 31, Valid: true},
		{},
	}
	filtered := detected.Clone()
	filtered[2].Valid = false
	e := &shape.Ellipse{CX: 1, CY: 30, Width: 22, Height: 2, Phi: 90}

	dir := t.TempDir()
	require.NoError(t, PlotEdges(detected, filtered, e, filepath.Join(dir, "edges.png")))
	require.NoError(t, PlotEdges(detected, filtered, nil, filepath.Join(dir, "edges-nofit.png")))
	_, err := os.Stat(filepath.Join(dir, "edges.png"))
	assert.NoError(t, err)
}
