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
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mlnoga/sunscan/internal/shape"
	"github.com/mlnoga/sunscan/internal/spectrum"
)

var (
	colorPoints   = color.RGBA{R: 40, G: 90, B: 200, A: 255}
	colorRejected = color.RGBA{R: 200, G: 60, B: 40, A: 255}
	colorFit      = color.RGBA{R: 20, G: 20, B: 20, A: 255}
)

// Size of saved plots
var (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// Plots the line minima found per row, the rejected ones and the fitted polynomial, and saves
// the plot to the given file. The format follows the file name suffix.
func PlotLineFit(lf *spectrum.LineFit, fileName string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Line fit, %.1f%% of rows rejected", 100*lf.RejectedFraction)
	p.X.Label.Text = "row"
	p.Y.Label.Text = "column"

	inliers := make(plotter.XYs, 0, len(lf.Minima))
	outliers := make(plotter.XYs, 0)
	for i, m := range lf.Minima {
		if !lf.Found[i] {
			continue
		}
		pt := plotter.XY{X: float64(lf.Y1 + i), Y: m}
		if lf.Inlier[i] {
			inliers = append(inliers, pt)
		} else {
			outliers = append(outliers, pt)
		}
	}
	fit := make(plotter.XYs, len(lf.Columns))
	for y, c := range lf.Columns {
		fit[y] = plotter.XY{X: float64(y), Y: c}
	}

	if err := addScatter(p, "minima", inliers, colorPoints); err != nil {
		return err
	}
	if err := addScatter(p, "rejected", outliers, colorRejected); err != nil {
		return err
	}
	if err := addLine(p, "fit", fit, colorFit); err != nil {
		return err
	}
	p.Legend.Top = true
	return p.Save(PlotWidth, PlotHeight, fileName)
}

// Plots the edge crossings of all frames, marks those removed by filtering, overlays the fitted
// ellipse if there is one, and saves the plot to the given file.
func PlotEdges(detected, filtered shape.EdgePointSet, e *shape.Ellipse, fileName string) error {
	p := plot.New()
	p.Title.Text = "Disk edges"
	if e != nil {
		p.Title.Text = fmt.Sprintf("Disk edges, %v", *e)
	}
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "row"

	kept := make(plotter.XYs, 0, 2*len(detected))
	removed := make(plotter.XYs, 0)
	for i, d := range detected {
		if !d.Valid {
			continue
		}
		pts := []plotter.XY{{X: float64(i), Y: d.Rising}, {X: float64(i), Y: d.Falling}}
		if i < len(filtered) && filtered[i].Valid {
			kept = append(kept, pts...)
		} else {
			removed = append(removed, pts...)
		}
	}
	if err := addScatter(p, "edges", kept, colorPoints); err != nil {
		return err
	}
	if err := addScatter(p, "removed", removed, colorRejected); err != nil {
		return err
	}
	if e != nil {
		const n = 360
		outline := make(plotter.XYs, n+1)
		for k := 0; k <= n; k++ {
			x, y := e.Point(2 * math.Pi * float64(k) / n)
			outline[k] = plotter.XY{X: x, Y: y}
		}
		if err := addLine(p, "ellipse", outline, colorFit); err != nil {
			return err
		}
	}
	p.Legend.Top = true
	return p.Save(PlotWidth, PlotHeight, fileName)
}

func addScatter(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("plotting %s: %w", label, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("plotting %s: %w", label, err)
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(label, l)
	return nil
}
