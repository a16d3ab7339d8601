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

package ops

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/light"
	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/mlnoga/sunscan/internal/shape"
	"github.com/mlnoga/sunscan/internal/spectrum"
)

// A recoverable failure of an optional refinement stage. The result is still delivered,
// with the stage skipped.
type Warning struct {
	Stage string
	Err   error
}

func (w Warning) Error() string { return w.Stage + ": " + w.Err.Error() }
func (w Warning) Unwrap() error { return w.Err }

// Output of a reconstruction, with the intermediate data needed for diagnostics
type Result struct {
	FileName     string
	Shifts       []float64
	Images       []*fits.Image // final image per shift
	Uncalibrated []*fits.Image // raw reconstruction per shift, before binning, dewarping and light correction
	LineFit      *spectrum.LineFit
	LineWidth    float64            // FWHM of the averaged line profile in pixels, 0 if unknown
	Detected     shape.EdgePointSet // edge crossings per frame before filtering
	EdgePoints   shape.EdgePointSet // edge crossings which passed the outlier filter
	Ellipse      *shape.Ellipse     // nil if disabled or the fit failed
	FitRMS       float64            // RMS distance of the edge points to the ellipse, in pixels
	Warnings     []Warning
}

func (r *Result) warn(stage string, err error) {
	r.Warnings = append(r.Warnings, Warning{Stage: stage, Err: err})
}

// Returns the first warning whose error matches target, if any
func (r *Result) Warning(target error) (Warning, bool) {
	for _, w := range r.Warnings {
		if errors.Is(w.Err, target) {
			return w, true
		}
	}
	return Warning{}, false
}

// Columns on either side of the line core sampled for the line profile
const lineProfileHalfWidth = 15

// Reconstructs the solar disk from a scanning video: fits the spectral line, extracts one image
// per wavelength shift, fits the disk outline and maps it to a circle, then removes stray light.
type OpReconstruct struct {
	OpBase
	Shifts       []float64           `json:"shifts"`       // wavelength offsets from the line core in pixels
	EdgeShift    float64             `json:"edgeShift"`    // offset used for disk edge detection, in the continuum
	Tolerance    float64             `json:"tolerance"`    // edge outlier tolerance in pixels
	MinEdgeGap   float64             `json:"minEdgeGap"`   // frames with a shorter disk chord are discarded
	FitEllipse   bool                `json:"fitEllipse"`   // fit and dewarp the disk outline
	FillFraction float64             `json:"fillFraction"` // fraction of the output covered by the disk diameter
	Size         int                 `json:"size"`         // output size, 0 for the video frame height
	Bin          bool                `json:"bin"`          // average scan columns when oversampled
	Line         spectrum.FitOptions `json:"line"`
	Light        light.Options       `json:"light"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpReconstructDefault() }) } // register the operator for JSON decoding

func NewOpReconstructDefault() *OpReconstruct {
	return &OpReconstruct{
		OpBase:       OpBase{Type: "reconstruct", Active: true},
		Shifts:       []float64{0},
		EdgeShift:    shape.DefaultEdgeShift,
		Tolerance:    shape.DefaultOutlierTolerance,
		MinEdgeGap:   shape.DefaultMinEdgeGap,
		FitEllipse:   true,
		FillFraction: shape.DefaultFillFraction,
		Bin:          true,
		Line:         spectrum.DefaultFitOptions(),
		Light:        light.DefaultOptions(),
	}
}

func (op *OpReconstruct) Apply(job *Job, c *Context) error {
	res, err := op.Reconstruct(job.FileName, c)
	if err != nil {
		return err
	}
	job.Result = res
	return nil
}

// Runs the reconstruction on the named video. Unreadable videos and failed line fits abort with
// an error. Failures of the ellipse fit, dewarping or light correction are returned as warnings.
func (op *OpReconstruct) Reconstruct(fileName string, c *Context) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	src, err := ser.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return op.reconstruct(src, fileName, c)
}

// Runs the reconstruction on an opened video
func (op *OpReconstruct) ReconstructSource(src ser.Source, fileName string, c *Context) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op.reconstruct(src, fileName, c)
}

// Checks the parameters, which may come from a config file or a JSON request
func (op *OpReconstruct) Validate() error {
	if len(op.Shifts) == 0 {
		return errors.New("reconstruct: no wavelength shifts given")
	}
	for _, s := range append([]float64{op.EdgeShift}, op.Shifts...) {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("reconstruct: invalid shift %g", s)
		}
	}
	if op.Size < 0 {
		return fmt.Errorf("reconstruct: negative output size %d", op.Size)
	}
	if op.FitEllipse {
		switch {
		case !(op.Tolerance > 0):
			return fmt.Errorf("reconstruct: edge tolerance %g must be positive", op.Tolerance)
		case !(op.MinEdgeGap >= 0):
			return fmt.Errorf("reconstruct: minimum edge gap %g must not be negative", op.MinEdgeGap)
		case !(op.FillFraction > 0 && op.FillFraction <= 1):
			return fmt.Errorf("reconstruct: fill fraction %g outside (0,1]", op.FillFraction)
		}
	}
	if err := op.Line.Validate(); err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}
	if err := op.Light.Validate(); err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}
	return nil
}

func (op *OpReconstruct) reconstruct(src ser.Source, fileName string, c *Context) (*Result, error) {
	log := c.Log
	log.Printf("reader", "Opened %s with %dx%d pixels, %d bit, %d frames",
		fileName, src.Width(), src.Height(), src.BitDepth(), src.FrameCount())
	if mb := op.estimateMB(src); c.BudgetMB > 0 && mb > c.BudgetMB {
		log.Printf("reader", "Warning: needs about %d MB, budget is %d MB of %d MB physical memory", mb, c.BudgetMB, c.MemoryMB)
	}

	avg, err := spectrum.MeanFrame(src, c.MaxThreads)
	if err != nil {
		return nil, err
	}
	y1, y2 := spectrum.FindIlluminatedRows(avg)
	log.Debugf(1, "spectrum", "Illuminated rows [%d,%d) of %d", y1, y2, avg.Height)

	lf, err := spectrum.FitLine(avg, y1, y2, op.Line)
	if err != nil {
		return nil, err
	}
	log.Printf("linefit", "Line at column %.2f..%.2f, %.1f%% of rows rejected, poly %v",
		floats.Min(lf.Columns), floats.Max(lf.Columns), 100*lf.RejectedFraction, lf.Poly.Coeffs)
	lineWidth := 0.0
	g, profileErr := lf.MeasureProfile(avg, lineProfileHalfWidth)
	if profileErr == nil {
		lineWidth = g.FWHM()
		log.Debugf(1, "linefit", "Line profile %v, FWHM %.2f px", g, lineWidth)
	}

	raw, err := spectrum.Reconstruct(src, lf, op.Shifts, c.MaxThreads)
	if err != nil {
		return nil, err
	}
	for _, img := range raw {
		img.FileName = fileName
	}
	log.Printf("reconstruct", "Reconstructed %d images of %s pixels", len(raw), raw[0].DimensionsToString())

	res := &Result{FileName: fileName, Shifts: op.Shifts, Uncalibrated: raw, LineFit: lf, LineWidth: lineWidth}
	if profileErr != nil {
		res.warn("profile", profileErr)
	}
	if op.FitEllipse {
		if err := op.fitEllipse(src, res, c); err != nil {
			return nil, err
		}
	}

	sz := op.Size
	if sz <= 0 {
		sz = src.Height()
	}
	res.Images = make([]*fits.Image, len(raw))
	for i, img := range raw {
		var out *fits.Image
		if op.Bin {
			out = spectrum.BinColumns(img)
		} else {
			out = img.Clone()
		}
		if res.Ellipse != nil {
			d, err := shape.Dewarp(out, *res.Ellipse, sz, op.FillFraction)
			if err != nil {
				res.warn(fmt.Sprintf("dewarp %d", i), err)
			} else {
				out = d
			}
		}
		if op.Light.Axes > 0 {
			corrected, warnings := light.Correct(out, op.Light)
			for _, w := range warnings {
				res.warn(fmt.Sprintf("light %d", i), w)
			}
			out = corrected
		}
		out.ID, out.FileName = i, fileName
		res.Images[i] = out
		log.Debugf(2, "reconstruct", "%d: shift %g gives %s pixels with %v", i, op.Shifts[i], out.DimensionsToString(), out.Stats())
	}

	for _, w := range res.Warnings {
		log.Printf("reconstruct", "Warning: %v", w)
	}
	return res, nil
}

// Detects, filters and fits the disk edges. Only I/O errors are returned, fit failures
// become warnings.
func (op *OpReconstruct) fitEllipse(src ser.Source, res *Result, c *Context) error {
	detected, err := shape.DetectEdgePoints(src, res.LineFit, op.EdgeShift, c.MaxThreads)
	if err != nil {
		return err
	}
	res.Detected = detected
	res.EdgePoints = shape.FilterEdgePoints(detected, op.Tolerance, op.MinEdgeGap)
	c.Log.Printf("shape", "%d of %d frames with disk edges, %d after filtering",
		detected.ValidCount(), len(detected), res.EdgePoints.ValidCount())

	xs, ys := res.EdgePoints.Points()
	e, err := shape.FitEllipse(xs, ys)
	if err != nil {
		res.warn("ellipse", err)
		return nil
	}
	res.Ellipse = &e
	if r := shape.FitResiduals(e, xs, ys); len(r) > 0 {
		res.FitRMS = floats.Norm(r, 2) / math.Sqrt(float64(len(r)))
	}
	c.Log.Printf("shape", "Fitted %v, RMS residual %.2f px", e, res.FitRMS)
	return nil
}

// Rough memory need in MB: the mapped video plus four float32 images per shift
func (op *OpReconstruct) estimateMB(src ser.Source) int {
	video := int64(src.Width()) * int64(src.Height()) * int64(src.FrameCount()) * int64(src.BitDepth()) / 8
	sz := int64(op.Size)
	if sz <= 0 {
		sz = int64(src.Height())
	}
	perShift := 4 * (2*int64(src.FrameCount())*int64(src.Height()) + 2*sz*sz)
	return int((video + int64(len(op.Shifts))*perShift) >> 20)
}
