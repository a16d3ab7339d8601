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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mlnoga/sunscan/internal/diag"
	"github.com/mlnoga/sunscan/internal/fits"
)

// Range of raw sample values kept when writing unnormalized integer images
const rawWhite = 65535

// Writes the reconstructed images to files. The file pattern may contain {name} for the video's
// base name, {i} for the index and {shift} for the wavelength shift. With several shifts and
// neither {i} nor {shift} in the pattern, the index is appended to the base name.
type OpExport struct {
	OpBase
	FilePattern  string  `json:"filePattern"`
	Raw          bool    `json:"raw"`          // write sample values without normalization or colour mapping
	ColorMap     string  `json:"colorMap"`     // orange-enhanced, enhanced or linear
	Brightness   float32 `json:"brightness"`   // divides the white point of the normalization
	Uncalibrated string  `json:"uncalibrated"` // optional pattern for the raw reconstructions, written as is
}

func init() { SetOperatorFactory(func() Operator { return NewOpExportDefault() }) } // register the operator for JSON decoding

func NewOpExportDefault() *OpExport { return NewOpExport("", string(fits.ColorMapOrangeEnhanced), 1) }

func NewOpExport(filePattern, colorMap string, brightness float32) *OpExport {
	return &OpExport{
		OpBase:      OpBase{Type: "export", Active: filePattern != ""},
		FilePattern: filePattern,
		ColorMap:    colorMap,
		Brightness:  brightness,
	}
}

// Expands the placeholders of a file name pattern
func ExpandPattern(pattern, videoName string, i int, shift float64, n int) string {
	name := strings.TrimSuffix(filepath.Base(videoName), filepath.Ext(videoName))
	s := strings.ReplaceAll(pattern, "{name}", name)
	if n > 1 && !strings.Contains(s, "{i}") && !strings.Contains(s, "{shift}") {
		ext := filepath.Ext(s)
		s = strings.TrimSuffix(s, ext) + "_{i}" + ext
	}
	s = strings.ReplaceAll(s, "{i}", strconv.Itoa(i))
	return strings.ReplaceAll(s, "{shift}", strconv.FormatFloat(shift, 'g', -1, 64))
}

// Returns whether the first output for the given video already exists
func (op *OpExport) Exists(videoName string, shifts []float64) bool {
	if len(shifts) == 0 {
		return false
	}
	_, err := os.Stat(ExpandPattern(op.FilePattern, videoName, 0, shifts[0], len(shifts)))
	return err == nil
}

func (op *OpExport) Apply(job *Job, c *Context) error {
	res := job.Result
	if res == nil {
		return fmt.Errorf("%s operator without reconstruction result", op.Type)
	}
	cm, err := fits.ParseColorMap(op.ColorMap)
	if err != nil {
		return err
	}
	for i, img := range res.Images {
		res.annotate(img, i)
		fileName := ExpandPattern(op.FilePattern, res.FileName, i, res.Shifts[i], len(res.Images))
		if err := op.write(img, fileName, cm); err != nil {
			return fmt.Errorf("%d: error writing to file %s: %w", i, fileName, err)
		}
		c.Log.Printf("export", "%d: Wrote %s pixel image to %s", i, img.DimensionsToString(), fileName)
		job.Outputs = append(job.Outputs, fileName)
	}
	if op.Uncalibrated != "" {
		for i, img := range res.Uncalibrated {
			res.annotate(img, i)
			img.Header.History = append(img.Header.History, "uncalibrated")
			fileName := ExpandPattern(op.Uncalibrated, res.FileName, i, res.Shifts[i], len(res.Uncalibrated))
			if err := img.WriteImageFile(fileName, 0, rawWhite, 1); err != nil {
				return fmt.Errorf("%d: error writing to file %s: %w", i, fileName, err)
			}
			job.Outputs = append(job.Outputs, fileName)
		}
	}
	return nil
}

func (op *OpExport) write(img *fits.Image, fileName string, cm fits.ColorMap) error {
	if op.Raw || isFITS(fileName) {
		return img.WriteImageFile(fileName, 0, rawWhite, 1)
	}
	mapped, err := img.Normalize(op.Brightness).ApplyColorMap(cm)
	if err != nil {
		return err
	}
	return mapped.WriteImageFile(fileName, 0, 1, 1)
}

// Records the provenance of image i in its header, for FITS output
func (res *Result) annotate(img *fits.Image, i int) {
	h := &img.Header
	h.Strings["OBJECT"] = "Sun"
	h.Strings["VIDEO"] = filepath.Base(res.FileName)
	h.Floats["SHIFT"] = float32(res.Shifts[i])
	h.Floats["LINEFWHM"] = float32(res.LineWidth)
	if e := res.Ellipse; e != nil {
		h.Floats["ELLCX"], h.Floats["ELLCY"] = float32(e.CX), float32(e.CY)
		h.Floats["ELLW"], h.Floats["ELLH"] = float32(e.Width), float32(e.Height)
		h.Floats["ELLPHI"] = float32(e.Phi)
	}
}

func isFITS(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// Writes diagnostic plots of the line fit and the disk edges into a directory
type OpDiagnostics struct {
	OpBase
	Dir string `json:"dir"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpDiagnostics("") }) } // register the operator for JSON decoding

func NewOpDiagnostics(dir string) *OpDiagnostics {
	return &OpDiagnostics{
		OpBase: OpBase{Type: "diagnostics", Active: dir != ""},
		Dir:    dir,
	}
}

func (op *OpDiagnostics) Apply(job *Job, c *Context) error {
	res := job.Result
	if res == nil || res.LineFit == nil {
		return errors.New("diagnostics operator without reconstruction result")
	}
	if err := os.MkdirAll(op.Dir, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(res.FileName), filepath.Ext(res.FileName))

	fileName := filepath.Join(op.Dir, name+"_linefit.png")
	if err := diag.PlotLineFit(res.LineFit, fileName); err != nil {
		return err
	}
	job.Outputs = append(job.Outputs, fileName)
	if res.Detected != nil {
		fileName = filepath.Join(op.Dir, name+"_edges.png")
		if err := diag.PlotEdges(res.Detected, res.EdgePoints, res.Ellipse, fileName); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, fileName)
	}
	c.Log.Printf("diag", "Wrote plots for %s to %s", name, op.Dir)
	return nil
}
