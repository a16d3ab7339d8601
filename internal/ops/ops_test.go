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
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/light"
	"github.com/mlnoga/sunscan/internal/logging"
	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/mlnoga/sunscan/internal/shape"
	"github.com/mlnoga/sunscan/internal/spectrum"
	"github.com/mlnoga/sunscan/internal/synth"
)

func testContext() *Context {
	return &Context{Log: logging.Discard(), MaxThreads: 4}
}

func writeSynth(t *testing.T, o synth.Options) string {
	t.Helper()
	fileName := filepath.Join(t.TempDir(), "scan.ser")
	require.NoError(t, synth.WriteFile(fileName, o))
	return fileName
}

func assertFinite(t *testing.T, img *fits.Image) {
	t.Helper()
	for i, v := range img.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("pixel %d is %v", i, v)
		}
	}
}

func TestReconstructEndToEnd(t *testing.T) {
	fileName := writeSynth(t, synth.DefaultOptions())

	op := NewOpReconstructDefault()
	res, err := op.Reconstruct(fileName, testContext())
	require.NoError(t, err)

	require.Len(t, res.Uncalibrated, 1)
	raw := res.Uncalibrated[0]
	assert.Equal(t, 50, raw.Width())
	assert.Equal(t, 500, raw.Height())
	assertFinite(t, raw)

	for _, c := range res.LineFit.Columns {
		assert.InDelta(t, 30, c, 0.2)
	}
	assert.InDelta(t, 2.3548*3, res.LineWidth, 0.5)

	require.NotNil(t, res.Ellipse)
	e := *res.Ellipse
	assert.InDelta(t, 25, e.CX, 1.5)
	assert.InDelta(t, 250, e.CY, 3)
	assert.InDelta(t, 200, e.Width, 5)
	assert.InDelta(t, 20, e.Height, 2)

	require.Len(t, res.Images, 1)
	assert.Equal(t, 500, res.Images[0].Width())
	assert.Equal(t, 500, res.Images[0].Height())
	assertFinite(t, res.Images[0])
}

func TestReconstructWithoutEllipse(t *testing.T) {
	fileName := writeSynth(t, synth.DefaultOptions())

	op := NewOpReconstructDefault()
	op.FitEllipse = false
	op.Light.Axes = 0
	res, err := op.Reconstruct(fileName, testContext())
	require.NoError(t, err)

	assert.Nil(t, res.Ellipse)
	assert.Nil(t, res.Detected)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Images, 1)
	assert.Equal(t, res.Uncalibrated[0].Naxisn, res.Images[0].Naxisn)
	assert.Equal(t, res.Uncalibrated[0].Data, res.Images[0].Data)
	// the result must not alias the raw reconstruction
	res.Images[0].Data[0] = -1
	assert.NotEqual(t, float32(-1), res.Uncalibrated[0].Data[0])
}

func TestReconstructMultipleShifts(t *testing.T) {
	fileName := writeSynth(t, synth.DefaultOptions())

	op := NewOpReconstructDefault()
	op.Shifts = []float64{-1, 0, 1}
	op.FitEllipse = false
	op.Light.Axes = 0
	res, err := op.Reconstruct(fileName, testContext())
	require.NoError(t, err)
	require.Len(t, res.Images, 3)

	// on the disk, the line core is darker than its wings
	core := res.Uncalibrated[1].At(25, 250)
	assert.Less(t, core, res.Uncalibrated[0].At(25, 250))
	assert.Less(t, core, res.Uncalibrated[2].At(25, 250))
	for i, img := range res.Images {
		assert.Equal(t, i, img.ID)
	}
}

func TestReconstructEllipseFailureIsWarning(t *testing.T) {
	o := synth.DefaultOptions()
	// a disk seen in two frames only leaves too few edge points for an ellipse
	o.CenterX, o.SemiX = 24.5, 1
	fileName := writeSynth(t, o)

	op := NewOpReconstructDefault()
	op.MinEdgeGap = 0
	op.Light.Axes = 0
	res, err := op.Reconstruct(fileName, testContext())
	require.NoError(t, err)
	assert.Nil(t, res.Ellipse)
	w, ok := res.Warning(shape.ErrEllipseFitFailed)
	require.True(t, ok)
	assert.Equal(t, "ellipse", w.Stage)
	assert.Equal(t, res.Uncalibrated[0].Data, res.Images[0].Data)
}

func TestReconstructFatalErrors(t *testing.T) {
	dir := t.TempDir()
	op := NewOpReconstructDefault()

	bogus := filepath.Join(dir, "bogus.ser")
	require.NoError(t, os.WriteFile(bogus, make([]byte, 400), 0o644))
	_, err := op.Reconstruct(bogus, testContext())
	assert.ErrorIs(t, err, ser.ErrUnsupportedFormat)

	o := synth.DefaultOptions()
	o.LineDepth = 0 // no line to fit
	o.Continuum = o.Sky
	_, err = op.Reconstruct(writeSynth(t, o), testContext())
	assert.ErrorIs(t, err, spectrum.ErrInsufficientLineData)

	op.Shifts = nil
	_, err = op.Reconstruct(bogus, testContext())
	assert.Error(t, err)
}

func TestSequenceJSON(t *testing.T) {
	seq := NewOpSequence(NewOpReconstructDefault(), NewOpExport("out_{i}.png", "enhanced", 1.5), NewOpDiagnostics("diag"))
	b, err := json.Marshal(seq)
	require.NoError(t, err)

	var decoded OpSequence
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded.Steps, 3)
	rec, ok := decoded.Steps[0].(*OpReconstruct)
	require.True(t, ok)
	assert.Equal(t, []float64{0}, rec.Shifts)
	assert.True(t, rec.FitEllipse)
	exp, ok := decoded.Steps[1].(*OpExport)
	require.True(t, ok)
	assert.Equal(t, "out_{i}.png", exp.FilePattern)
	assert.Equal(t, float32(1.5), exp.Brightness)
	assert.Equal(t, "diagnostics", decoded.Steps[2].GetType())

	_, err = UnmarshalOperator([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
}

func TestExpandPattern(t *testing.T) {
	assert.Equal(t, "scan_0.png", ExpandPattern("{name}_{i}.png", "/data/scan.ser", 0, 0, 1))
	assert.Equal(t, "out_-0.5.png", ExpandPattern("out_{shift}.png", "a.ser", 1, -0.5, 3))
	assert.Equal(t, "out_2.png", ExpandPattern("out.png", "a.ser", 2, 1, 3))
	assert.Equal(t, "out.png", ExpandPattern("out.png", "a.ser", 0, 0, 1))
}

func TestSequenceApply(t *testing.T) {
	fileName := writeSynth(t, synth.DefaultOptions())
	dir := t.TempDir()

	rec := NewOpReconstructDefault()
	rec.Shifts = []float64{0, 2}
	exp := NewOpExport(filepath.Join(dir, "{name}_{i}.png"), "orange-enhanced", 1)
	exp.Uncalibrated = filepath.Join(dir, "{name}_raw_{i}.fits")
	seq := NewOpSequence(rec, exp, NewOpDiagnostics(filepath.Join(dir, "diag")))

	jobs, err := ApplyToFiles(seq, []string{fileName, filepath.Join(dir, "missing.ser")}, testContext())
	assert.Error(t, err)
	require.Len(t, jobs, 1)
	assert.Len(t, jobs[0].Outputs, 6)
	for _, out := range jobs[0].Outputs {
		_, err := os.Stat(out)
		assert.NoError(t, err, out)
	}
	assert.True(t, exp.Exists(fileName, []float64{0, 2}))

	raw, err := fits.ReadFile(filepath.Join(dir, "scan_raw_0.fits"), 0)
	require.NoError(t, err)
	assert.Equal(t, []int32{50, 500}, raw.Naxisn)
	assert.Equal(t, "scan.ser", raw.Header.Strings["VIDEO"])
	assert.Equal(t, float32(0), raw.Header.Floats["SHIFT"])
	assert.Contains(t, raw.Header.History, "uncalibrated")
}

func TestReconstructValidatesOptions(t *testing.T) {
	fileName := writeSynth(t, synth.DefaultOptions())
	for name, modify := range map[string]func(op *OpReconstruct){
		"no shifts":      func(op *OpReconstruct) { op.Shifts = nil },
		"nan shift":      func(op *OpReconstruct) { op.Shifts = []float64{math.NaN()} },
		"window":         func(op *OpReconstruct) { op.Line.Window = -1 },
		"median window":  func(op *OpReconstruct) { op.Line.MedianWindow = -1 },
		"degree":         func(op *OpReconstruct) { op.Line.Degree = -1 },
		"line tolerance": func(op *OpReconstruct) { op.Line.Tolerance = 0 },
		"edge tolerance": func(op *OpReconstruct) { op.Tolerance = -8 },
		"fill fraction":  func(op *OpReconstruct) { op.FillFraction = 1.5 },
		"size":           func(op *OpReconstruct) { op.Size = -1 },
		"axes":           func(op *OpReconstruct) { op.Light.Axes = 3 },
		"border":         func(op *OpReconstruct) { op.Light.BorderFraction = 0.5 },
	} {
		op := NewOpReconstructDefault()
		modify(op)
		assert.Error(t, op.Validate(), name)
		var res *Result
		var err error
		assert.NotPanics(t, func() { res, err = op.Reconstruct(fileName, testContext()) }, name)
		assert.Error(t, err, name)
		assert.Nil(t, res, name)
	}

	// settings of stages that are switched off are not checked
	op := NewOpReconstructDefault()
	op.FitEllipse, op.FillFraction = false, 0
	op.Light = light.Options{Axes: 0}
	assert.NoError(t, op.Validate())
	assert.NoError(t, NewOpReconstructDefault().Validate())
}
