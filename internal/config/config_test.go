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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []float64{0}, cfg.Reconstruction.Shifts)
	assert.True(t, cfg.Reconstruction.FitEllipse)
	assert.Equal(t, 2, cfg.Light.Axes)
}

func TestLoadPartialFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "sunscan.yaml")
	yml := "reconstruction:\n  shifts: [-1, 0, 1]\n  fitEllipse: false\nlight:\n  axes: 1\noutput:\n  colorMap: enhanced\n"
	require.NoError(t, os.WriteFile(fileName, []byte(yml), 0o644))

	cfg, err := Load(fileName)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 1}, cfg.Reconstruction.Shifts)
	assert.False(t, cfg.Reconstruction.FitEllipse)
	assert.Equal(t, 1, cfg.Light.Axes)
	assert.Equal(t, "enhanced", cfg.Output.ColorMap)
	// untouched keys keep their defaults
	assert.Equal(t, 0.8, cfg.Reconstruction.FillFraction)
	assert.Equal(t, float64(10), cfg.Reconstruction.EdgeShift)

	op := cfg.Reconstruct()
	assert.Equal(t, []float64{-1, 0, 1}, op.Shifts)
	assert.False(t, op.FitEllipse)
	assert.Equal(t, 1, op.Light.Axes)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, yml := range map[string]string{
		"syntax":   "reconstruction: [",
		"axes":     "light:\n  axes: 3\n",
		"colormap": "output:\n  colorMap: rainbow\n",
		"shifts":   "reconstruction:\n  shifts: []\n",
	} {
		fileName := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(fileName, []byte(yml), 0o644))
		_, err := Load(fileName)
		assert.Error(t, err, name)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Reconstruction.Shifts = []float64{0.5}
	cfg.Output.DiagDir = "diag"
	cfg.Threads = 3
	fileName := filepath.Join(t.TempDir(), "sub", "sunscan.yaml")
	require.NoError(t, cfg.Save(fileName))

	back, err := Load(fileName)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestSequence(t *testing.T) {
	cfg := Default()
	cfg.Output.DiagDir = ""
	seq := cfg.Sequence()
	require.Len(t, seq.Steps, 3)
	assert.Equal(t, "reconstruct", seq.Steps[0].GetType())
	assert.True(t, seq.Steps[1].IsActive())
	assert.False(t, seq.Steps[2].IsActive())
}
