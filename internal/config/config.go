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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/ops"
)

// Settings of the sunscan command line tool, as stored in a YAML file
type Config struct {
	Reconstruction struct {
		Shifts       []float64 `yaml:"shifts"`
		EdgeShift    float64   `yaml:"edgeShift"`
		Tolerance    float64   `yaml:"tolerance"`
		MinEdgeGap   float64   `yaml:"minEdgeGap"`
		FitEllipse   bool      `yaml:"fitEllipse"`
		FillFraction float64   `yaml:"fillFraction"`
		Size         int       `yaml:"size"` // 0 for the video frame height
		Bin          bool      `yaml:"bin"`
		Denoise      bool      `yaml:"denoise"`
		Despeckle    bool      `yaml:"despeckle"`
	} `yaml:"reconstruction"`

	Light struct {
		Axes           int     `yaml:"axes"`
		BorderFraction float64 `yaml:"borderFraction"`
	} `yaml:"light"`

	Output struct {
		Pattern      string  `yaml:"pattern"`
		Uncalibrated string  `yaml:"uncalibrated"`
		Raw          bool    `yaml:"raw"`
		ColorMap     string  `yaml:"colorMap"`
		Brightness   float32 `yaml:"brightness"`
		DiagDir      string  `yaml:"diagDir"`
	} `yaml:"output"`

	Threads   int `yaml:"threads"` // 0 for all available
	Verbosity int `yaml:"verbosity"`
}

// Returns a configuration with default values
func Default() *Config {
	rec := ops.NewOpReconstructDefault()
	cfg := &Config{}
	cfg.Reconstruction.Shifts = rec.Shifts
	cfg.Reconstruction.EdgeShift = rec.EdgeShift
	cfg.Reconstruction.Tolerance = rec.Tolerance
	cfg.Reconstruction.MinEdgeGap = rec.MinEdgeGap
	cfg.Reconstruction.FitEllipse = rec.FitEllipse
	cfg.Reconstruction.FillFraction = rec.FillFraction
	cfg.Reconstruction.Size = rec.Size
	cfg.Reconstruction.Bin = rec.Bin
	cfg.Reconstruction.Denoise = rec.Line.Denoise
	cfg.Reconstruction.Despeckle = rec.Line.Despeckle

	cfg.Light.Axes = rec.Light.Axes
	cfg.Light.BorderFraction = rec.Light.BorderFraction

	cfg.Output.Pattern = "{name}.png"
	cfg.Output.ColorMap = string(fits.ColorMapOrangeEnhanced)
	cfg.Output.Brightness = 1
	return cfg
}

// Loads the configuration from a YAML file. Keys missing from the file keep their defaults.
// If the file doesn't exist, returns the defaults.
func Load(fileName string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(fileName)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", fileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", fileName, err)
	}
	return cfg, nil
}

// Saves the configuration to a YAML file, creating its directory if needed
func (cfg *Config) Save(fileName string) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return os.WriteFile(fileName, data, 0o644)
}

// Checks value ranges
func (cfg *Config) Validate() error {
	r := &cfg.Reconstruction
	if len(r.Shifts) == 0 {
		return errors.New("no wavelength shifts given")
	}
	if err := cfg.Reconstruct().Validate(); err != nil {
		return err
	}
	if _, err := fits.ParseColorMap(cfg.Output.ColorMap); err != nil {
		return err
	}
	return nil
}

// Builds the reconstruction operator
func (cfg *Config) Reconstruct() *ops.OpReconstruct {
	op := ops.NewOpReconstructDefault()
	r := &cfg.Reconstruction
	op.Shifts = append([]float64(nil), r.Shifts...)
	op.EdgeShift, op.Tolerance, op.MinEdgeGap = r.EdgeShift, r.Tolerance, r.MinEdgeGap
	op.FitEllipse, op.FillFraction, op.Size = r.FitEllipse, r.FillFraction, r.Size
	op.Bin = r.Bin
	op.Line.Denoise, op.Line.Despeckle = r.Denoise, r.Despeckle
	op.Light.Axes, op.Light.BorderFraction = cfg.Light.Axes, cfg.Light.BorderFraction
	return op
}

// Builds the full operator sequence: reconstruction, export and optional diagnostics
func (cfg *Config) Sequence() *ops.OpSequence {
	exp := ops.NewOpExport(cfg.Output.Pattern, cfg.Output.ColorMap, cfg.Output.Brightness)
	exp.Raw = cfg.Output.Raw
	exp.Uncalibrated = cfg.Output.Uncalibrated
	return ops.NewOpSequence(cfg.Reconstruct(), exp, ops.NewOpDiagnostics(cfg.Output.DiagDir))
}
