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

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/mlnoga/sunscan/internal/config"
	"github.com/mlnoga/sunscan/internal/fits"
	"github.com/mlnoga/sunscan/internal/logging"
	"github.com/mlnoga/sunscan/internal/ops"
	"github.com/mlnoga/sunscan/internal/rest"
	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/mlnoga/sunscan/internal/synth"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "sunscan.yaml", "load settings from YAML `file`, flags override")
var saveConfig = flag.String("saveConfig", "", "save the effective settings as YAML to `file`")
var logFile = flag.String("log", "", "save log output to `file` in addition to stdout")
var verbosity = flag.Int("v", 0, "verbosity of log output, 0..3")
var threads = flag.Int("threads", 0, "number of worker threads, 0=all available")

var out = flag.String("out", "", "save output to `pattern` with placeholders {name}, {i} and {shift}; suffix .fits, .tif, .png or .jpg selects the format")
var uncalib = flag.String("uncalib", "", "save the raw reconstructions to `pattern`, before binning, dewarping and light correction")
var raw = flag.Bool("raw", false, "write sample values without normalization and colour mapping")
var colorMap = flag.String("colormap", "orange-enhanced", "colour map, one of orange-enhanced, enhanced or linear")
var brightness = flag.Float64("brightness", 1, "normalization brightness, >1 saturates earlier")
var diagDir = flag.String("diag", "", "save diagnostic plots to `dir`")

var shifts = flag.String("shifts", "0", "comma-separated wavelength shifts from the line core in pixels, e.g. -1,0,1")
var edgeShift = flag.Float64("edgeShift", 10, "wavelength shift for disk edge detection in pixels")
var tolerance = flag.Float64("tolerance", 8, "disk edge outlier tolerance in pixels")
var minEdgeGap = flag.Float64("minEdgeGap", 10, "discard frames whose disk chord is shorter than this many pixels")
var ellipse = flag.Bool("ellipse", true, "fit the disk outline and correct it to a circle")
var fill = flag.Float64("fill", 0.8, "fraction of the output covered by the disk diameter")
var size = flag.Int("size", 0, "output size in pixels, 0=video frame height")
var bin = flag.Bool("bin", true, "average adjacent scan columns when the scan is oversampled")
var denoise = flag.Bool("denoise", false, "blur the average frame before fitting the spectral line")
var despeckle = flag.Bool("despeckle", false, "replace hot and dead pixels of the average frame before fitting the spectral line")
var lightAxes = flag.Int("light", 2, "stray light correction: 0=off, 1=top/bottom, 2=top/bottom and left/right")
var border = flag.Float64("border", 0.05, "height of the border bands for stray light correction, as fraction of the image")

var addr = flag.String("addr", ":8080", "listen address for serve")
var chroot = flag.String("chroot", "", "change filesystem root to `dir` before serving, requires root")
var setuid = flag.Int("setuid", -1, "change user id before serving, -1=keep")

var noise = flag.Float64("noise", 0, "standard deviation of gaussian noise for synth")
var smile = flag.Float64("smile", 0, "spectral line curvature in pixels for synth")

func main() {
	start := time.Now()
	logWriter := logging.NewWriter(os.Stdout)
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Sunscan Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (info|recon|batch|synth|serve|version|legal) (args)

Commands:
  info    Show properties of scan.ser videos or reconstructed .fits images ...
  recon   Reconstruct images from scan.ser ...
  batch   Reconstruct all SER videos in a folder, skipping those with existing output
  synth   Write a synthetic scan to the given file
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	err := run(flag.Args(), logWriter)

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		logWriter.Close()
		os.Exit(-1)
	}
	logWriter.Close()
}

func run(args []string, logWriter *logging.Writer) error {
	if len(args) < 1 {
		flag.Usage()
		return nil
	}
	if *logFile != "" {
		if err := logWriter.AlsoToFile(*logFile); err != nil {
			return fmt.Errorf("unable to open logfile '%s': %w", *logFile, err)
		}
	}
	log := logging.NewLogger(logWriter, *verbosity)

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		defer writeMemProfile(*memprofile, log)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Verbosity = cfg.Verbosity
	c := ops.NewContext(log)
	if cfg.Threads > 0 {
		c.MaxThreads = cfg.Threads
	}

	switch args[0] {
	case "info":
		return cmdInfo(args[1:], log)
	case "recon":
		return cmdRecon(args[1:], cfg, c)
	case "batch":
		return cmdBatch(args[1:], cfg, c)
	case "synth":
		return cmdSynth(args[1:], log)
	case "serve":
		if err := rest.MakeSandbox(*chroot, *setuid, log); err != nil {
			return err
		}
		log.Printf("serve", "Listening on %s", *addr)
		return rest.Serve(*addr, c)
	case "legal":
		fmt.Fprint(logWriter, legal)
	case "version":
		fmt.Fprintf(logWriter, "Version %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		fmt.Fprintf(logWriter, "CPU %s, %d physical and %d logical cores, AVX2 %v\n",
			cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2())
		fmt.Fprintf(logWriter, "Physical memory %d MB\n", memory.TotalMemory()/1024/1024)
	case "help", "?":
		flag.Usage()
	default:
		flag.Usage()
		return fmt.Errorf("unknown command '%s'", args[0])
	}
	return nil
}

// Loads the config file and overrides it with the flags given on the command line
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	var ferr error
	flag.Visit(func(f *flag.Flag) {
		r, l, o := &cfg.Reconstruction, &cfg.Light, &cfg.Output
		switch f.Name {
		case "shifts":
			r.Shifts, ferr = parseShifts(*shifts)
		case "edgeShift":
			r.EdgeShift = *edgeShift
		case "tolerance":
			r.Tolerance = *tolerance
		case "minEdgeGap":
			r.MinEdgeGap = *minEdgeGap
		case "ellipse":
			r.FitEllipse = *ellipse
		case "fill":
			r.FillFraction = *fill
		case "size":
			r.Size = *size
		case "bin":
			r.Bin = *bin
		case "denoise":
			r.Denoise = *denoise
		case "despeckle":
			r.Despeckle = *despeckle
		case "light":
			l.Axes = *lightAxes
		case "border":
			l.BorderFraction = *border
		case "out":
			o.Pattern = *out
		case "uncalib":
			o.Uncalibrated = *uncalib
		case "raw":
			o.Raw = *raw
		case "colormap":
			o.ColorMap = *colorMap
		case "brightness":
			o.Brightness = float32(*brightness)
		case "diag":
			o.DiagDir = *diagDir
		case "threads":
			cfg.Threads = *threads
		case "v":
			cfg.Verbosity = *verbosity
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if *saveConfig != "" {
		if err := cfg.Save(*saveConfig); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parseShifts(s string) ([]float64, error) {
	var res []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shift '%s': %w", part, err)
		}
		res = append(res, v)
	}
	if len(res) == 0 {
		return nil, errors.New("no wavelength shifts given")
	}
	return res, nil
}

// Shows header information of each video
func cmdInfo(args []string, log *logging.Logger) error {
	if len(args) == 0 {
		return errors.New("no input files given")
	}
	for i, fileName := range args {
		if isFITSName(fileName) {
			if err := fitsInfo(i, fileName, log); err != nil {
				return err
			}
			continue
		}
		src, err := ser.Open(fileName)
		if err != nil {
			return err
		}
		log.Printf("info", "%d: %s has %dx%d pixels, %d bit, %d frames", i, fileName, src.Width(), src.Height(), src.BitDepth(), src.FrameCount())
		if r, ok := src.(*ser.Reader); ok {
			log.Printf("info", "%d: stored as %v, rotated %v, observer '%s', instrument '%s', telescope '%s'", i, &r.Header, r.Rotated(),
				ser.TrimField(r.Header.Observer[:]), ser.TrimField(r.Header.Instrument[:]), ser.TrimField(r.Header.Telescope[:]))
		}
		src.Close()
	}
	return nil
}

func isFITSName(fileName string) bool {
	name := strings.TrimSuffix(strings.ToLower(fileName), ".gz")
	switch filepath.Ext(name) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// Logs size, statistics and reconstruction metadata of a FITS image
func fitsInfo(i int, fileName string, log *logging.Logger) error {
	img, err := fits.ReadFile(fileName, i)
	if err != nil {
		return err
	}
	log.Printf("info", "%d: %s has %s pixels, %v", i, fileName, img.DimensionsToString(), img.Stats())
	h := img.Header
	if video, ok := h.Strings["VIDEO"]; ok {
		log.Printf("info", "%d: reconstructed from %s at shift %g, line FWHM %.2f", i, video, h.Floats["SHIFT"], h.Floats["LINEFWHM"])
	}
	if _, ok := h.Floats["ELLCX"]; ok {
		log.Printf("info", "%d: disk center (%.2f, %.2f) axes %.2f/%.2f angle %.2f", i,
			h.Floats["ELLCX"], h.Floats["ELLCY"], h.Floats["ELLW"], h.Floats["ELLH"], h.Floats["ELLPHI"])
	}
	for _, line := range h.History {
		log.Printf("info", "%d: HISTORY %s", i, line)
	}
	return nil
}

// Reconstructs each of the given videos
func cmdRecon(args []string, cfg *config.Config, c *ops.Context) error {
	if len(args) == 0 {
		return errors.New("no input files given")
	}
	var fileNames []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return err
		}
		fileNames = append(fileNames, matches...)
	}
	if len(fileNames) == 0 {
		return fmt.Errorf("no files match %v", args)
	}
	seq := cfg.Sequence()
	if err := logSequence(seq, c.Log); err != nil {
		return err
	}
	jobs, err := ops.ApplyToFiles(seq, fileNames, c)
	for _, job := range jobs {
		for _, w := range job.Result.Warnings {
			c.Log.Printf("recon", "%d: %s: %v", job.ID, job.FileName, w)
		}
	}
	return err
}

// Reconstructs all SER videos in a folder. Videos whose first output exists are skipped,
// failures are logged and do not stop the batch.
func cmdBatch(args []string, cfg *config.Config, c *ops.Context) error {
	if len(args) != 1 {
		return errors.New("batch needs exactly one folder")
	}
	folder := args[0]
	var fileNames []string
	for _, pattern := range []string{"*.ser", "*.SER"} {
		matches, err := filepath.Glob(filepath.Join(folder, pattern))
		if err != nil {
			return err
		}
		fileNames = append(fileNames, matches...)
	}
	sort.Strings(fileNames)
	fileNames = dedup(fileNames)

	if !filepath.IsAbs(cfg.Output.Pattern) {
		cfg.Output.Pattern = filepath.Join(folder, cfg.Output.Pattern)
	}
	seq := cfg.Sequence()
	if err := logSequence(seq, c.Log); err != nil {
		return err
	}
	exp := seq.Steps[1].(*ops.OpExport)

	var todo []string
	for _, fileName := range fileNames {
		if exp.Exists(fileName, cfg.Reconstruction.Shifts) {
			c.Log.Printf("batch", "Skipping %s, output exists", fileName)
			continue
		}
		todo = append(todo, fileName)
	}
	c.Log.Printf("batch", "Found %d videos, %d to process", len(fileNames), len(todo))

	jobs, err := ops.ApplyToFiles(seq, todo, c)
	if err != nil {
		c.Log.Printf("batch", "%d of %d videos failed: %v", len(todo)-len(jobs), len(todo), err)
	}
	return nil
}

// Removes adjacent duplicates from a sorted list, for case-insensitive file systems
func dedup(s []string) []string {
	var res []string
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			res = append(res, v)
		}
	}
	return res
}

// Writes a synthetic scan
func cmdSynth(args []string, log *logging.Logger) error {
	if len(args) != 1 {
		return errors.New("synth needs exactly one output file")
	}
	o := synth.DefaultOptions()
	o.Noise, o.Smile, o.Seed = *noise, *smile, uint64(time.Now().UnixNano())
	if err := synth.WriteFile(args[0], o); err != nil {
		return err
	}
	log.Printf("synth", "Wrote %dx%d pixel scan with %d frames to %s", o.Width, o.Height, o.Frames, args[0])
	return nil
}

func logSequence(seq *ops.OpSequence, log *logging.Logger) error {
	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	log.Debugf(1, "recon", "Processing with these settings:\n%s", string(m))
	return nil
}

func writeMemProfile(fileName string, log *logging.Logger) {
	f, err := os.Create(fileName)
	if err != nil {
		log.Printf("profile", "Could not create memory profile: %v", err)
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
		log.Printf("profile", "Could not write allocation profile: %v", err)
	}
}
