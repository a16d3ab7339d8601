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

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mlnoga/sunscan/internal/logging"
	"github.com/mlnoga/sunscan/internal/ops"
	"github.com/mlnoga/sunscan/internal/ser"
	"github.com/mlnoga/sunscan/internal/shape"
	"github.com/mlnoga/sunscan/web"
)

// Header carrying the request id, set on every response
const RequestIDHeader = "X-Request-ID"

// Creates the HTTP routes, running operators in the given context
func NewRouter(c *ops.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID())
	r.GET("/", func(g *gin.Context) { g.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML) })
	r.StaticFS("/js", web.JavascriptFS())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/info", getInfo)
			v1.POST("/reconstruct", func(g *gin.Context) { postReconstruct(g, c) })
		}
	}
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func Serve(addr string, c *ops.Context) error {
	return NewRouter(c).Run(addr)
}

// Assigns a fresh id to each request, unless the client provided one
func requestID() gin.HandlerFunc {
	return func(g *gin.Context) {
		id := g.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		g.Set("requestID", id)
		g.Header(RequestIDHeader, id)
		g.Next()
	}
}

func getPing(g *gin.Context) {
	g.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false // relative paths only
	}
	if strings.Contains(p, "..") {
		return false // no going outside the tree
	}
	return true
}

// Checks a posted operator tree before it runs: parameters must be valid, and every output
// path must stay inside the tree, whether the step is active or not
func checkOperator(op ops.Operator) error {
	switch o := op.(type) {
	case *ops.OpSequence:
		for _, step := range o.Steps {
			if err := checkOperator(step); err != nil {
				return err
			}
		}
	case *ops.OpReconstruct:
		return o.Validate()
	case *ops.OpExport:
		for _, p := range []string{o.FilePattern, o.Uncalibrated} {
			if !isPathAllowed(p) {
				return fmt.Errorf("%s: output path %q outside the served tree", o.Type, p)
			}
		}
	case *ops.OpDiagnostics:
		if !isPathAllowed(o.Dir) {
			return fmt.Errorf("%s: output directory %q outside the served tree", o.Type, o.Dir)
		}
	default:
		return fmt.Errorf("operator type %s not allowed in requests", op.GetType())
	}
	return nil
}

type videoInfo struct {
	File       string `json:"file"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Frames     int    `json:"frames"`
	BitDepth   int    `json:"bitDepth"`
	Rotated    bool   `json:"rotated"`
	Observer   string `json:"observer,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Telescope  string `json:"telescope,omitempty"`
}

func getInfo(g *gin.Context) {
	file := g.Query("file")
	if file == "" || !isPathAllowed(file) {
		g.JSON(http.StatusBadRequest, gin.H{"error": "file outside current directory tree"})
		return
	}
	src, err := ser.Open(file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ser.ErrUnsupportedFormat) || errors.Is(err, ser.ErrUnsupportedPixelDepth) {
			status = http.StatusUnprocessableEntity
		}
		g.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	info := videoInfo{File: file, Width: src.Width(), Height: src.Height(), Frames: src.FrameCount(), BitDepth: src.BitDepth()}
	if r, ok := src.(*ser.Reader); ok {
		info.Rotated = r.Rotated()
		info.Observer = ser.TrimField(r.Header.Observer[:])
		info.Instrument = ser.TrimField(r.Header.Instrument[:])
		info.Telescope = ser.TrimField(r.Header.Telescope[:])
	}
	g.JSON(http.StatusOK, info)
}

type postReconstructArgs struct {
	FilePatterns []string        `json:"filePatterns" binding:"required"`
	Sequence     json.RawMessage `json:"sequence" binding:"required"`
}

type jobReport struct {
	File     string         `json:"file"`
	Outputs  []string       `json:"outputs"`
	Ellipse  *shape.Ellipse `json:"ellipse,omitempty"`
	Rejected float64        `json:"rejectedFraction"`
	Width    float64        `json:"lineWidth"`
	Warnings []string       `json:"warnings"`
}

func postReconstruct(g *gin.Context, c *ops.Context) {
	var args postReconstructArgs
	if err := g.ShouldBindJSON(&args); err != nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := ops.UnmarshalOperator(args.Sequence)
	if err != nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkOperator(op); err != nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// glob filename arguments, keeping only those inside the tree
	var files []string
	for _, pattern := range args.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, m := range matches {
			if isPathAllowed(m) {
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		g.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no files to process from pattern %v", args.FilePatterns)})
		return
	}

	id := g.GetString("requestID")
	rc := *c
	rc.Log = logging.NewLogger(&prefixWriter{prefix: id[:8] + " ", w: c.Log}, c.Log.Verbosity)
	jobs, err := ops.ApplyToFiles(op, files, &rc)

	reports := make([]jobReport, 0, len(jobs))
	for _, job := range jobs {
		rep := jobReport{File: job.FileName, Outputs: job.Outputs, Warnings: []string{}}
		if res := job.Result; res != nil {
			rep.Ellipse, rep.Width = res.Ellipse, res.LineWidth
			if res.LineFit != nil {
				rep.Rejected = res.LineFit.RejectedFraction
			}
			for _, w := range res.Warnings {
				rep.Warnings = append(rep.Warnings, w.Error())
			}
		}
		reports = append(reports, rep)
	}
	body := gin.H{"id": id, "jobs": reports}
	if err != nil {
		body["error"] = err.Error()
	}
	g.JSON(http.StatusOK, body)
}

// Prefixes every line written with a fixed string, so interleaved requests stay apart in the log
type prefixWriter struct {
	prefix string
	w      *logging.Logger
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := p.w.Write([]byte(p.prefix + string(b))); err != nil {
		return 0, err
	}
	return len(b), nil
}
