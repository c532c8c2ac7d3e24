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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/skycut/internal/backend"
	"github.com/mlnoga/skycut/internal/cutter"
	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/monitor"
	"github.com/mlnoga/skycut/internal/sampler"
	"github.com/mlnoga/skycut/web"
)


var serveContext *cutter.Context

// Builds the service routes. Split from Serve so tests can drive the
// handlers through httptest without binding a port
func Router(c *cutter.Context) *gin.Engine {
	serveContext=c
	r := gin.Default()
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping", getPing)
			v1.POST("/cut",  postCut)
			v1.GET ("/stat", getStat)
		}
	}
	return r
}

func Serve(c *cutter.Context, port int) error {
	r := Router(c)
	if port<=0 {
		return r.Run() // listen and serve on 0.0.0.0:8080
	}
	return r.Run(fmt.Sprintf(":%d", port))
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory.
// Remote s3:// and http(s):// paths satisfy both and pass through to their
// backends; they name no local file
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}

type postCutArgs struct {
	Paths   []string `json:"paths"`
	Backend string   `json:"backend"` // registry tag, default section
	Preload bool     `json:"preload"`
	Format  string   `json:"format"`  // json (default), jpg, falsecolor or tiff preview of the first cut
	cutter.Params
}

type cutFileResult struct {
	Path   string                 `json:"path"`
	Shape  fits.Shape             `json:"shape"`
	Boxes  sampler.Batch          `json:"boxes"`
	Header map[string]interface{} `json:"header"`
}

type cutResponse struct {
	ElapsedSeconds float64         `json:"elapsedSeconds"`
	Files          []cutFileResult `json:"files"`
	Events         []monitor.Event `json:"events"`
}

func postCut(c *gin.Context)  {
	var args postCutArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if len(args.Paths)==0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "need at least one path"})
		return
	}
	for _,p:=range(args.Paths) {
		if !isPathAllowed(p) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: path outside current directory tree", p)})
			return
		}
	}
	if args.Backend=="" { args.Backend="section" }

	if err:=printArgs(serveContext.Log, "Cut request:\n", "\n", &args); err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	opts:=backend.Options{
		Backend: args.Backend,
		Preload: args.Preload,
		Monitor: &monitor.Counter{},
		Log:     serveContext.Log,
	}
	ress, elapsed, rec, err:=cutter.CutFiles(serveContext, args.Paths, opts, &args.Params)
	if err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		for _,res:=range(ress) { res.Close() }
	}()

	switch strings.ToLower(args.Format) {
	case "", "json":
		resp:=cutResponse{ElapsedSeconds: elapsed, Events: rec.Events}
		for _,res:=range(ress) {
			resp.Files=append(resp.Files, cutFileResult{
				Path:   res.Init.File.Path,
				Shape:  res.Shape,
				Boxes:  res.Batch,
				Header: res.Init.Header,
			})
		}
		c.JSON(http.StatusOK, resp)

	case "jpg", "jpeg", "falsecolor", "tif", "tiff":
		writePreview(c, ress[0].Cuts[0], strings.ToLower(args.Format))

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown format %q", args.Format)})
	}
}

// Renders one cut as a browser-viewable image, scaled to its own value range.
// Cubes render their first band in JPG formats and as RGB in TIFF when they
// carry exactly three bands
func writePreview(c *gin.Context, cut *fits.Image, format string) {
	min, max:=cut.MinMax()
	if !(max>min) { max=min+1 } // constant or all-NaN cuts still render

	buf:=bytes.Buffer{}
	var contentType string
	var err error
	switch format {
	case "jpg", "jpeg":
		contentType="image/jpeg"
		err=cut.WriteMonoJPG(&buf, min, max, 1.0, 95)
	case "falsecolor":
		contentType="image/jpeg"
		err=cut.WriteFalseColorJPG(&buf, min, max, 1.0, 95)
	case "tif", "tiff":
		contentType="image/tiff"
		if len(cut.Naxisn)>=3 && cut.Naxisn[2]==3 {
			err=cut.WriteTIFF16(&buf, min, max, 1.0)
		} else {
			err=cut.WriteMonoTIFF16(&buf, min, max, 1.0)
		}
	}
	if err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func getStat(c *gin.Context)  {
	paths := c.QueryArray("path")
	if len(paths)==0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "need at least one path query parameter"})
		return
	}
	stats:=make([]*fits.FileStat, 0, len(paths))
	for _,p:=range(paths) {
		if !isPathAllowed(p) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: path outside current directory tree", p)})
			return
		}
		stat, err:=fits.Stat(p, serveContext.Log)
		if err!=nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		stats=append(stats, stat)
	}
	c.JSON(http.StatusOK, stats)
}
