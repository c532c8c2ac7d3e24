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


// Package cutter orchestrates instrumented cutout runs: open a file through
// a backend, derive its geometry, sample random regions, execute the cuts
// and collect telemetry. Execution is sequential over files and over cuts
// within a file; the dominant cost is the I/O latency being measured, and
// concurrent cutting would corrupt the per-cut timing signal
package cutter

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/pbnjay/memory"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/skycut/internal/backend"
	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/monitor"
	"github.com/mlnoga/skycut/internal/sampler"
)

// Context for cutout runs
type Context struct {
	Log        io.Writer // destination for telemetry echo and warnings
	MemoryMB   int       // memory.TotalMemory()/1024/1024
	MaxThreads int       // bound for parallel file initialization
}

func NewContext(log io.Writer) *Context {
	return &Context{
		Log       : log,
		MemoryMB  : int(memory.TotalMemory()/1024/1024),
		MaxThreads: runtime.GOMAXPROCS(0),
	}
}

// Parameters of one cut run
type Params struct {
	HDU       int     `json:"hdu"`       // HDU index to cut from
	Count     int     `json:"count"`     // number of random cuts per file
	Lengths   []int32 `json:"lengths"`   // per-axis cut lengths, procrustean-fitted to the shape
	Variances []int32 `json:"variances"` // optional per-axis end jitter
	Bands     []int   `json:"bands"`     // band selected per cut index; missing entries cut all bands
	Seed      uint32  `json:"seed"`      // sampler seed for a file batch
	WCS       bool    `json:"wcs"`       // build world coordinates during initialization
	AuthenticateS3 bool `json:"authenticateS3"` // load an AWS credential for s3:// paths
}

// Band selected for cut i: Bands[i] when present, else all bands
func (p *Params) bandFor(i int) int {
	if i<len(p.Bands) { return p.Bands[i] }
	return -1
}

// Results of one instrumented file initialization. The enclosing file stays
// open so the handles remain sliceable; the caller closes
type FileInit struct {
	File    *backend.File
	Handles []backend.Handle       // one per requested HDU, in request order
	Header  map[string]interface{} // primitive header values of the first requested HDU
	WCS     *fits.WCS              // optional pixel-to-sky mapping
	Record  *monitor.Record        // telemetry of this initialization
}

// Releases the underlying file. Handles become invalid
func (fi *FileInit) Close() error { return fi.File.Close() }

// Opens the file at path through the backend selected by opts and measures
// each phase: the open itself (init), decoding the first requested HDU
// header (header), acquiring the remaining handles (handles), materializing
// lazy contents when opts.Preload is set (preload), and world coordinate
// construction (wcs). Header values are normalized to primitives so the
// telemetry serializes regardless of backend-specific value types
func InitFile(c *Context, path string, opts backend.Options, hdus []int, getHandles, withWCS bool) (*FileInit, error) {
	if len(hdus)==0 { hdus=[]int{0} }
	if opts.Monitor==nil { opts.Monitor=&monitor.Counter{} }
	preload:=opts.Preload
	opts.Preload=false // preloads are timed as their own phase below

	rec:=monitor.NewRecord(opts.Monitor, c.Log)
	o, err:=backend.NewOpener(opts)
	if err!=nil { return nil, fmt.Errorf("%s: init: %w", path, err) }
	file, err:=o.Open(path)
	if err!=nil { return nil, fmt.Errorf("%s: init: %w", path, err) }
	rec.Note("init", path)

	res:=&FileInit{File: file, Record: rec}
	h0, err:=file.HDU(hdus[0])
	if err!=nil {
		file.Close()
		return nil, fmt.Errorf("header: %w", err)
	}
	res.Header=h0.Header().Primitives()
	rec.Note("header", path)

	if getHandles {
		res.Handles=make([]backend.Handle, len(hdus))
		for i, ix:=range(hdus) {
			h, err:=file.HDU(ix)
			if err!=nil {
				file.Close()
				return nil, fmt.Errorf("handles: %w", err)
			}
			res.Handles[i]=h
		}
		rec.Note("handles", path)

		if preload {
			for i, h:=range(res.Handles) {
				if _, err:=h.Preload(); err!=nil {
					file.Close()
					return nil, fmt.Errorf("%s: preload: HDU %d: %w", path, hdus[i], err)
				}
			}
			rec.Note("preload", path)
		}
	}

	if withWCS {
		res.WCS=fits.NewWCS(h0.Header())
		rec.Note("wcs", path)
	}
	return res, nil
}

// Results of cutting one file. Cuts[i] is the materialized array for
// Batch[i]; indices run 0..count-1 in generation order so geometry and
// pixels stay correlated
type FileCuts struct {
	Init  *FileInit
	Shape fits.Shape
	Batch sampler.Batch
	Cuts  []*fits.Image
}

func (fc *FileCuts) Close() error { return fc.Init.Close() }

// Cuts one file: initialize with handles, derive the shape from the header
// axis keys, sample count random boxes, then realize every box in batch
// order with one telemetry event per cut and a closing file total. Cuts are
// copied out of the backend immediately; lazy backends only guarantee the
// transfer once the result lands in owned memory
func CutFile(c *Context, path string, opts backend.Options, params *Params, rng sampler.Rand) (*FileCuts, error) {
	init, err:=InitFile(c, path, opts, []int{params.HDU}, true, params.WCS)
	if err!=nil { return nil, err }
	h:=init.Handles[0]

	shape, err:=fits.ShapeOf(h.Header())
	if err!=nil {
		init.Close()
		return nil, fmt.Errorf("%s: header: %w", path, err)
	}

	batch, err:=sampler.Sample(shape, params.Count, params.Lengths, params.Variances, rng)
	if err!=nil {
		init.Close()
		return nil, fmt.Errorf("%s: cut: %w", path, err)
	}

	res:=&FileCuts{Init: init, Shape: shape, Batch: batch, Cuts: make([]*fits.Image, len(batch))}
	for i, box:=range(batch) {
		cut, err:=h.Cut(box, params.bandFor(i))
		if err!=nil {
			init.Close()
			return nil, fmt.Errorf("%s: cut %d: %w", path, i, err)
		}
		res.Cuts[i]=cut
		init.Record.Note(fmt.Sprintf("cut %d", i), path)
	}
	init.Record.NoteTotal("file done", path)
	return res, nil
}

// Cuts a batch of files strictly sequentially, returning per-file results in
// path order, the total elapsed seconds, and the merged telemetry. One RNG
// is seeded once and advanced in file order, never reseeded mid-batch, so a
// fixed seed reproduces every file's regions. When any path is an s3://
// object and authentication is requested, the first AWS credential is loaded
// once before the loop. A single file failure aborts the whole batch;
// partial benchmark data is worse than a loud failure
func CutFiles(c *Context, paths []string, opts backend.Options, params *Params) ([]*FileCuts, float64, *monitor.Record, error) {
	if opts.Monitor==nil { opts.Monitor=&monitor.Counter{} }
	if params.AuthenticateS3 && opts.Credential==nil && anyS3(paths) {
		cred, err:=backend.LoadFirstAWSCredential("")
		if err!=nil { return nil, 0, nil, fmt.Errorf("loading AWS credential: %w", err) }
		opts.Credential=cred
	}

	rng:=&fastrand.RNG{}
	rng.Seed(params.Seed)

	rec:=monitor.NewRecord(opts.Monitor, c.Log)
	ress:=make([]*FileCuts, 0, len(paths))
	numCuts:=0
	for _, path:=range(paths) {
		res, err:=CutFile(c, path, opts, params, rng)
		if err!=nil {
			for _, r:=range(ress) { r.Close() }
			return nil, 0, nil, err
		}
		ress=append(ress, res)
		rec.Merge(res.Init.Record)
		numCuts+=len(res.Cuts)
	}
	ev:=rec.NoteTotal(fmt.Sprintf("made %d cuts from %d files", numCuts, len(paths)), "")
	return ress, ev.Seconds, rec, nil
}

func anyS3(paths []string) bool {
	for _, p:=range(paths) {
		if strings.HasPrefix(strings.ToLower(p), "s3://") { return true }
	}
	return false
}

// Initializes many files with a bounded worker pool, headers and handles
// only; cutting is never parallelized. threads<=0 runs strictly sequentially
// with identical output shape. When opts.Monitor is nil every file gets its
// own counter; a caller-shared counter stays exact in total but attributes
// per-event volumes loosely once initializations overlap
func InitFiles(c *Context, paths []string, opts backend.Options, hdus []int, threads int) ([]*FileInit, error) {
	if len(paths)==0 { return nil, nil }
	outs:=make([]*FileInit, len(paths))

	if threads<=0 {
		for i, path:=range(paths) {
			res, err:=InitFile(c, path, opts, hdus, true, false)
			if err!=nil {
				closeInits(outs)
				return nil, err
			}
			outs[i]=res
		}
		return outs, nil
	}

	limiter:=make(chan bool, threads)
	errs   :=make(chan error, len(paths))
	for i, path:=range(paths) {
		limiter <- true
		go func(i int, path string) {
			defer func() { <-limiter }()
			res, err:=InitFile(c, path, opts, hdus, true, false)
			if err!=nil {
				errs <- err
				return
			}
			outs[i]=res
			errs <- nil
		}(i, path)
	}
	for i:=0; i<cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	var firstErr error
	for i:=0; i<len(paths); i++ { // collect errors
		if e:=<-errs; e!=nil && firstErr==nil { firstErr=e }
	}
	if firstErr!=nil {
		closeInits(outs)
		return nil, firstErr
	}
	return outs, nil
}

func closeInits(inits []*FileInit) {
	for _, in:=range(inits) {
		if in!=nil { in.Close() }
	}
}
