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


// Package backend provides uniform sliced access to FITS image data across
// storage backends with different access semantics. A registry maps tags to
// backends, chosen by the caller when constructing an opener; sources may be
// local files, gzip archives, http(s) objects or s3:// objects, and every
// transfer passes through a counting reader feeding the telemetry monitors
package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/monitor"
	"github.com/mlnoga/skycut/internal/sampler"
)

// Raised when no backend is registered under a requested tag
var ErrUnknownBackend=errors.New("unknown backend")

// Settings for opening files through a backend
type Options struct {
	Backend     string           `json:"backend"` // registry tag selecting the backend, e.g. "section" or "image"
	Preload     bool             `json:"preload"` // materialize lazy handle contents at acquisition
	Region      string           `json:"region"`  // signing region for s3:// sources, default us-east-1
	Monitor    *monitor.Counter  `json:"-"`       // byte accounting for all source transfers, optional
	Credential *Credential       `json:"-"`       // AWS credential for s3:// sources; nil reads anonymously
	Client     *http.Client      `json:"-"`       // client for remote sources, default http.DefaultClient
	Log         io.Writer        `json:"-"`
}

func (o *Options) log() io.Writer {
	if o.Log==nil { return io.Discard }
	return o.Log
}

// A sliceable reference to one FITS HDU, owned by the backend that opened the
// file. May be lazy (byte-range reads per cut) or fully materialized. The
// enclosing File must remain open while slicing
type Handle interface {
	Header() *fits.Header                               // decoded header of this HDU
	Shape() fits.Shape                                  // row-major image shape
	Cut(box sampler.Box, band int) (*fits.Image, error) // realize a region into owned memory; band>=0 selects one band of a 3-D image
	Preload() (int64, error)                            // materialize lazy contents fully, returning the bytes moved
}

// An open FITS file with per-HDU handles. What acquisition costs differs by
// backend: lazy backends read headers only, greedy backends paid the full
// transfer at open already
type File struct {
	Path    string
	Tag     string
	src     *Source
	handles map[int]Handle
	acquire func(hduIx int) (Handle, error) // set by the backend on open
	cleanup func() error                    // optional backend teardown
}

// Returns the handle for the HDU with the given index, acquiring it on first use
func (f *File) HDU(hduIx int) (Handle, error) {
	if h, ok:=f.handles[hduIx]; ok { return h, nil }
	h, err:=f.acquire(hduIx)
	if err!=nil { return nil, fmt.Errorf("%s: HDU %d: %s", f.Path, hduIx, err.Error()) }
	f.handles[hduIx]=h
	return h, nil
}

// Releases the underlying source. Handles become invalid
func (f *File) Close() error {
	var err error
	if f.cleanup!=nil { err=f.cleanup() }
	if f.src!=nil {
		if e:=f.src.Close(); err==nil { err=e }
	}
	f.handles, f.acquire, f.cleanup, f.src=nil, nil, nil, nil
	return err
}

// A storage backend creates per-HDU handles over an open source
type Backend interface {
	Tag() string
	Open(path string, src *Source, opts *Options) (*File, error)
}

// Factory method for backends, for data-driven tag lookups
type BackendFactory func() Backend

// Mapping from backend tag strings to factory methods
var backendFactories=map[string]BackendFactory{}

// Returns the backend factory for a given tag, or nil
func GetBackend(tag string) BackendFactory {
	return backendFactories[tag]
}

// Registers a backend under its tag, identified via an exemplar instance
func SetBackend(f BackendFactory) {
	b:=f()
	t:=b.Tag()
	if GetBackend(t)!=nil { panic(fmt.Sprintf("error: re-registering backend key %s\n", t)) }
	backendFactories[t]=f
}

// All registered backend tags, sorted
func Tags() []string {
	ts:=make([]string, 0, len(backendFactories))
	for t:=range backendFactories {
		ts=append(ts, t)
	}
	sort.Strings(ts)
	return ts
}

// Opens files through the backend selected by the options
type Opener struct {
	Options
	backend Backend
}

func NewOpener(opts Options) (*Opener, error) {
	f:=GetBackend(opts.Backend)
	if f==nil { return nil, fmt.Errorf("%q: %w", opts.Backend, ErrUnknownBackend) }
	return &Opener{Options: opts, backend: f()}, nil
}

// Opens the FITS file at the given path, which may be a local file, a gzip
// archive, or an http(s):// or s3:// object
func (o *Opener) Open(path string) (*File, error) {
	src, err:=OpenSource(path, &o.Options)
	if err!=nil { return nil, err }
	f, err:=o.backend.Open(path, src, &o.Options)
	if err!=nil {
		src.Close()
		return nil, err
	}
	return f, nil
}
