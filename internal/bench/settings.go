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


package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mlnoga/skycut/internal/backend"
)

// A benchmark suite: general execution settings plus the datasets to cut
// from. Start from DefaultSuite so absent keys keep their defaults
type Suite struct {
	Mountpoint    string    `yaml:"mountpoint"    json:"mountpoint"`    // FUSE mount root prepended to dataset files for local loaders
	MountLog      string    `yaml:"mountLog"      json:"mountLog"`      // FUSE daemon debug log awaited before the first case, "" skips
	NFiles        int       `yaml:"nFiles"        json:"nFiles"`        // cap on files per dataset, <=0 uses all
	ReturnCuts    bool      `yaml:"returnCuts"    json:"returnCuts"`    // keep cut pixel data in results
	Seed          uint32    `yaml:"seed"          json:"seed"`          // sampler seed, fixed per case for reproducible regions
	ThrottlesKbps []int     `yaml:"throttlesKbps" json:"throttlesKbps"` // externally applied bandwidth caps to label cases with, 0 is unthrottled
	Throwaways    int       `yaml:"throwaways"    json:"throwaways"`    // discarded priming passes per case, to juice S3 serverside caching
	Netdev        string    `yaml:"netdev"        json:"netdev"`        // interface for transfer telemetry, "" sums all but loopback
	ResultDir     string    `yaml:"resultDir"     json:"resultDir"`     // directory for CSV results and the host manifest, "" disables
	Catalog       string    `yaml:"catalog"       json:"catalog"`       // sqlite catalog path, "" disables
	Duplicates    bool      `yaml:"duplicates"    json:"duplicates"`    // rerun cases that already have results, with fresh suffixes
	Datasets      []Dataset `yaml:"datasets"      json:"datasets"`
}

// One named collection of FITS files and the cut grid to run against it
type Dataset struct {
	Name           string    `yaml:"name"           json:"name"`           // leading title component; must not contain "-"
	Bucket         string    `yaml:"bucket"         json:"bucket"`         // S3 bucket holding the files, for s3 loaders
	AuthenticateS3 bool      `yaml:"authenticateS3" json:"authenticateS3"` // sign s3:// requests with the first AWS credential
	HDU            int       `yaml:"hdu"            json:"hdu"`            // HDU index to cut from
	Loaders        []string  `yaml:"loaders"        json:"loaders"`        // access strategies, e.g. section, image, greedy_image, section_s3
	CutShapes      [][]int32 `yaml:"cutShapes"      json:"cutShapes"`      // cut lengths per axis
	CutCounts      []int     `yaml:"cutCounts"      json:"cutCounts"`      // cuts per file
	Files          []string  `yaml:"files"          json:"files"`          // object keys under the bucket, or paths under the mountpoint
	Glob           string    `yaml:"glob"           json:"glob"`           // local glob pattern used verbatim when files is empty
}

func DefaultSuite() *Suite {
	return &Suite{
		NFiles:     25,
		Seed:       123456,
		Throwaways: 3,
		ResultDir:  "bench_results",
	}
}

// Loads a suite from a YAML file. Keys absent from the document keep their
// DefaultSuite values
func LoadSuite(path string) (*Suite, error) {
	s:=DefaultSuite()
	data, err:=os.ReadFile(path)
	if err!=nil { return nil, fmt.Errorf("reading suite: %s", err.Error()) }
	if err:=yaml.Unmarshal(data, s); err!=nil { return nil, fmt.Errorf("parsing suite %s: %s", path, err.Error()) }
	return s, nil
}

// One expanded benchmark case: a dataset accessed through one loader with one
// cut geometry, under one labeled bandwidth condition
type Case struct {
	Title          string // dataset-loader-count-dims-throttle
	Dataset        string
	Loader         string
	Tag            string // backend registry tag parsed from the loader name
	Preload        bool
	HDU            int
	Count          int
	Shape          []int32
	ThrottleKbps   int // externally applied cap this case is labeled with, 0 unthrottled
	Seed           uint32
	AuthenticateS3 bool
	Paths          []string
	Throwaways     int
	ReturnCuts     bool
	Netdev         string
}

// Resolves a loader name to a backend tag plus access modifiers. Names select
// by substring: "section" or "image" picks the backend, "greedy" preloads at
// open, "s3" addresses files as s3:// objects in the dataset bucket
func ParseLoader(name string) (tag string, preload, remote bool, err error) {
	switch {
	case strings.Contains(name, "section"):
		tag="section"
	case strings.Contains(name, "image"):
		tag="image"
	default:
		return "", false, false, fmt.Errorf("loader %q selects no backend, want one of %s", name, strings.Join(backend.Tags(), " "))
	}
	return tag, strings.Contains(name, "greedy"), strings.Contains(name, "s3"), nil
}

// Expands a suite into the cross product of cut shapes, cut counts, loaders
// and throttle labels per dataset, in that nesting order. File lists are
// resolved here: globs expanded, the per-dataset cap applied, and paths
// rewritten as s3:// URLs or prefixed with the mountpoint per loader
func ExpandCases(s *Suite) ([]Case, error) {
	throttles:=s.ThrottlesKbps
	if len(throttles)==0 { throttles=[]int{0} }

	cases:=[]Case{}
	for i:=range(s.Datasets) {
		ds:=&s.Datasets[i]
		if ds.Name=="" || strings.Contains(ds.Name, "-") {
			return nil, fmt.Errorf("dataset name %q must be non-empty and free of %q", ds.Name, "-")
		}
		if len(ds.CutShapes)==0 || len(ds.CutCounts)==0 || len(ds.Loaders)==0 {
			return nil, fmt.Errorf("dataset %s: needs cut shapes, cut counts and loaders", ds.Name)
		}
		files, globbed, err:=resolveFiles(ds, s.NFiles)
		if err!=nil { return nil, err }

		for _, shape:=range(ds.CutShapes) {
			if len(shape)==0 { return nil, fmt.Errorf("dataset %s: empty cut shape", ds.Name) }
			for _, count:=range(ds.CutCounts) {
				if count<=0 { return nil, fmt.Errorf("dataset %s: invalid cut count %d", ds.Name, count) }
				for _, loader:=range(ds.Loaders) {
					if strings.Contains(loader, "-") {
						return nil, fmt.Errorf("dataset %s: loader %q must not contain %q", ds.Name, loader, "-")
					}
					tag, preload, remote, err:=ParseLoader(loader)
					if err!=nil { return nil, fmt.Errorf("dataset %s: %s", ds.Name, err.Error()) }
					paths, err:=casePaths(ds, s.Mountpoint, files, globbed, remote)
					if err!=nil { return nil, err }
					for _, kbps:=range(throttles) {
						title:=strings.Join([]string{
							ds.Name, loader, strconv.Itoa(count), dimsString(shape), throttleString(kbps),
						}, "-")
						cases=append(cases, Case{
							Title: title, Dataset: ds.Name, Loader: loader, Tag: tag, Preload: preload,
							HDU: ds.HDU, Count: count, Shape: shape, ThrottleKbps: kbps, Seed: s.Seed,
							AuthenticateS3: ds.AuthenticateS3, Paths: paths,
							Throwaways: s.Throwaways, ReturnCuts: s.ReturnCuts, Netdev: s.Netdev,
						})
					}
				}
			}
		}
	}
	return cases, nil
}

// File list of a dataset with the per-dataset cap applied. Globs address
// local files only and their matches are used verbatim
func resolveFiles(ds *Dataset, limit int) (files []string, globbed bool, err error) {
	files=ds.Files
	if len(files)==0 && ds.Glob!="" {
		files, err=filepath.Glob(ds.Glob)
		if err!=nil { return nil, false, fmt.Errorf("dataset %s: glob %q: %s", ds.Name, ds.Glob, err.Error()) }
		globbed=true
	}
	if len(files)==0 { return nil, false, fmt.Errorf("dataset %s: no files", ds.Name) }
	if limit>0 && len(files)>limit { files=files[:limit] }
	return files, globbed, nil
}

func casePaths(ds *Dataset, mountpoint string, files []string, globbed, remote bool) ([]string, error) {
	paths:=make([]string, len(files))
	for i, f:=range(files) {
		switch {
		case remote:
			if globbed { return nil, fmt.Errorf("dataset %s: s3 loaders cannot use globbed files", ds.Name) }
			if ds.Bucket=="" { return nil, fmt.Errorf("dataset %s: s3 loaders need a bucket", ds.Name) }
			paths[i]=S3URL(ds.Bucket, f)
		case globbed || mountpoint=="":
			paths[i]=f
		default:
			paths[i]=filepath.Join(mountpoint, f)
		}
	}
	return paths, nil
}

// Conventional S3 URL for an object key in a bucket
func S3URL(bucket, key string) string {
	return "s3://"+bucket+"/"+key
}

func dimsString(shape []int32) string {
	parts:=make([]string, len(shape))
	for i, l:=range(shape) { parts[i]=strconv.FormatInt(int64(l), 10) }
	return strings.Join(parts, "_")
}

// Throttles appear in titles in megabits per second, "None" when unthrottled
func throttleString(kbps int) string {
	if kbps<=0 { return "None" }
	return strconv.Itoa(kbps/1000)
}

// Independent variables recovered from a case title
type CaseKey struct {
	Dataset      string
	Loader       string
	Count        int
	Dims         []int32
	ThrottleKbps int
}

// Parses a case title back into its independent variables, for summary
// tables built from result file names
func ParseTitle(title string) (*CaseKey, error) {
	parts:=strings.Split(title, "-")
	if len(parts)!=5 { return nil, fmt.Errorf("malformed case title %q", title) }
	count, err:=strconv.Atoi(parts[2])
	if err!=nil { return nil, fmt.Errorf("bad cut count in title %q: %s", title, err.Error()) }
	dimParts:=strings.Split(parts[3], "_")
	dims:=make([]int32, len(dimParts))
	for i, d:=range(dimParts) {
		v, err:=strconv.ParseInt(d, 10, 32)
		if err!=nil { return nil, fmt.Errorf("bad dims in title %q: %s", title, err.Error()) }
		dims[i]=int32(v)
	}
	kbps:=0
	if parts[4]!="None" {
		mbps, err:=strconv.Atoi(parts[4])
		if err!=nil { return nil, fmt.Errorf("bad throttle in title %q: %s", title, err.Error()) }
		kbps=mbps*1000
	}
	return &CaseKey{Dataset: parts[0], Loader: parts[1], Count: count, Dims: dims, ThrottleKbps: kbps}, nil
}

// Reports whether results for this case already exist in the result
// directory, and the three-digit suffix a fresh run should use. With
// duplicates disabled an existing result skips the case; with duplicates
// enabled the next free suffix is returned
func CheckExisting(title string, duplicates bool, dir string) (skip bool, suffix string, err error) {
	entries, err:=os.ReadDir(dir)
	if err!=nil {
		if os.IsNotExist(err) { return false, "000", nil }
		return false, "", err
	}
	max:=-1
	for _, e:=range(entries) {
		name:=e.Name()
		if !strings.HasPrefix(name, title+"_benchmark_") || !strings.HasSuffix(name, ".csv") { continue }
		stem:=strings.TrimSuffix(name, ".csv")
		n, err:=strconv.Atoi(stem[len(stem)-3:])
		if err!=nil { continue }
		if n>max { max=n }
	}
	if max<0 { return false, "000", nil }
	if !duplicates { return true, "", nil }
	return false, fmt.Sprintf("%03d", max+1), nil
}
