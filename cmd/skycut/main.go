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
	"compress/gzip"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mlnoga/skycut/internal/backend"
	"github.com/mlnoga/skycut/internal/bench"
	"github.com/mlnoga/skycut/internal/cutter"
	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/monitor"
	"github.com/mlnoga/skycut/internal/rest"
	"github.com/mlnoga/skycut/internal/sampler"
	"github.com/pbnjay/memory"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var backendTag = flag.String("backend", "section", "storage backend `tag`: section reads byte ranges per cut, image decodes files fully on open")
var hdu     = flag.Int("hdu", 0, "HDU `index` to cut from")
var n       = flag.Int("n", 5, "number of random cuts per file")
var lens    = flag.String("len", "40,40", "comma-separated per-axis cut `lengths`, fitted to each image's rank")
var vari    = flag.String("vari", "", "comma-separated per-axis end `jitter`, blank for none")
var seed    = flag.Uint("seed", 123456, "random sampling `seed` for reproducible cuts")
var preload = flag.Bool("preload", false, "materialize lazy HDU contents right after opening")
var wcs     = flag.Bool("wcs", false, "derive world coordinates during initialization")
var auth    = flag.Bool("auth", false, "sign s3:// requests with the first AWS credential found")
var threads = flag.Int("threads", 0, "parallel file initializations, 0=all cores")
var mem     = flag.Int("mem", int((totalMiBs*7)/10), "`MiB` of memory for in-memory image staging (default: 70% of total)")
var netdev  = flag.String("netdev", "", "network `interface` for bench transfer counters, blank sums all except loopback")

var log  = flag.String("log", "", "append log output to `file` in addition to stdout")
var out  = flag.String("out", "", "save cuts to `file`; suffix selects FITS, JPG or TIFF; %d expands to the cut index")
var db   = flag.String("db", "", "benchmark catalog sqlite `file`; overrides the suite setting")
var csv  = flag.String("csv", "", "write telemetry events as CSV to `file`, - for stdout")
var jsonOut = flag.Bool("json", false, "print machine-readable JSON instead of text summaries")

var port   = flag.Int("port", 8080, "serve the REST API on `port`")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "serve: switch to user `uid` before serving (requires root)")

func main() {
	logWriter:=io.Writer(os.Stdout)
	start:=time.Now()
	flag.Usage=func(){
		fmt.Fprintf(logWriter, `Skycut Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (cut|stat|bench|make|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  cut     Cut random regions from the given FITS files or URLs
  stat    Show HDU inventories of the given FITS files
  bench   Run a benchmark suite from a YAML settings file, or list cataloged runs with -db
  make    Generate a synthetic FITS corpus in the given directory
  serve   Serve the REST cutout API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log!="" {
		f, err:=os.OpenFile(*log, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err!=nil {
			fmt.Fprintf(logWriter, "Unable to open logfile '%s': %s\n", *log, err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		logWriter=io.MultiWriter(os.Stdout, f)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	c:=cutter.NewContext(logWriter)
	if *threads>0 { c.MaxThreads=*threads }
	if *mem>0     { c.MemoryMB=*mem }

	// run actions
	var err error
	switch args[0] {
	case "cut":
		err=cmdCut(c, args[1:])

	case "stat":
		err=cmdStat(c, args[1:])

	case "bench":
		err=cmdBench(c, args[1:])

	case "make":
		err=cmdMake(c, args[1:])

	case "serve":
		rest.MakeSandbox(logWriter, *chroot, *setuid)
		err=rest.Serve(c, *port)

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed:=time.Now().Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Globs local filename patterns into concrete paths. Remote s3:// and
// http(s):// URLs pass through verbatim
func globArgs(patterns []string) ([]string, error) {
	paths:=[]string{}
	for _,pattern:=range(patterns) {
		if strings.Contains(pattern, "://") {
			paths=append(paths, pattern)
			continue
		}
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, err }
		if len(matches)==0 { return nil, fmt.Errorf("no files match %s", pattern) }
		paths=append(paths, matches...)
	}
	if len(paths)==0 { return nil, errors.New("need at least one input file") }
	return paths, nil
}

// Parses a comma-separated list of positive integers, e.g. the -len and
// -vari flag values. A blank string yields nil
func parseInt32List(s string) ([]int32, error) {
	if s=="" { return nil, nil }
	parts:=strings.Split(s, ",")
	vals:=make([]int32, len(parts))
	for i,part:=range(parts) {
		v, err:=strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err!=nil { return nil, fmt.Errorf("%q is not a valid integer", part) }
		vals[i]=int32(v)
	}
	return vals, nil
}

func printJSON(w io.Writer, v interface{}) error {
	m, err:=jsoniter.ConfigFastest.MarshalIndent(v, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(w, "%s\n", string(m))
	return nil
}

type fileReport struct {
	Path  string        `json:"path"`
	Shape fits.Shape    `json:"shape"`
	Boxes sampler.Batch `json:"boxes"`
}

type cutReport struct {
	ElapsedSeconds float64         `json:"elapsedSeconds"`
	Files          []fileReport    `json:"files"`
	Events         []monitor.Event `json:"events"`
}

// Perform the cut command
func cmdCut(c *cutter.Context, args []string) error {
	paths, err:=globArgs(args)
	if err!=nil { return err }
	lengths, err:=parseInt32List(*lens)
	if err!=nil { return fmt.Errorf("-len: %s", err.Error()) }
	if len(lengths)==0 { return errors.New("-len: need at least one cut length") }
	variances, err:=parseInt32List(*vari)
	if err!=nil { return fmt.Errorf("-vari: %s", err.Error()) }

	params:=&cutter.Params{
		HDU: *hdu, Count: *n, Lengths: lengths, Variances: variances,
		Seed: uint32(*seed), WCS: *wcs, AuthenticateS3: *auth,
	}
	opts:=backend.Options{Backend: *backendTag, Preload: *preload, Monitor: &monitor.Counter{}, Log: c.Log}

	ress, elapsed, rec, err:=cutter.CutFiles(c, paths, opts, params)
	if err!=nil { return err }
	defer func() {
		for _,res:=range(ress) { res.Close() }
	}()

	if *csv!="" {
		w:=io.Writer(os.Stdout)
		if *csv!="-" {
			f, err:=os.Create(*csv)
			if err!=nil { return err }
			defer f.Close()
			w=f
		}
		if err:=bench.WriteEventsCSV(w, rec.Events); err!=nil { return err }
	}

	if *jsonOut {
		report:=cutReport{ElapsedSeconds: elapsed, Events: rec.Events}
		for _,res:=range(ress) {
			report.Files=append(report.Files, fileReport{Path: res.Init.File.Path, Shape: res.Shape, Boxes: res.Batch})
		}
		if err:=printJSON(c.Log, &report); err!=nil { return err }
	} else {
		fmt.Fprintf(c.Log, "\n")
		bench.WriteSummary(c.Log, bench.Summarize(rec.Events))
		if rate, weight, err:=monitor.ParseTopline(rec.Events); err==nil {
			fmt.Fprintf(c.Log, "%.1f cuts/s at %.3f MB/cut\n", rate, weight)
		}
	}

	if *out!="" { return exportCuts(c, ress, *out) }
	return nil
}

// Saves all cuts under the output pattern, expanding %d to the running cut
// index. A pattern without %d may only receive a single cut
func exportCuts(c *cutter.Context, ress []*cutter.FileCuts, pattern string) error {
	total:=0
	for _,res:=range(ress) { total+=len(res.Cuts) }
	multi:=strings.Contains(pattern, "%")
	if total>1 && !multi { return fmt.Errorf("-out %s: need a %%d pattern to save %d cuts", pattern, total) }

	i:=0
	for _,res:=range(ress) {
		for _,cut:=range(res.Cuts) {
			name:=pattern
			if multi { name=fmt.Sprintf(pattern, i) }
			if err:=saveCut(cut, name); err!=nil { return fmt.Errorf("%s: %s", name, err.Error()) }
			fmt.Fprintf(c.Log, "saved %s\n", name)
			i++
		}
	}
	return nil
}

func saveCut(cut *fits.Image, name string) error {
	lower:=strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg"):
		min, max:=cut.MinMax()
		if !(max>min) { max=min+1 }
		return cut.WriteMonoJPGToFile(name, min, max, 1.0, 95)
	case strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff"):
		min, max:=cut.MinMax()
		if !(max>min) { max=min+1 }
		if len(cut.Naxisn)>=3 && cut.Naxisn[2]==3 {
			return cut.WriteTIFF16ToFile(name, min, max, 1.0)
		}
		return cut.WriteMonoTIFF16ToFile(name, min, max, 1.0)
	default:
		return cut.WriteFile(name)
	}
}

// Perform the stat command
func cmdStat(c *cutter.Context, args []string) error {
	paths, err:=globArgs(args)
	if err!=nil { return err }

	stats:=make([]*fits.FileStat, 0, len(paths))
	for _,p:=range(paths) {
		stat, err:=fits.Stat(p, c.Log)
		if err!=nil { return fmt.Errorf("%s: %s", p, err.Error()) }
		stats=append(stats, stat)
	}
	if *jsonOut { return printJSON(c.Log, stats) }

	for _,stat:=range(stats) {
		fmt.Fprintf(c.Log, "%s: %d bytes, %d HDUs\n", stat.Path, stat.FileBytes, len(stat.HDUs))
		fmt.Fprintf(c.Log, "%5s %-12s %-12s %7s %-16s %12s\n", "hdu", "name", "type", "bitpix", "shape", "data bytes")
		for _,h:=range(stat.HDUs) {
			fmt.Fprintf(c.Log, "%5d %-12s %-12s %7d %-16s %12d\n", h.Index, h.Name, h.Type, h.Bitpix, h.Shape.String(), h.DataBytes)
		}
	}
	return nil
}

// Perform the bench command
func cmdBench(c *cutter.Context, args []string) error {
	if len(args)<1 {
		if *db=="" { return errors.New("need a YAML settings file, or -db to list cataloged runs") }
		return listRuns(c, *db)
	}

	s, err:=bench.LoadSuite(args[0])
	if err!=nil { return err }
	if *netdev!="" { s.Netdev=*netdev }
	if *db!=""     { s.Catalog=*db }

	ress, err:=bench.RunSuite(c, s)
	if err!=nil { return err }
	if *jsonOut { return printJSON(c.Log, ress) }
	fmt.Fprintf(c.Log, "\n%d cases run\n", len(ress))
	return nil
}

func listRuns(c *cutter.Context, path string) error {
	cat, err:=bench.OpenCatalog(path)
	if err!=nil { return err }
	defer cat.Close()

	recs, err:=cat.RecentRuns(50)
	if err!=nil { return err }
	if *jsonOut { return printJSON(c.Log, recs) }

	fmt.Fprintf(c.Log, "%4s %-44s %-6s %6s %6s %9s %9s %s\n", "id", "title", "suffix", "files", "cuts", "seconds", "net MB", "created")
	for _,r:=range(recs) {
		fmt.Fprintf(c.Log, "%4d %-44s %-6s %6d %6d %9.3f %9.3f %s\n",
			r.ID, r.Title, r.Suffix, r.Files, r.Cuts, r.Seconds, r.NetMB, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// Corpus axes for the make command. Large frames skip the multi-HDU variants;
// multiband dimensions are row-major with the band axis first
var corpusShapes=[]struct {
	name string
	dims fits.Shape
}{
	{"small",     fits.Shape{1000, 1000}},
	{"medium",    fits.Shape{4000, 4000}},
	{"large",     fits.Shape{12000, 12000}},
	{"multiband", fits.Shape{50, 1000, 1000}},
}

var corpusGenerators  =[]string{"normal0", "normal1", "uniform1"}
var corpusCompressions=[]string{"none", "gz"}
var corpusHDUCounts   =[]int{1, 3}

var corpusDtypes=[]struct {
	name   string
	bitpix int32
}{
	{"int8",    8},
	{"float32", -32},
	{"float64", -64},
}

// Perform the make command: generate a synthetic FITS corpus covering the
// shape, generator, dtype, compression and HDU count axes
func cmdMake(c *cutter.Context, args []string) error {
	if len(args)<1 { return errors.New("need a target directory") }
	dir:=args[0]
	if err:=os.MkdirAll(dir, 0755); err!=nil { return err }

	written:=0
	fileSeed:=uint64(*seed)
	for _,shape:=range(corpusShapes) {
		for _,genName:=range(corpusGenerators) {
			gen:=fits.GeneratorPresets[genName]
			for _,dtype:=range(corpusDtypes) {
				for _,hduCount:=range(corpusHDUCounts) {
					if hduCount>1 && shape.name=="large" { continue }
					for _,compression:=range(corpusCompressions) {
						name:=fmt.Sprintf("%s_%s_%s_%s_%dhdu.fits", shape.name, genName, dtype.name, compression, hduCount)
						if compression=="gz" { name+=".gz" }

						// all HDUs are generated in memory before writing
						needMiBs:=uint64(shape.dims.Pixels())*4*uint64(hduCount)>>20
						if needMiBs>uint64(c.MemoryMB) {
							fmt.Fprintf(c.Log, "skipping %s: needs %d MiB, have %d\n", name, needMiBs, c.MemoryMB)
							continue
						}

						path:=filepath.Join(dir, name)
						size, err:=writeCorpusFile(path, gen, shape.dims, dtype.bitpix, hduCount, compression=="gz", fileSeed)
						if err!=nil { return fmt.Errorf("%s: %s", path, err.Error()) }
						fmt.Fprintf(c.Log, "wrote %s: %d HDUs of %s, %.1f MB\n", path, hduCount, shape.dims.String(), float64(size)/1e6)
						written++
						fileSeed++
					}
				}
			}
		}
	}
	fmt.Fprintf(c.Log, "%d corpus files written to %s\n", written, dir)
	return nil
}

func writeCorpusFile(path string, gen fits.Generator, dims fits.Shape, bitpix int32, hduCount int, compress bool, seed uint64) (int64, error) {
	images:=make([]*fits.Image, hduCount)
	for i:=range(images) {
		img, err:=fits.NewImageFromRandom(gen, dims.Reversed(), seed+uint64(i))
		if err!=nil { return 0, err }
		img.Bitpix=bitpix
		images[i]=img
	}

	file, err:=os.Create(path)
	if err!=nil { return 0, err }
	defer file.Close()

	var w io.Writer=file
	var gz *gzip.Writer
	if compress {
		gz=gzip.NewWriter(file)
		w=gz
	}
	if err:=fits.WriteMulti(w, images); err!=nil { return 0, err }
	if gz!=nil {
		// flush the compressed stream before measuring on-disk size
		if err:=gz.Close(); err!=nil { return 0, err }
	}

	info, err:=file.Stat()
	if err!=nil { return 0, err }
	return info.Size(), nil
}
