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
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mlnoga/skycut/internal/backend"
	"github.com/mlnoga/skycut/internal/cutter"
	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/monitor"
)

func testContext() *cutter.Context {
	return &cutter.Context{Log: io.Discard, MemoryMB: 1024, MaxThreads: 2}
}

// Writes an empty primary HDU plus one image HDU per shape, with the value
// at flat row-major index i equal to i
func writeRampFile(t *testing.T, dir, name string, shapes []fits.Shape) string {
	t.Helper()
	images:=[]*fits.Image{fits.NewImage()}
	for _, s:=range(shapes) {
		img:=fits.NewImageFromShape(s, nil)
		for i:=range(img.Data) { img.Data[i]=float32(i) }
		images=append(images, img)
	}
	buf:=bytes.Buffer{}
	if err:=fits.WriteMulti(&buf, images); err!=nil { t.Fatalf("writing test images: %s", err.Error()) }
	path:=filepath.Join(dir, name)
	if err:=os.WriteFile(path, buf.Bytes(), 0644); err!=nil { t.Fatalf("writing %s: %s", path, err.Error()) }
	return path
}

func TestGroupKey(t *testing.T) {
	cases:=[][2]string{
		{"cut 0", "cut"},
		{"cut 12", "cut"},
		{"cut x", "cut x"},
		{"cut", "cut"},
		{"init", "init"},
		{"made 5 cuts from 1 files", "made 5 cuts from 1 files"},
	}
	for _, c:=range(cases) {
		if got:=groupKey(c[0]); got!=c[1] { t.Errorf("%q: got %q, expected %q", c[0], got, c[1]) }
	}
}

func TestSummarize(t *testing.T) {
	events:=[]monitor.Event{
		{Seq: 1, Name: "init",      Seconds: 0.25, MB: 0},
		{Seq: 2, Name: "cut 0",     Seconds: 1,    MB: 2},
		{Seq: 3, Name: "cut 1",     Seconds: 2,    MB: 2},
		{Seq: 4, Name: "cut 2",     Seconds: 3,    MB: 2},
		{Seq: 5, Name: "file done", Seconds: 6.25, MB: 6},
	}
	sums:=Summarize(events)
	if len(sums)!=3 { t.Fatalf("got %d groups, expected 3", len(sums)) }
	if sums[0].Event!="init" || sums[1].Event!="cut" || sums[2].Event!="file done" {
		t.Fatalf("group order: %s %s %s", sums[0].Event, sums[1].Event, sums[2].Event)
	}

	cut:=sums[1]
	if cut.N!=3 { t.Errorf("cut n: %d", cut.N) }
	if cut.MeanSeconds!=2 || cut.SumSeconds!=6 || cut.StdDevSeconds!=1 {
		t.Errorf("cut seconds: mean %f sum %f stddev %f", cut.MeanSeconds, cut.SumSeconds, cut.StdDevSeconds)
	}
	if cut.MeanMB!=2 || cut.SumMB!=6 || cut.StdDevMB!=0 {
		t.Errorf("cut MB: mean %f sum %f stddev %f", cut.MeanMB, cut.SumMB, cut.StdDevMB)
	}

	init:=sums[0]
	if init.N!=1 || init.MeanSeconds!=0.25 || init.SumSeconds!=0.25 || init.StdDevSeconds!=0 {
		t.Errorf("init: %+v", init)
	}

	buf:=bytes.Buffer{}
	WriteSummary(&buf, sums)
	lines:=strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines)!=4 { t.Errorf("summary table: %d lines, expected header plus 3", len(lines)) }
	if !strings.Contains(lines[2], "cut") || !strings.Contains(lines[2], "6.0000") {
		t.Errorf("summary cut line: %q", lines[2])
	}
}

func TestEventCSV(t *testing.T) {
	events:=[]monitor.Event{
		{Seq: 1, Name: "init", Path: "weird,name.fits", Seconds: 0.5, MB: 0.25},
		{Seq: 2, Name: "cut 0", Path: "a.fits", Seconds: 1.5, MB: 2},
	}
	buf:=bytes.Buffer{}
	if err:=WriteEventsCSV(&buf, events); err!=nil { t.Fatalf("writing: %s", err.Error()) }

	records, err:=csv.NewReader(&buf).ReadAll()
	if err!=nil { t.Fatalf("reading back: %s", err.Error()) }
	if len(records)!=3 { t.Fatalf("got %d records, expected header plus 2", len(records)) }
	if records[0][0]!="event" || records[0][3]!="mb" { t.Errorf("header: %v", records[0]) }
	if records[1][1]!="weird,name.fits" { t.Errorf("quoted path: %q", records[1][1]) }
	if records[2][0]!="cut 0" || records[2][2]!="1.500000" || records[2][3]!="2.000000" {
		t.Errorf("row: %v", records[2])
	}
}

func TestResultFiles(t *testing.T) {
	dir:=t.TempDir()
	events:=[]monitor.Event{{Seq: 1, Name: "init", Path: "a.fits", Seconds: 0.5, MB: 0.25}}

	path, err:=WriteResultCSV(dir, "t", "007", events)
	if err!=nil { t.Fatalf("result csv: %s", err.Error()) }
	if filepath.Base(path)!="t_benchmark_007.csv" { t.Errorf("result name: %s", path) }
	if _, err:=os.Stat(path); err!=nil { t.Errorf("result file: %s", err.Error()) }

	if err:=WriteThrowaways(dir, "t", "007", []float64{1.5, 2.5}); err!=nil { t.Fatalf("throwaways: %s", err.Error()) }
	data, err:=os.ReadFile(filepath.Join(dir, "t_throwaways_007.csv"))
	if err!=nil { t.Fatalf("throwaways file: %s", err.Error()) }
	if got:=strings.TrimRight(string(data), "\n"); got!="1.500000\n2.500000" { t.Errorf("throwaways content: %q", got) }

	if err:=WriteThrowaways(dir, "t", "008", nil); err!=nil { t.Fatalf("empty throwaways: %s", err.Error()) }
	if _, err:=os.Stat(filepath.Join(dir, "t_throwaways_008.csv")); !os.IsNotExist(err) {
		t.Errorf("empty throwaways wrote a file")
	}
}

func TestCatalog(t *testing.T) {
	path:=filepath.Join(t.TempDir(), "bench.db")
	cat, err:=OpenCatalog(path)
	if err!=nil { t.Fatalf("opening: %s", err.Error()) }

	res:=&Result{
		Case: Case{
			Title: "survey-section-2-40_40-None", Dataset: "survey", Loader: "section",
			Count: 2, Shape: []int32{40, 40}, Seed: 9,
		},
		Elapsed: 1.5, Files: 1, Cuts: 2, NetMB: 3.25, CPUBusy: 1, CPUIdle: 3,
		Record: &monitor.Record{Events: []monitor.Event{
			{Seq: 11, Name: "init",  Path: "a.fits", Seconds: 0.5, MB: 0.25},
			{Seq: 12, Name: "cut 0", Path: "a.fits", Seconds: 1,   MB: 2},
		}},
	}
	id, err:=cat.RecordRun(res, "000")
	if err!=nil { t.Fatalf("recording: %s", err.Error()) }
	if id<=0 { t.Fatalf("run id %d", id) }

	recs, err:=cat.RecentRuns(5)
	if err!=nil { t.Fatalf("recent runs: %s", err.Error()) }
	if len(recs)!=1 { t.Fatalf("got %d runs, expected 1", len(recs)) }
	rec:=recs[0]
	if rec.Title!=res.Case.Title || rec.Dataset!="survey" || rec.Loader!="section" || rec.Suffix!="000" {
		t.Errorf("run identity: %+v", rec)
	}
	if rec.Count!=2 || rec.Dims!="40_40" || rec.ThrottleKbps!=0 || rec.Seed!=9 {
		t.Errorf("run variables: %+v", rec)
	}
	if rec.Files!=1 || rec.Cuts!=2 || rec.Seconds!=1.5 || rec.NetMB!=3.25 || rec.CPUBusy!=1 || rec.CPUIdle!=3 {
		t.Errorf("run measurements: %+v", rec)
	}
	if rec.CreatedAt.IsZero() { t.Errorf("created_at not stamped") }

	events, err:=cat.RunEvents(id)
	if err!=nil { t.Fatalf("run events: %s", err.Error()) }
	if len(events)!=2 { t.Fatalf("got %d events, expected 2", len(events)) }
	if events[0].Seq!=11 || events[0].Name!="init" || events[0].MB!=0.25 { t.Errorf("event 0: %+v", events[0]) }
	if events[1].Name!="cut 0" || events[1].Seconds!=1 { t.Errorf("event 1: %+v", events[1]) }

	if err:=cat.Close(); err!=nil { t.Fatalf("closing: %s", err.Error()) }

	// reopening must keep rows and tolerate the existing schema
	cat, err=OpenCatalog(path)
	if err!=nil { t.Fatalf("reopening: %s", err.Error()) }
	defer cat.Close()
	recs, err=cat.RecentRuns(5)
	if err!=nil { t.Fatalf("recent runs after reopen: %s", err.Error()) }
	if len(recs)!=1 { t.Errorf("got %d runs after reopen", len(recs)) }
}

func TestManifest(t *testing.T) {
	m:=NewManifest(nil)
	if m.OS!=runtime.GOOS || m.Arch!=runtime.GOARCH || m.GoVersion!=runtime.Version() {
		t.Errorf("toolchain identity: %+v", m)
	}
	if m.MemoryMB==0 { t.Errorf("memory not detected") }
	if m.Time.IsZero() { t.Errorf("time not stamped") }

	buf:=bytes.Buffer{}
	if err:=m.WriteJSON(&buf); err!=nil { t.Fatalf("writing: %s", err.Error()) }
	decoded:=map[string]interface{}{}
	if err:=jsoniter.ConfigFastest.Unmarshal(buf.Bytes(), &decoded); err!=nil { t.Fatalf("reading back: %s", err.Error()) }
	if decoded["goVersion"]!=runtime.Version() { t.Errorf("goVersion: %v", decoded["goVersion"]) }
	if _, ok:=decoded["suite"]; ok { t.Errorf("nil suite echoed") }

	buf.Reset()
	if err:=NewManifest(DefaultSuite()).WriteJSON(&buf); err!=nil { t.Fatalf("writing with suite: %s", err.Error()) }
	decoded=map[string]interface{}{}
	if err:=jsoniter.ConfigFastest.Unmarshal(buf.Bytes(), &decoded); err!=nil { t.Fatalf("reading back: %s", err.Error()) }
	suite, ok:=decoded["suite"].(map[string]interface{})
	if !ok { t.Fatalf("suite echo missing: %v", decoded) }
	if suite["nFiles"]!=float64(25) || suite["seed"]!=float64(123456) {
		t.Errorf("suite echo: %v", suite)
	}
}

func TestWaitForMountLog(t *testing.T) {
	dir:=t.TempDir()

	ready:=filepath.Join(dir, "ready.log")
	if err:=os.WriteFile(ready, []byte("fuse.DEBUG starting\nmain.INFO successfully mounted: nishapur\n"), 0644); err!=nil {
		t.Fatalf("writing log: %s", err.Error())
	}
	if err:=WaitForMountLog(ready, "", time.Second); err!=nil { t.Errorf("marker present: %s", err.Error()) }

	late:=filepath.Join(dir, "late.log")
	go func() {
		time.Sleep(50*time.Millisecond)
		os.WriteFile(late, []byte("starting up\nsuccessfully mounted\n"), 0644)
	}()
	if err:=WaitForMountLog(late, MountedMarker, 5*time.Second); err!=nil { t.Errorf("marker appearing: %s", err.Error()) }

	silent:=filepath.Join(dir, "silent.log")
	if err:=os.WriteFile(silent, []byte("nothing to see\n"), 0644); err!=nil { t.Fatalf("writing log: %s", err.Error()) }
	err:=WaitForMountLog(silent, "", 100*time.Millisecond)
	if err==nil { t.Fatalf("marker absent: expected timeout error") }
	if !strings.Contains(err.Error(), MountedMarker) { t.Errorf("timeout error: %s", err.Error()) }
}

func TestGoofysArgs(t *testing.T) {
	args:=GoofysArgs("nishapur", "/mnt/s3")
	if args[0]!="goofys" || args[len(args)-2]!="nishapur" || args[len(args)-1]!="/mnt/s3" {
		t.Errorf("args: %v", args)
	}
}

func TestRunCase(t *testing.T) {
	dir:=t.TempDir()
	path:=writeRampFile(t, dir, "survey.fits", []fits.Shape{{64, 64}})
	cs:=&Case{
		Title: "local-section-3-8_8-None", Dataset: "local", Loader: "section", Tag: "section",
		HDU: 1, Count: 3, Shape: []int32{8, 8}, Seed: 5,
		Paths: []string{path}, Throwaways: 2, ReturnCuts: true,
	}

	res, err:=Run(testContext(), cs)
	if err!=nil { t.Fatalf("running: %s", err.Error()) }
	defer func() {
		for _, b:=range(res.Batches) { b.Close() }
	}()

	if len(res.Throwaways)!=2 { t.Errorf("throwaways: %d", len(res.Throwaways)) }
	for i, s:=range(res.Throwaways) {
		if s<=0 { t.Errorf("throwaway %d: %f s", i, s) }
	}
	if res.Cuts!=3 || res.Files!=1 { t.Errorf("cuts %d files %d", res.Cuts, res.Files) }
	if res.Elapsed<=0 { t.Errorf("elapsed %f", res.Elapsed) }
	if len(res.Batches)!=1 || len(res.Batches[0].Cuts)!=3 { t.Errorf("batches not returned") }
	events:=res.Record.Events
	if len(events)==0 || events[len(events)-1].Name!="made 3 cuts from 1 files" {
		t.Errorf("topline event missing")
	}
	if s:=res.Summary(); !strings.Contains(s, "MB transferred") || !strings.Contains(s, "% CPU usage") {
		t.Errorf("summary: %q", s)
	}

	cs.ReturnCuts=false
	res, err=Run(testContext(), cs)
	if err!=nil { t.Fatalf("running without cuts: %s", err.Error()) }
	if res.Batches!=nil { t.Errorf("batches returned despite ReturnCuts off") }

	cs.Tag="bogus"
	_, err=Run(testContext(), cs)
	if err==nil { t.Fatalf("bogus backend: expected error") }
	if !errors.Is(err, backend.ErrUnknownBackend) { t.Errorf("bogus backend: %s", err.Error()) }
	if !strings.Contains(err.Error(), "throwaway 0") { t.Errorf("failing phase: %s", err.Error()) }

	_, err=Run(testContext(), &Case{Title: "empty"})
	if err==nil || !strings.Contains(err.Error(), "no paths") { t.Errorf("empty case: %v", err) }
}

func TestRunSuite(t *testing.T) {
	dir:=t.TempDir()
	writeRampFile(t, dir, "a.fits", []fits.Shape{{32, 32}})

	s:=DefaultSuite()
	s.ResultDir=filepath.Join(dir, "results")
	s.Catalog=filepath.Join(dir, "bench.db")
	s.Throwaways=0
	s.Seed=9
	s.Datasets=[]Dataset{{
		Name: "local", HDU: 1, Loaders: []string{"section"},
		CutShapes: [][]int32{{8, 8}}, CutCounts: []int{2},
		Glob: filepath.Join(dir, "*.fits"),
	}}

	ress, err:=RunSuite(testContext(), s)
	if err!=nil { t.Fatalf("running suite: %s", err.Error()) }
	if len(ress)!=1 { t.Fatalf("got %d results, expected 1", len(ress)) }
	if ress[0].Cuts!=2 { t.Errorf("cuts %d", ress[0].Cuts) }

	title:="local-section-2-8_8-None"
	if _, err:=os.Stat(filepath.Join(s.ResultDir, title+"_benchmark_000.csv")); err!=nil {
		t.Errorf("result csv: %s", err.Error())
	}
	if _, err:=os.Stat(filepath.Join(s.ResultDir, "host_manifest.json")); err!=nil {
		t.Errorf("manifest: %s", err.Error())
	}
	if _, err:=os.Stat(filepath.Join(s.ResultDir, title+"_throwaways_000.csv")); !os.IsNotExist(err) {
		t.Errorf("throwaways file written despite zero throwaways")
	}
	cat, err:=OpenCatalog(s.Catalog)
	if err!=nil { t.Fatalf("opening catalog: %s", err.Error()) }
	recs, err:=cat.RecentRuns(10)
	cat.Close()
	if err!=nil { t.Fatalf("recent runs: %s", err.Error()) }
	if len(recs)!=1 || recs[0].Title!=title { t.Errorf("catalog runs: %+v", recs) }

	// existing results skip the case
	ress, err=RunSuite(testContext(), s)
	if err!=nil { t.Fatalf("rerunning suite: %s", err.Error()) }
	if len(ress)!=0 { t.Errorf("rerun executed %d cases, expected 0", len(ress)) }

	// with duplicates on, the case reruns under the next suffix
	s.Duplicates=true
	ress, err=RunSuite(testContext(), s)
	if err!=nil { t.Fatalf("duplicate run: %s", err.Error()) }
	if len(ress)!=1 { t.Fatalf("duplicate run executed %d cases", len(ress)) }
	if _, err:=os.Stat(filepath.Join(s.ResultDir, title+"_benchmark_001.csv")); err!=nil {
		t.Errorf("duplicate result csv: %s", err.Error())
	}
}
