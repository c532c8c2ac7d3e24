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
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/mlnoga/skycut/internal/monitor"
)

// Writes events as CSV rows of event, path, seconds and megabytes. Case
// identity lives in the result file name, not in the rows
func WriteEventsCSV(w io.Writer, events []monitor.Event) error {
	cw:=csv.NewWriter(w)
	if err:=cw.Write([]string{"event", "path", "seconds", "mb"}); err!=nil { return err }
	for _, ev:=range(events) {
		row:=[]string{
			ev.Name, ev.Path,
			strconv.FormatFloat(ev.Seconds, 'f', 6, 64),
			strconv.FormatFloat(ev.MB, 'f', 6, 64),
		}
		if err:=cw.Write(row); err!=nil { return err }
	}
	cw.Flush()
	return cw.Error()
}

// Writes the event log of one case run to dir as
// "<title>_benchmark_<suffix>.csv", returning the file path
func WriteResultCSV(dir, title, suffix string, events []monitor.Event) (string, error) {
	path:=filepath.Join(dir, title+"_benchmark_"+suffix+".csv")
	file, err:=os.Create(path)
	if err!=nil { return "", err }
	err=WriteEventsCSV(file, events)
	if cerr:=file.Close(); err==nil { err=cerr }
	if err!=nil { return "", fmt.Errorf("%s: %s", path, err.Error()) }
	return path, nil
}

// Saves throwaway pass durations in a distinct file, for later reference.
// Nothing is written when no throwaways ran
func WriteThrowaways(dir, title, suffix string, seconds []float64) error {
	if len(seconds)==0 { return nil }
	lines:=make([]string, len(seconds))
	for i, s:=range(seconds) { lines[i]=strconv.FormatFloat(s, 'f', 6, 64) }
	path:=filepath.Join(dir, title+"_throwaways_"+suffix+".csv")
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// Aggregate statistics over all events sharing one name
type EventSummary struct {
	Event         string
	N             int
	MeanSeconds   float64
	StdDevSeconds float64
	SumSeconds    float64
	MeanMB        float64
	StdDevMB      float64
	SumMB         float64
}

// Indexed cut events aggregate under one key; other names group verbatim
func groupKey(name string) string {
	if rest, ok:=strings.CutPrefix(name, "cut "); ok {
		if _, err:=strconv.Atoi(rest); err==nil { return "cut" }
	}
	return name
}

// Aggregates events by name in first-appearance order, which for cut logs is
// the processing phase order. Standard deviations are sample-based and zero
// for single events
func Summarize(events []monitor.Event) []EventSummary {
	type group struct { secs, mbs []float64 }
	order:=[]string{}
	groups:=map[string]*group{}
	for _, ev:=range(events) {
		key:=groupKey(ev.Name)
		g, ok:=groups[key]
		if !ok {
			g=&group{}
			groups[key]=g
			order=append(order, key)
		}
		g.secs=append(g.secs, ev.Seconds)
		g.mbs =append(g.mbs,  ev.MB)
	}

	sums:=make([]EventSummary, 0, len(order))
	for _, key:=range(order) {
		g:=groups[key]
		s:=EventSummary{
			Event: key, N: len(g.secs),
			MeanSeconds: stat.Mean(g.secs, nil), SumSeconds: floats.Sum(g.secs),
			MeanMB:      stat.Mean(g.mbs,  nil), SumMB:      floats.Sum(g.mbs),
		}
		if s.N>1 {
			s.StdDevSeconds=stat.StdDev(g.secs, nil)
			s.StdDevMB     =stat.StdDev(g.mbs,  nil)
		}
		sums=append(sums, s)
	}
	return sums
}

// Renders event summaries as an aligned text table
func WriteSummary(w io.Writer, sums []EventSummary) {
	fmt.Fprintf(w, "%-28s %5s %12s %12s %12s %12s %12s\n",
		"event", "n", "mean s", "stddev s", "sum s", "mean MB", "sum MB")
	for _, s:=range(sums) {
		fmt.Fprintf(w, "%-28s %5d %12.4f %12.4f %12.4f %12.4f %12.4f\n",
			s.Event, s.N, s.MeanSeconds, s.StdDevSeconds, s.SumSeconds, s.MeanMB, s.SumMB)
	}
}

// A sqlite catalog of benchmark runs and their event telemetry, for queries
// across many suites without reparsing result CSVs
type Catalog struct {
	DB *sql.DB
}

// Opens or creates the catalog database at path and ensures its schema
func OpenCatalog(path string) (*Catalog, error) {
	db, err:=sql.Open("sqlite", path)
	if err!=nil { return nil, err }
	c:=&Catalog{DB: db}
	if err:=c.ensureSchema(); err!=nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureSchema() error {
	stmts:=[]string{
		`CREATE TABLE IF NOT EXISTS runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            suffix TEXT,
            dataset TEXT,
            loader TEXT,
            n_cuts INTEGER,
            dims TEXT,
            throttle_kbps INTEGER,
            seed INTEGER,
            files INTEGER,
            cuts INTEGER,
            seconds REAL,
            net_mb REAL,
            cpu_busy REAL,
            cpu_idle REAL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS events (
            run_id INTEGER NOT NULL,
            seq INTEGER,
            event TEXT NOT NULL,
            path TEXT,
            seconds REAL,
            mb REAL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_title ON runs(title);`,
	}
	for _, stmt:=range(stmts) {
		if _, err:=c.DB.Exec(stmt); err!=nil { return err }
	}
	return nil
}

func (c *Catalog) Close() error {
	if c==nil || c.DB==nil { return nil }
	return c.DB.Close()
}

// Inserts one case result and its events, returning the run id
func (c *Catalog) RecordRun(res *Result, suffix string) (int64, error) {
	tx, err:=c.DB.Begin()
	if err!=nil { return 0, err }
	cs:=&res.Case
	r, err:=tx.Exec(`INSERT INTO runs (title, suffix, dataset, loader, n_cuts, dims, throttle_kbps, seed, files, cuts, seconds, net_mb, cpu_busy, cpu_idle)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		cs.Title, suffix, cs.Dataset, cs.Loader, cs.Count, dimsString(cs.Shape), cs.ThrottleKbps,
		int64(cs.Seed), res.Files, res.Cuts, res.Elapsed, res.NetMB, res.CPUBusy, res.CPUIdle)
	if err!=nil {
		tx.Rollback()
		return 0, err
	}
	id, err:=r.LastInsertId()
	if err!=nil {
		tx.Rollback()
		return 0, err
	}
	if res.Record!=nil {
		stmt, err:=tx.Prepare(`INSERT INTO events (run_id, seq, event, path, seconds, mb) VALUES (?, ?, ?, ?, ?, ?);`)
		if err!=nil {
			tx.Rollback()
			return 0, err
		}
		for _, ev:=range(res.Record.Events) {
			if _, err:=stmt.Exec(id, int64(ev.Seq), ev.Name, ev.Path, ev.Seconds, ev.MB); err!=nil {
				stmt.Close()
				tx.Rollback()
				return 0, err
			}
		}
		stmt.Close()
	}
	return id, tx.Commit()
}

// One cataloged benchmark run
type RunRecord struct {
	ID           int64
	Title        string
	Suffix       string
	Dataset      string
	Loader       string
	Count        int
	Dims         string
	ThrottleKbps int
	Seed         int64
	Files        int
	Cuts         int
	Seconds      float64
	NetMB        float64
	CPUBusy      float64
	CPUIdle      float64
	CreatedAt    time.Time
}

// Returns the latest runs up to limit, newest first
func (c *Catalog) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err:=c.DB.Query(`SELECT id, title, suffix, dataset, loader, n_cuts, dims, throttle_kbps, seed, files, cuts, seconds, net_mb, cpu_busy, cpu_idle, created_at
        FROM runs ORDER BY id DESC LIMIT ?;`, limit)
	if err!=nil { return nil, err }
	defer rows.Close()

	recs:=[]RunRecord{}
	for rows.Next() {
		var rec RunRecord
		if err:=rows.Scan(&rec.ID, &rec.Title, &rec.Suffix, &rec.Dataset, &rec.Loader, &rec.Count, &rec.Dims,
			&rec.ThrottleKbps, &rec.Seed, &rec.Files, &rec.Cuts, &rec.Seconds, &rec.NetMB,
			&rec.CPUBusy, &rec.CPUIdle, &rec.CreatedAt); err!=nil {
			return nil, err
		}
		recs=append(recs, rec)
	}
	return recs, rows.Err()
}

// Returns the stored events of one run in sequence order. Wall timestamps
// are not cataloged; sequence keys preserve ordering
func (c *Catalog) RunEvents(id int64) ([]monitor.Event, error) {
	rows, err:=c.DB.Query(`SELECT seq, event, path, seconds, mb FROM events WHERE run_id=? ORDER BY seq;`, id)
	if err!=nil { return nil, err }
	defer rows.Close()

	events:=[]monitor.Event{}
	for rows.Next() {
		var ev monitor.Event
		var seq int64
		if err:=rows.Scan(&seq, &ev.Name, &ev.Path, &ev.Seconds, &ev.MB); err!=nil { return nil, err }
		ev.Seq=uint64(seq)
		events=append(events, ev)
	}
	return events, rows.Err()
}

// Host and toolchain identity stamped on every result directory, so archived
// benchmark numbers stay interpretable
type Manifest struct {
	CPU           string    `json:"cpu"`
	PhysicalCores int       `json:"physicalCores"`
	LogicalCores  int       `json:"logicalCores"`
	AVX2          bool      `json:"avx2"`
	MemoryMB      uint64    `json:"memoryMB"`
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	GoVersion     string    `json:"goVersion"`
	Time          time.Time `json:"time"`
	Suite         *Suite    `json:"suite,omitempty"` // settings echo
}

func NewManifest(s *Suite) *Manifest {
	return &Manifest{
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.AVX2(),
		MemoryMB:      memory.TotalMemory()/1024/1024,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		Time:          time.Now(),
		Suite:         s,
	}
}

func (m *Manifest) WriteJSON(w io.Writer) error {
	data, err:=jsoniter.ConfigFastest.MarshalIndent(m, "", "  ")
	if err!=nil { return err }
	_, err=w.Write(append(data, '\n'))
	return err
}

// Writes the host manifest with a settings echo to the given path
func WriteManifestFile(path string, s *Suite) error {
	file, err:=os.Create(path)
	if err!=nil { return err }
	err=NewManifest(s).WriteJSON(file)
	if cerr:=file.Close(); err==nil { err=cerr }
	return err
}
