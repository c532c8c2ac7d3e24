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


package monitor

import (
	"math"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestEventLineFormat(t *testing.T) {
	ev:=Event{Seq: 1, Time: time.Now(), Name: "got data", Path: "s3://bucket/img.fits", Seconds: 0.125, MB: 2.5}
	line:=ev.Line()
	if line!="got data,s3://bucket/img.fits,0.125 s,2.500 MB" {
		t.Errorf("line=%q", line)
	}
	re:=regexp.MustCompile(`^[^,]*,[^,]*,(\d+\.?\d*) s,(\d+\.?\d*) MB$`)
	m:=re.FindStringSubmatch(line)
	if m==nil { t.Fatalf("line %q does not match the telemetry format", line) }
	if m[1]!="0.125" || m[2]!="2.500" { t.Errorf("extracted %q and %q from %q", m[1], m[2], line) }
}

func TestNoteLapAccounting(t *testing.T) {
	xfer:=&Counter{}
	rec:=NewRecord(xfer, nil)
	xfer.Add(1000000)
	if ev:=rec.Note("got data", "a.fits"); ev.MB!=1.0 {
		t.Errorf("first lap volume %f, expected 1.0", ev.MB)
	}
	xfer.Add(500000)
	if ev:=rec.Note("got data", "a.fits"); ev.MB!=0.5 {
		t.Errorf("second lap volume %f, expected 0.5", ev.MB)
	}
	if ev:=rec.NoteTotal("file done", "a.fits"); ev.MB!=1.5 {
		t.Errorf("total volume %f, expected 1.5", ev.MB)
	}
	if len(rec.Events)!=3 { t.Errorf("recorded %d events, expected 3", len(rec.Events)) }
}

func TestLapVolumesSumToTotal(t *testing.T) {
	xfer:=&Counter{}
	rec:=NewRecord(xfer, nil)
	perCut:=int64(40*40*4)
	n:=25
	for i:=0; i<n; i++ {
		xfer.Add(perCut)
		rec.Note("got data", "synth.fits")
	}
	ev:=rec.NoteTotal("made 25 cuts from 1 files", "")
	want:=float64(int64(n)*perCut)/1e6
	if ev.MB!=want { t.Errorf("total volume %f, expected %f", ev.MB, want) }
	sum:=0.0
	for _,e:=range(rec.Events[:n]) { sum+=e.MB }
	if math.Abs(sum-want)>1e-9 { t.Errorf("lap volumes sum to %f, expected %f", sum, want) }
}

func TestSequenceKeysUnique(t *testing.T) {
	a:=NewRecord(&Counter{}, nil)
	b:=NewRecord(&Counter{}, nil)
	for i:=0; i<5; i++ {
		a.Note("got data", "a.fits")
		b.Note("got data", "b.fits")
	}
	seen:=map[uint64]bool{}
	for _,ev:=range(append(append([]Event{}, a.Events...), b.Events...)) {
		if seen[ev.Seq] { t.Errorf("duplicate event key %d", ev.Seq) }
		seen[ev.Seq]=true
	}
	for i:=1; i<len(a.Events); i++ {
		if a.Events[i].Seq<=a.Events[i-1].Seq {
			t.Errorf("keys not increasing: %d after %d", a.Events[i].Seq, a.Events[i-1].Seq)
		}
	}
}

func TestMergeRestoresOrder(t *testing.T) {
	a:=NewRecord(&Counter{}, nil)
	b:=NewRecord(&Counter{}, nil)
	a.Note("planned cuts", "a.fits")
	b.Note("planned cuts", "b.fits")
	a.Note("got data", "a.fits")
	b.Note("got data", "b.fits")
	a.Merge(b)
	if len(a.Events)!=4 { t.Fatalf("merged %d events, expected 4", len(a.Events)) }
	for i:=1; i<len(a.Events); i++ {
		if a.Events[i].Seq<=a.Events[i-1].Seq {
			t.Errorf("merge broke key order at %d: %d after %d", i, a.Events[i].Seq, a.Events[i-1].Seq)
		}
	}
	if a.Events[0].Path!="a.fits" || a.Events[1].Path!="b.fits" {
		t.Errorf("merge lost interleaving: %s, %s", a.Events[0].Path, a.Events[1].Path)
	}
	a.Merge(nil) // must be a no-op
	if len(a.Events)!=4 { t.Errorf("nil merge changed the log to %d events", len(a.Events)) }
}

func TestRecordEcho(t *testing.T) {
	out:=strings.Builder{}
	rec:=NewRecord(&Counter{}, &out)
	rec.Note("got data", "a.fits")
	rec.NoteTotal("file done", "a.fits")
	lines:=strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines)!=2 { t.Fatalf("echoed %d lines, expected 2", len(lines)) }
	for _,l:=range(lines) {
		if strings.Count(l, ",")!=3 { t.Errorf("echoed line %q lacks the four comma fields", l) }
	}
	if rec.String()!=out.String() { t.Errorf("String() disagrees with echoed output") }
}

func TestParseTopline(t *testing.T) {
	events:=[]Event{
		{Seq: 1, Name: "planned cuts", Path: "a.fits", Seconds: 0.010, MB: 0},
		{Seq: 2, Name: "got data", Path: "a.fits", Seconds: 0.125, MB: 25},
		{Seq: 3, Name: "made 25 cuts from 5 files", Path: "", Seconds: 2.0, MB: 50.0},
	}
	rate, weight, err:=ParseTopline(events)
	if err!=nil { t.Fatalf("parse: %s", err.Error()) }
	if rate!=12.5 { t.Errorf("rate=%f cuts/s, expected 12.5", rate) }
	if weight!=2.0 { t.Errorf("weight=%f MB/cut, expected 2.0", weight) }
}

func TestParseToplineErrors(t *testing.T) {
	if _, _, err:=ParseTopline(nil); err==nil {
		t.Errorf("expected error for empty log")
	}
	evs:=[]Event{{Seq: 1, Name: "file done", Path: "a.fits", Seconds: 1.5, MB: 3}}
	if _, _, err:=ParseTopline(evs); err==nil {
		t.Errorf("expected error for top line without a cut count")
	}
	evs=[]Event{{Seq: 1, Name: "made 5 cuts from 1 files", Seconds: 0, MB: 3}}
	if _, _, err:=ParseTopline(evs); err==nil {
		t.Errorf("expected error for zero duration")
	}
}

func TestStopwatch(t *testing.T) {
	s:=Stopwatch{}
	if s.Started() { t.Errorf("zero stopwatch reports started") }
	if s.Peek()!=0 || s.Total()!=0 { t.Errorf("zero stopwatch reports nonzero laps") }
	s.Click()
	if !s.Started() { t.Errorf("click did not start the watch") }
	time.Sleep(2*time.Millisecond)
	if s.Peek()<=0 { t.Errorf("lap did not advance") }
	total:=s.Total()
	s.Click()
	if p:=s.Peek(); p>=total { t.Errorf("click did not restart the lap: %f>=%f", p, total) }
}

func TestCounter(t *testing.T) {
	c:=Counter{}
	c.Add(250000)
	if c.Bytes()!=250000 { t.Errorf("bytes=%d, expected 250000", c.Bytes()) }
	if c.MBTotal()!=0.25 { t.Errorf("total=%f MB, expected 0.25", c.MBTotal()) }
	if c.MBSince()!=0.25 { t.Errorf("since=%f MB, expected 0.25", c.MBSince()) }
	c.Mark()
	if c.MBSince()!=0 { t.Errorf("since=%f MB after mark, expected 0", c.MBSince()) }
	c.Add(1000000)
	if c.MBSince()!=1.0 { t.Errorf("since=%f MB, expected 1.0", c.MBSince()) }
	if c.MBTotal()!=1.25 { t.Errorf("total=%f MB, expected 1.25", c.MBTotal()) }
}
