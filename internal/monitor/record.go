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
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Process-global event sequence. Wall-clock timestamps alone cannot key an
// event log safely: at high call rates they collide, and colliding keys make
// log merges silently drop events. The counter guarantees unique, strictly
// increasing keys; the timestamp stays attached for human consumption
var seqCounter uint64

func nextSeq() uint64 {
	return atomic.AddUint64(&seqCounter, 1)
}

// One telemetry event: what happened, to which file, how long the lap took,
// and how much data moved during it
type Event struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Name    string    `json:"event"`
	Path    string    `json:"path"`
	Seconds float64   `json:"seconds"`
	MB      float64   `json:"mb"`
}

// Renders the event as the comma-joined log line consumed by downstream
// aggregators. The duration and volume phrases embed plain decimal numbers
// so a generic regex can extract them
func (e Event) Line() string {
	return fmt.Sprintf("%s,%s,%.3f s,%.3f MB", e.Name, e.Path, e.Seconds, e.MB)
}

// An append-only telemetry log owned by one processing call. Events are
// stamped with lap seconds from the stopwatch and lap megabytes from the
// transfer gauge; byte accounting is always delegated to the gauge, never
// computed here. A Record is not safe for concurrent use; per-file records
// are merged only after each file's processing completes
type Record struct {
	Watch  *Stopwatch `json:"-"`
	Xfer   Transfer   `json:"-"`
	Out    io.Writer  `json:"-"` // optional echo target for event lines
	Events []Event    `json:"events"`
}

func NewRecord(xfer Transfer, out io.Writer) *Record {
	r:=&Record{Watch: &Stopwatch{}, Xfer: xfer, Out: out}
	r.Watch.Start()
	xfer.Mark()
	return r
}

func (r *Record) append(ev Event) Event {
	r.Events=append(r.Events, ev)
	if r.Out!=nil {
		fmt.Fprintln(r.Out, ev.Line())
	}
	return ev
}

// Appends an event carrying lap time and lap volume, then starts a new lap
func (r *Record) Note(event, path string) Event {
	ev:=Event{
		Seq:     nextSeq(),
		Time:    time.Now(),
		Name:    event,
		Path:    path,
		Seconds: r.Watch.Peek(),
		MB:      r.Xfer.MBSince(),
	}
	r.Watch.Click()
	r.Xfer.Mark()
	return r.append(ev)
}

// Appends an event carrying time and volume accumulated since the record
// was created, leaving the current lap untouched
func (r *Record) NoteTotal(event, path string) Event {
	ev:=Event{
		Seq:     nextSeq(),
		Time:    time.Now(),
		Name:    event,
		Path:    path,
		Seconds: r.Watch.Total(),
		MB:      r.Xfer.MBTotal(),
	}
	return r.append(ev)
}

// Merges another record's events into this one by key union, restoring
// global sequence order. Sequence keys are process-unique, so a merge can
// never drop an event the way colliding timestamp keys would
func (r *Record) Merge(other *Record) {
	if other==nil || len(other.Events)==0 { return }
	r.Events=append(r.Events, other.Events...)
	sort.Slice(r.Events, func(i, j int) bool { return r.Events[i].Seq<r.Events[j].Seq })
}

// Renders all event lines, one per line
func (r *Record) String() string {
	b:=strings.Builder{}
	for _,ev:=range(r.Events) {
		b.WriteString(ev.Line())
		b.WriteRune('\n')
	}
	return b.String()
}

var intRE=regexp.MustCompile(`\d+`)
var decRE=regexp.MustCompile(`\d+\.?\d*`)

// Parses the top line of a cut log: the last event must be a batch total
// whose name embeds the cut count, e.g. "made 25 cuts from 5 files".
// Returns cuts per second and megabytes per cut
func ParseTopline(events []Event) (rate, weight float64, err error) {
	if len(events)==0 {
		return 0, 0, fmt.Errorf("empty event log")
	}
	parts:=strings.Split(events[len(events)-1].Line(), ",")
	if len(parts)<4 {
		return 0, 0, fmt.Errorf("malformed top line %q", events[len(events)-1].Line())
	}
	countStr:=intRE.FindString(parts[0])
	if countStr=="" {
		return 0, 0, fmt.Errorf("no cut count in top line %q", parts[0])
	}
	count, _:=strconv.Atoi(countStr)
	seconds, err:=strconv.ParseFloat(decRE.FindString(parts[2]), 64)
	if err!=nil { return 0, 0, fmt.Errorf("no duration in top line: %s", err.Error()) }
	mbs, err:=strconv.ParseFloat(decRE.FindString(parts[3]), 64)
	if err!=nil { return 0, 0, fmt.Errorf("no volume in top line: %s", err.Error()) }
	if count==0 || seconds==0 {
		return 0, 0, fmt.Errorf("degenerate top line: %d cuts in %f s", count, seconds)
	}
	return float64(count)/seconds, mbs/float64(count), nil
}
