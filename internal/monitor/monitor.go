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


// Package monitor provides the timing and transfer-volume instrumentation
// for cutout benchmarks: a lap stopwatch, byte-volume gauges, and an
// append-only event record with process-unique event keys
package monitor

import (
	"sync/atomic"
	"time"
)

// A simple lap timer. Peek reports seconds since the last click without
// restarting the lap; Click restarts it
type Stopwatch struct {
	start time.Time
	last  time.Time
}

func (s *Stopwatch) Start() {
	now:=time.Now()
	s.start, s.last=now, now
}

func (s *Stopwatch) Started() bool { return !s.start.IsZero() }

// Seconds elapsed in the current lap
func (s *Stopwatch) Peek() float64 {
	if s.last.IsZero() { return 0 }
	return time.Since(s.last).Seconds()
}

// Seconds elapsed since Start
func (s *Stopwatch) Total() float64 {
	if s.start.IsZero() { return 0 }
	return time.Since(s.start).Seconds()
}

// Restarts the lap. Starts the watch if it was never started
func (s *Stopwatch) Click() {
	if s.start.IsZero() {
		s.Start()
		return
	}
	s.last=time.Now()
}

// Reports transfer volume in decimal megabytes. Netstat implements this
// with interface counters for real network traffic; Counter implements it
// with exact in-process byte counts for synthetic sources
type Transfer interface {
	Mark()              // set the reference point for MBSince
	MBSince() float64   // megabytes transferred since the last mark
	MBTotal() float64   // megabytes transferred since creation or reset
}

// Megabytes are decimal, following network accounting convention
const bytesPerMB float64 = 1e6

// An exact in-process transfer gauge fed by counting readers.
// All methods are safe for concurrent use
type Counter struct {
	total uint64
	mark  uint64
}

// Adds n transferred bytes
func (c *Counter) Add(n int64) {
	atomic.AddUint64(&c.total, uint64(n))
}

func (c *Counter) Bytes() uint64 { return atomic.LoadUint64(&c.total) }

func (c *Counter) Mark() {
	atomic.StoreUint64(&c.mark, atomic.LoadUint64(&c.total))
}

func (c *Counter) MBSince() float64 {
	return float64(atomic.LoadUint64(&c.total)-atomic.LoadUint64(&c.mark))/bytesPerMB
}

func (c *Counter) MBTotal() float64 {
	return float64(atomic.LoadUint64(&c.total))/bytesPerMB
}
