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
	"io"

	"github.com/mlnoga/skycut/internal/backend"
	"github.com/mlnoga/skycut/internal/cutter"
	"github.com/mlnoga/skycut/internal/monitor"
)

// Measurements from one benchmark case
type Result struct {
	Case       Case
	Elapsed    float64            // wall seconds of the measured pass
	Files      int                // files cut in the measured pass
	Cuts       int                // cuts made in the measured pass
	NetMB      float64            // interface-level transfer during the measured pass
	CPUBusy    float64            // CPU seconds spent busy during the measured pass
	CPUIdle    float64            // CPU seconds spent idle during the measured pass
	Record     *monitor.Record    // merged per-event telemetry of the measured pass
	Batches    []*cutter.FileCuts // cut data, populated only when the case returns cuts
	Throwaways []float64          // wall seconds of each discarded priming pass
}

// Top line of a case in the conventional benchmark summary format
func (r *Result) Summary() string {
	pct:=0.0
	if r.CPUBusy+r.CPUIdle>0 { pct=r.CPUBusy/(r.CPUBusy+r.CPUIdle)*100 }
	return fmt.Sprintf("%.3f s, %.3f MB transferred, ~%.1f%% CPU usage", r.Elapsed, r.NetMB, pct)
}

// Runs one benchmark case. The configured number of throwaway passes is
// executed and discarded first, priming remote caches so case ordering does
// not penalize earlier cases. The measured pass then runs between network
// and CPU gauge marks; its in-process byte gauge is fresh, so throwaway
// traffic never leaks into the result. Hosts without /proc counters degrade
// to zero network and CPU telemetry with a warning
func Run(c *cutter.Context, cs *Case) (*Result, error) {
	if len(cs.Paths)==0 { return nil, fmt.Errorf("%s: no paths", cs.Title) }
	opts:=backend.Options{Backend: cs.Tag, Preload: cs.Preload, Monitor: &monitor.Counter{}}
	params:=&cutter.Params{
		HDU: cs.HDU, Count: cs.Count, Lengths: cs.Shape,
		Seed: cs.Seed, AuthenticateS3: cs.AuthenticateS3,
	}
	res:=&Result{Case: *cs}

	quiet:=&cutter.Context{Log: io.Discard, MemoryMB: c.MemoryMB, MaxThreads: c.MaxThreads}
	for i:=0; i<cs.Throwaways; i++ {
		ress, elapsed, _, err:=cutter.CutFiles(quiet, cs.Paths, opts, params)
		if err!=nil { return nil, fmt.Errorf("%s: throwaway %d: %w", cs.Title, i, err) }
		for _, r:=range(ress) { r.Close() }
		res.Throwaways=append(res.Throwaways, elapsed)
	}

	opts.Monitor=&monitor.Counter{}
	net, err:=monitor.NewNetstat(cs.Netdev)
	if err!=nil { fmt.Fprintf(c.Log, "warning: no network telemetry: %s\n", err.Error()) }
	cpu, err:=monitor.NewCPUTimes()
	if err!=nil { fmt.Fprintf(c.Log, "warning: no CPU telemetry: %s\n", err.Error()) }
	if net!=nil { net.Mark() }
	if cpu!=nil { cpu.Mark() }

	ress, elapsed, rec, err:=cutter.CutFiles(c, cs.Paths, opts, params)
	if err!=nil { return nil, fmt.Errorf("%s: %w", cs.Title, err) }

	if net!=nil { res.NetMB=net.MBSince() }
	if cpu!=nil { res.CPUBusy, res.CPUIdle=cpu.Since() }
	res.Elapsed, res.Record, res.Files=elapsed, rec, len(cs.Paths)
	for _, r:=range(ress) { res.Cuts+=len(r.Cuts) }
	if cs.ReturnCuts {
		res.Batches=ress
	} else {
		for _, r:=range(ress) { r.Close() }
	}
	return res, nil
}
