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


// Package bench drives cutout benchmark suites. A YAML suite expands into
// the cross product of datasets, cut geometries, access strategies and
// bandwidth labels; each case runs its throwaway priming passes and one
// measured pass framed by network and CPU gauges. Per-event telemetry
// lands in CSV result files, an optional sqlite catalog, and summary
// tables, alongside a host manifest that keeps archived numbers
// interpretable
package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mlnoga/skycut/internal/cutter"
)

// FUSE daemons mount within seconds; anything slower is a failed mount
const mountWait=60*time.Second

// Runs all cases of a suite in expansion order, returning results for the
// cases that executed. Cases with existing results are skipped unless the
// suite asks for duplicates. Any case failure aborts the suite; partial
// silence is worse than a loud stop
func RunSuite(c *cutter.Context, s *Suite) ([]*Result, error) {
	cases, err:=ExpandCases(s)
	if err!=nil { return nil, err }
	if len(cases)==0 { return nil, nil }

	if s.MountLog!="" {
		if err:=WaitForMountLog(s.MountLog, MountedMarker, mountWait); err!=nil {
			return nil, fmt.Errorf("awaiting mount: %w", err)
		}
	}
	if s.ResultDir!="" {
		if err:=os.MkdirAll(s.ResultDir, 0755); err!=nil { return nil, err }
		if err:=WriteManifestFile(filepath.Join(s.ResultDir, "host_manifest.json"), s); err!=nil { return nil, err }
	}
	var cat *Catalog
	if s.Catalog!="" {
		if cat, err=OpenCatalog(s.Catalog); err!=nil { return nil, err }
		defer cat.Close()
	}

	ress:=[]*Result{}
	for i:=range(cases) {
		cs:=&cases[i]
		skip, suffix, err:=CheckExisting(cs.Title, s.Duplicates, s.ResultDir)
		if err!=nil { return nil, err }
		if skip {
			fmt.Fprintf(c.Log, "%s: results exist, skipping\n", cs.Title)
			continue
		}

		res, err:=Run(c, cs)
		if err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%s: %s\n", cs.Title, res.Summary())
		WriteSummary(c.Log, Summarize(res.Record.Events))

		if s.ResultDir!="" {
			if _, err:=WriteResultCSV(s.ResultDir, cs.Title, suffix, res.Record.Events); err!=nil { return nil, err }
			if err:=WriteThrowaways(s.ResultDir, cs.Title, suffix, res.Throwaways); err!=nil { return nil, err }
		}
		if cat!=nil {
			if _, err:=cat.RecordRun(res, suffix); err!=nil { return nil, err }
		}
		ress=append(ress, res)
	}
	return ress, nil
}
