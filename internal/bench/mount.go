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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Marker goofys prints to its debug log once the bucket is served
const MountedMarker="successfully mounted"

// Command line for a goofys foreground mount with debug logging, the FUSE
// configuration the mountpoint loaders benchmark against. The caller starts
// it with stderr piped to a log file and passes that file to WaitForMountLog
func GoofysArgs(bucket, mountpoint string) []string {
	return []string{"goofys", "-f", "--debug_fuse", "--debug_s3", bucket, mountpoint}
}

// Blocks until the mount daemon log at path contains the marker, then
// returns nil. The log need not exist yet; it is watched for creation and
// appends. An empty marker waits for MountedMarker
func WaitForMountLog(path, marker string, timeout time.Duration) error {
	if marker=="" { marker=MountedMarker }
	w, err:=fsnotify.NewWatcher()
	if err!=nil { return err }
	defer w.Close()
	if err:=w.Add(filepath.Dir(path)); err!=nil { return err }

	// check after watching, else a marker written in between goes unseen
	if found, err:=fileContains(path, marker); err!=nil || found { return err }

	deadline:=time.After(timeout)
	for {
		select {
		case ev, ok:=<-w.Events:
			if !ok { return fmt.Errorf("%s: watcher closed", path) }
			if ev.Name!=path || ev.Op&(fsnotify.Create|fsnotify.Write)==0 { break }
			if found, err:=fileContains(path, marker); err!=nil || found { return err }
		case err, ok:=<-w.Errors:
			if !ok { return fmt.Errorf("%s: watcher closed", path) }
			return err
		case <-deadline:
			return fmt.Errorf("%s: no %q within %v", path, marker, timeout)
		}
	}
}

// Reports whether any line of the file contains the marker. A missing file
// simply does not contain it
func fileContains(path, marker string) (bool, error) {
	file, err:=os.Open(path)
	if err!=nil {
		if os.IsNotExist(err) { return false, nil }
		return false, err
	}
	defer file.Close()
	scanner:=bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), marker) { return true, nil }
	}
	return false, scanner.Err()
}
