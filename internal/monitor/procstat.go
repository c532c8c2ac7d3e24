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
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const procNetDev = "/proc/net/dev"
const procStat   = "/proc/stat"

// Kernel counters are reported in jiffies
const userHZ float64 = 100

// Network transfer gauge backed by kernel interface counters. Unlike Counter
// it sees all traffic on the host, including FUSE daemons and page cache
// readahead, which is exactly what cutout benchmarks need to observe.
// Constructing fails on systems without /proc
type Netstat struct {
	Interface string // counters restricted to this interface; empty sums all but loopback
	base      uint64
	mark      uint64
}

func NewNetstat(iface string) (*Netstat, error) {
	n:=&Netstat{Interface: iface}
	cur, err:=n.read()
	if err!=nil { return nil, err }
	n.base, n.mark=cur, cur
	return n, nil
}

func (n *Netstat) read() (uint64, error) {
	file, err:=os.Open(procNetDev)
	if err!=nil { return 0, err }
	defer file.Close()
	return readProcNetDev(file, n.Interface)
}

// Sums receive and transmit byte counters over the selected interfaces
func readProcNetDev(r io.Reader, iface string) (uint64, error) {
	scanner:=bufio.NewScanner(r)
	total:=uint64(0)
	found:=false
	for scanner.Scan() {
		line:=scanner.Text()
		colon:=strings.IndexByte(line, ':')
		if colon<0 { continue } // header lines
		name:=strings.TrimSpace(line[:colon])
		if iface=="" {
			if name=="lo" { continue }
		} else if name!=iface {
			continue
		}
		fields:=strings.Fields(line[colon+1:])
		if len(fields)<9 { continue }
		rx, err1:=strconv.ParseUint(fields[0], 10, 64)
		tx, err2:=strconv.ParseUint(fields[8], 10, 64)
		if err1!=nil || err2!=nil { continue }
		total+=rx+tx
		found=true
	}
	if err:=scanner.Err(); err!=nil { return 0, err }
	if !found {
		return 0, fmt.Errorf("no matching interface %q in %s", iface, procNetDev)
	}
	return total, nil
}

func (n *Netstat) Mark() {
	if cur, err:=n.read(); err==nil {
		n.mark=cur
	}
}

func (n *Netstat) MBSince() float64 {
	cur, err:=n.read()
	if err!=nil || cur<n.mark { return 0 }
	return float64(cur-n.mark)/bytesPerMB
}

func (n *Netstat) MBTotal() float64 {
	cur, err:=n.read()
	if err!=nil || cur<n.base { return 0 }
	return float64(cur-n.base)/bytesPerMB
}

// CPU time gauge backed by the aggregate /proc/stat counters, for judging
// whether a benchmark case was compute or transfer bound
type CPUTimes struct {
	markBusy float64
	markIdle float64
}

func NewCPUTimes() (*CPUTimes, error) {
	c:=&CPUTimes{}
	busy, idle, err:=c.read()
	if err!=nil { return nil, err }
	c.markBusy, c.markIdle=busy, idle
	return c, nil
}

func (c *CPUTimes) read() (busy, idle float64, err error) {
	file, err:=os.Open(procStat)
	if err!=nil { return 0, 0, err }
	defer file.Close()
	return parseProcStat(file)
}

// Aggregate busy and idle CPU seconds from the first cpu line.
// Busy sums user, nice, system, irq, softirq and steal; idle sums
// idle and iowait
func parseProcStat(r io.Reader) (busy, idle float64, err error) {
	scanner:=bufio.NewScanner(r)
	for scanner.Scan() {
		fields:=strings.Fields(scanner.Text())
		if len(fields)<8 || fields[0]!="cpu" { continue }
		vals:=make([]float64, len(fields)-1)
		for i, f:=range fields[1:] {
			v, err:=strconv.ParseFloat(f, 64)
			if err!=nil { return 0, 0, fmt.Errorf("bad %s field %q", procStat, f) }
			vals[i]=v
		}
		busy=vals[0]+vals[1]+vals[2]
		if len(vals)>5 { busy+=vals[5] }
		if len(vals)>6 { busy+=vals[6] }
		if len(vals)>7 { busy+=vals[7] }
		idle=vals[3]
		if len(vals)>4 { idle+=vals[4] }
		return busy/userHZ, idle/userHZ, nil
	}
	if err:=scanner.Err(); err!=nil { return 0, 0, err }
	return 0, 0, fmt.Errorf("no cpu line in %s", procStat)
}

func (c *CPUTimes) Mark() {
	if busy, idle, err:=c.read(); err==nil {
		c.markBusy, c.markIdle=busy, idle
	}
}

// Busy and idle CPU seconds accumulated since the last mark
func (c *CPUTimes) Since() (busy, idle float64) {
	cur, curIdle, err:=c.read()
	if err!=nil { return 0, 0 }
	return cur-c.markBusy, curIdle-c.markIdle
}

// Fraction of CPU time spent busy since the last mark, in [0,1]
func (c *CPUTimes) Utilization() float64 {
	busy, idle:=c.Since()
	if busy+idle<=0 { return 0 }
	return busy/(busy+idle)
}
