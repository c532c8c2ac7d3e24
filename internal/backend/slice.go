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


package backend

import (
	"fmt"

	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/sampler"
)

// Checks that spans cover the shape rank and lie within the image extents
func checkBounds(shape fits.Shape, spans sampler.Box) error {
	if len(spans)!=len(shape) {
		return fmt.Errorf("%d spans for a %s image", len(spans), shape.String())
	}
	for i, s:=range(spans) {
		if s.Start<0 || s.End>shape[i] || s.End<=s.Start {
			return fmt.Errorf("axis %d: [%d:%d] outside extent %d", i, s.Start, s.End, shape[i])
		}
	}
	return nil
}

// Gathers the values covered by full-rank spans from a row-major layout with
// the last axis varying fastest, calling readRun once per contiguous run.
// valueOff is in values, not bytes
func gatherRuns(shape fits.Shape, spans sampler.Box, readRun func(dst []float32, valueOff int64) error) ([]float32, error) {
	d:=len(shape)
	strides:=make([]int64, d)
	stride:=int64(1)
	for i:=d-1; i>=0; i-- {
		strides[i]=stride
		stride*=int64(shape[i])
	}

	runLen:=int64(spans[d-1].Length())
	out:=make([]float32, spans.Pixels())

	idx:=make([]int64, d-1) // odometer over all axes but the fastest
	for i:=range idx {
		idx[i]=int64(spans[i].Start)
	}
	for pos:=int64(0); ; {
		off:=int64(spans[d-1].Start)
		for i, v:=range(idx) {
			off+=v*strides[i]
		}
		if err:=readRun(out[pos:pos+runLen], off); err!=nil { return nil, err }
		pos+=runLen

		i:=len(idx)-1
		for ; i>=0; i-- {
			idx[i]++
			if idx[i]<int64(spans[i].End) { break }
			idx[i]=int64(spans[i].Start)
		}
		if i<0 { break }
	}
	return out, nil
}
