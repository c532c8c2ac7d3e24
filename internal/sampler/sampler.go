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


// Package sampler draws random rectangular regions from image shapes.
// Sampling is deterministic for a given random source state, so benchmark
// runs can be reproduced exactly from a seed
package sampler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlnoga/skycut/internal/fits"
)

// Raised when a requested cut length equals or exceeds an axis extent,
// leaving no room to place the box
var ErrInvalidSampleRange=errors.New("cut size does not fit within image extent")

// Raised when jitter clamping collapses a box to zero or negative width.
// Surfaced to the caller instead of returning an empty cut, which would
// silently bias benchmark results near image edges
var ErrDegenerateRegion=errors.New("region collapsed to zero width after clamping")

// A half-open interval [Start,End) along one axis
type Span struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

func (s Span) Length() int32 { return s.End-s.Start }

// A rectangular region, one span per axis in row-major axis order
type Box []Span

// The shape of the region, span lengths in row-major order
func (b Box) Shape() fits.Shape {
	s:=make(fits.Shape, len(b))
	for i,span:=range(b) {
		s[i]=span.Length()
	}
	return s
}

// Total number of pixels covered by the region
func (b Box) Pixels() int64 {
	return b.Shape().Pixels()
}

// Renders the region in slice notation, e.g. [100:140,200:240]
func (b Box) String() string {
	sb:=strings.Builder{}
	sb.WriteRune('[')
	for i,span:=range(b) {
		if i>0 { sb.WriteRune(',') }
		fmt.Fprintf(&sb, "%d:%d", span.Start, span.End)
	}
	sb.WriteRune(']')
	return sb.String()
}

// A batch of sampled regions, all drawn against the same image shape
type Batch []Box

// Uniform random source for sampling. *fastrand.RNG satisfies this
type Rand interface {
	Uint32n(n uint32) uint32
}

// Fits a parameter vector to n axes: missing entries are padded with the
// fill value, excess entries are cut off. Never errors; short or long
// inputs are a documented permissive policy
func Procrustean(v []int32, n int, fill int32) []int32 {
	res:=make([]int32, n)
	for i:=0; i<n; i++ {
		if i<len(v) {
			res[i]=v[i]
		} else {
			res[i]=fill
		}
	}
	return res
}

// Samples count random boxes of the given per-axis lengths within shape.
//
// Lengths are procrustean-fitted to the shape rank with fill 1, variances
// with fill 0; a nil variances slice means no jitter. Start offsets are drawn
// uniformly from [0, extent-length) per axis; when the variance for an axis
// is at least 1, the end offset is additionally perturbed by a uniform draw
// from [-v,+v] and clamped to [0, extent].
//
// Draws are axis-major: all start offsets for axis 0 first, then axis 1, and
// so on, followed by the jitter draws in the same order. The draw order is
// part of the contract; changing it breaks seed-for-seed reproducibility
// with existing benchmark runs.
//
// Returns ErrInvalidSampleRange when a box cannot fit along some axis, and
// ErrDegenerateRegion when jitter clamping yields end<=start
func Sample(shape fits.Shape, count int, lengths, variances []int32, rng Rand) (Batch, error) {
	if count<=0 {
		return nil, fmt.Errorf("invalid cut count %d", count)
	}
	naxes:=len(shape)
	if naxes==0 {
		return nil, fmt.Errorf("cannot sample from an empty shape")
	}
	lengths  =Procrustean(lengths,   naxes, 1)
	variances=Procrustean(variances, naxes, 0)

	// validate all axes before consuming random state, so a failed call
	// leaves the source where it was
	for axis,extent:=range(shape) {
		if extent-lengths[axis]<=0 {
			return nil, fmt.Errorf("axis %d: length %d within extent %d: %w",
				axis, lengths[axis], extent, ErrInvalidSampleRange)
		}
	}

	starts:=make([][]int32, naxes)
	for axis,extent:=range(shape) {
		starts[axis]=make([]int32, count)
		room:=uint32(extent-lengths[axis])
		for i:=0; i<count; i++ {
			starts[axis][i]=int32(rng.Uint32n(room))
		}
	}

	ends:=make([][]int32, naxes)
	for axis:=range(shape) {
		ends[axis]=make([]int32, count)
		for i:=0; i<count; i++ {
			ends[axis][i]=starts[axis][i]+lengths[axis]
		}
		if v:=variances[axis]; v>=1 {
			for i:=0; i<count; i++ {
				jitter:=int32(rng.Uint32n(uint32(2*v+1)))-v
				end:=ends[axis][i]+jitter
				if end<0 { end=0 }
				if end>shape[axis] { end=shape[axis] }
				ends[axis][i]=end
			}
		}
	}

	batch:=make(Batch, count)
	for i:=0; i<count; i++ {
		box:=make(Box, naxes)
		for axis:=0; axis<naxes; axis++ {
			if ends[axis][i]<=starts[axis][i] {
				return nil, fmt.Errorf("box %d axis %d: [%d:%d]: %w",
					i, axis, starts[axis][i], ends[axis][i], ErrDegenerateRegion)
			}
			box[axis]=Span{Start: starts[axis][i], End: ends[axis][i]}
		}
		batch[i]=box
	}
	return batch, nil
}
