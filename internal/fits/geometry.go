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


package fits

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// The shape of an image in row-major order, slowest-varying axis first.
// This is the reverse of the FITS header convention, which declares axes
// in Fortran order with the most quickly varying axis as NAXIS1
type Shape []int32

// Raised when a header declares no axis sizes under either the
// tile-compressed (ZNAXISn) or the standard (NAXISn) keyword family
var ErrMissingAxisKeys=errors.New("header contains no ZNAXISn or NAXISn keys")

var axisKeyRE=regexp.MustCompile(`^(ZNAXIS|NAXIS)([0-9]+)$`)

// Derives the row-major image shape from a FITS header.
//
// Prefers the tile-compressed keyword family ZNAXISn when any such key is
// present, since compressed HDUs carry the shape of the stored binary table
// in NAXISn and the shape of the actual image in ZNAXISn. Falls back to the
// standard NAXISn family otherwise. Axis indices may have multiple digits.
//
// The collected extents are reversed from the header's Fortran order into
// row-major order before returning. Downstream region sampling and slicing
// all work in row-major order; the per-backend cut adapters compensate for
// backends which do not apply this reversal themselves.
func ShapeOf(h *Header) (Shape, error) {
	type axis struct {
		n    int
		size int32
	}
	var zaxes, naxes []axis
	for key, val := range h.Ints {
		m := axisKeyRE.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if m[1] == "ZNAXIS" {
			zaxes = append(zaxes, axis{n, val})
		} else {
			naxes = append(naxes, axis{n, val})
		}
	}
	axes := zaxes
	if len(axes) == 0 {
		axes = naxes
	}
	if len(axes) == 0 {
		return nil, ErrMissingAxisKeys
	}
	sort.Slice(axes, func(i, j int) bool { return axes[i].n < axes[j].n })

	s := make(Shape, len(axes))
	for i, a := range axes {
		if a.size <= 0 {
			return nil, fmt.Errorf("axis %d has non-positive extent %d", a.n, a.size)
		}
		s[len(axes)-1-i] = a.size
	}
	return s, nil
}

// Total number of pixels covered by the shape
func (s Shape) Pixels() int64 {
	p:=int64(1)
	for _,extent:=range(s) {
		p*=int64(extent)
	}
	return p
}

// Returns a reversed copy of the shape, converting between row-major
// and FITS axis order
func (s Shape) Reversed() Shape {
	r:=make(Shape, len(s))
	for i,extent:=range(s) {
		r[len(s)-1-i]=extent
	}
	return r
}

func (s Shape) Equal(t Shape) bool {
	return EqualInt32Slice(s, t)
}

func (s Shape) String() string {
	b:=strings.Builder{}
	for i,extent:=range(s) {
		if i>0 { b.WriteRune('x') }
		fmt.Fprintf(&b, "%d", extent)
	}
	return b.String()
}
