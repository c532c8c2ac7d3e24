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
	"fmt"
	"regexp"
	"strings"
)

// Keyword families consumed for world coordinate system construction:
// coordinate type, reference value, reference pixel, pixel delta, axis
// counts, and the CD/PC rotation matrices
var wcsKeyRE=regexp.MustCompile(`^(CTYPE[0-9]+|CUNIT[0-9]+|CRVAL[0-9]+|CRPIX[0-9]+|CDELT[0-9]+|NAXIS[0-9]*|ZNAXIS[0-9]*|CD[0-9]+_[0-9]+|PC[0-9]+_[0-9]+)$`)

// Returns a copy of the header holding only the keyword families needed to
// construct a world coordinate system. Headers of large survey products carry
// hundreds of keys; constructing coordinates from the filtered subset avoids
// choking on malformed or irrelevant entries
func (h *Header) FilterWCS() Header {
	res:=NewHeader()
	for k,v:=range(h.Bools)   { if wcsKeyRE.MatchString(k) { res.Bools[k]=v } }
	for k,v:=range(h.Ints)    { if wcsKeyRE.MatchString(k) { res.Ints[k]=v } }
	for k,v:=range(h.Floats)  { if wcsKeyRE.MatchString(k) { res.Floats[k]=v } }
	for k,v:=range(h.Strings) { if wcsKeyRE.MatchString(k) { res.Strings[k]=v } }
	for k,v:=range(h.Dates)   { if wcsKeyRE.MatchString(k) { res.Dates[k]=v } }
	res.End=true
	return res
}

// A linear world coordinate system for the first two image axes. Ignores the
// non-linear projection terms, which is adequate for small pixel offsets
// around the reference point
type WCS struct {
	Ctype1, Ctype2 string  `json:"ctype"`
	Crval1, Crval2 float32 `json:"crval"` // world coordinates at the reference pixel
	Crpix1, Crpix2 float32 `json:"crpix"` // reference pixel, FITS 1-based convention
	CD11, CD12     float32 `json:"cd1"`   // linear transform matrix, world per pixel
	CD21, CD22     float32 `json:"cd2"`
}

// Builds a linear WCS from the filtered keyword subset of the given header.
// Matrix precedence follows the FITS standard: CDi_j if present, else
// PCi_j scaled by CDELTi, else a diagonal CDELTi matrix
func NewWCS(h *Header) *WCS {
	fh:=h.FilterWCS()
	w:=&WCS{
		Ctype1: strings.TrimSpace(fh.Strings["CTYPE1"]),
		Ctype2: strings.TrimSpace(fh.Strings["CTYPE2"]),
		Crval1: fh.FloatOr("CRVAL1", 0),
		Crval2: fh.FloatOr("CRVAL2", 0),
		Crpix1: fh.FloatOr("CRPIX1", 1),
		Crpix2: fh.FloatOr("CRPIX2", 1),
	}
	cdelt1:=fh.FloatOr("CDELT1", 1)
	cdelt2:=fh.FloatOr("CDELT2", 1)
	if fh.Has("CD1_1") || fh.Has("CD1_2") || fh.Has("CD2_1") || fh.Has("CD2_2") {
		w.CD11=fh.FloatOr("CD1_1", 0)
		w.CD12=fh.FloatOr("CD1_2", 0)
		w.CD21=fh.FloatOr("CD2_1", 0)
		w.CD22=fh.FloatOr("CD2_2", 0)
	} else if fh.Has("PC1_1") || fh.Has("PC1_2") || fh.Has("PC2_1") || fh.Has("PC2_2") {
		w.CD11=cdelt1*fh.FloatOr("PC1_1", 1)
		w.CD12=cdelt1*fh.FloatOr("PC1_2", 0)
		w.CD21=cdelt2*fh.FloatOr("PC2_1", 0)
		w.CD22=cdelt2*fh.FloatOr("PC2_2", 1)
	} else {
		w.CD11, w.CD22=cdelt1, cdelt2
	}
	return w
}

// Maps 0-based pixel coordinates on axes 1 and 2 to world coordinates
func (w *WCS) PixToWorld(x, y float32) (w1, w2 float32) {
	dx, dy:=x-(w.Crpix1-1), y-(w.Crpix2-1)
	return w.Crval1 + w.CD11*dx + w.CD12*dy,
	       w.Crval2 + w.CD21*dx + w.CD22*dy
}

// Maps world coordinates back to 0-based pixel coordinates on axes 1 and 2
func (w *WCS) WorldToPix(w1, w2 float32) (x, y float32, err error) {
	det:=w.CD11*w.CD22 - w.CD12*w.CD21
	if det==0 {
		return 0, 0, fmt.Errorf("singular WCS matrix [[%g %g] [%g %g]]", w.CD11, w.CD12, w.CD21, w.CD22)
	}
	d1, d2:=w1-w.Crval1, w2-w.Crval2
	x=( w.CD22*d1 - w.CD12*d2)/det + (w.Crpix1-1)
	y=(-w.CD21*d1 + w.CD11*d2)/det + (w.Crpix2-1)
	return x, y, nil
}

func (w *WCS) String() string {
	return fmt.Sprintf("%s/%s ref (%.4f, %.4f) at pixel (%.1f, %.1f)",
		w.Ctype1, w.Ctype2, w.Crval1, w.Crval2, w.Crpix1, w.Crpix2)
}
