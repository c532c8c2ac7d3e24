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
	"strconv"
	"strings"
)

// A FITS image, or a cutout materialized from one.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int         // Sequential ID number, for log output. Cutouts count upwards from 0 within their batch
	FileName string      // Original file name, if any, for log output

	Header Header 	     // The header with all keys, values, comments, history entries etc.
	Bitpix int32         // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 		 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 		 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
						 // Helps implement unsigned values with signed data types.
	Naxisn []int32 		 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int64 		 // Number of pixels in the image. Product of Naxisn[]

	Data   []float32     // The image data, or nil if only metadata was read

	DataStart int64      // Byte offset of the data unit within the file, for partial reads

	Exposure float32     // Image exposure in seconds, when declared in the header
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header:  NewHeader(),
		Bscale:  1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int64(1)
	for _,naxis:=range(naxisn) {
		numPixels*=int64(naxis)
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Header:   NewHeader(),
		Bitpix:   -32,
		Bzero:    0,
		Bscale:   1,
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
	}
}

// Creates a FITS image from a row-major shape (slowest-varying axis first).
// Data is not copied, allocated if nil
func NewImageFromShape(shape Shape, data []float32) *Image {
	return NewImageFromNaxisn(shape.Reversed(), data)
}

// Row-major shape of the image (slowest-varying axis first)
func (f *Image) Shape() Shape {
	return Shape(append([]int32(nil), f.Naxisn...)).Reversed()
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
		Comments:make([]string,0),
		History: make([]string,0),
		End:     false,
	}
}

const BlockSize int      = 2880       // Block size of FITS header and data units
const HeaderLineSize int =   80       // Line size of a FITS header

// Returns true if the header contains the given key in any of its typed maps
func (h *Header) Has(key string) bool {
	if _,ok:=h.Bools  [key]; ok { return true }
	if _,ok:=h.Ints   [key]; ok { return true }
	if _,ok:=h.Floats [key]; ok { return true }
	if _,ok:=h.Strings[key]; ok { return true }
	if _,ok:=h.Dates  [key]; ok { return true }
	return false
}

// Returns the integer value for the given key, or the default if absent
func (h *Header) IntOr(key string, def int32) int32 {
	if val,ok:=h.Ints[key]; ok { return val }
	return def
}

// Returns the float value for the given key, accepting integer-valued entries, or the default if absent
func (h *Header) FloatOr(key string, def float32) float32 {
	if val,ok:=h.Floats[key]; ok { return val }
	if val,ok:=h.Ints[key];   ok { return float32(val) }
	return def
}

// Flattens all typed header entries into a single map of primitive values
// (bool, int, float64, string), safe for serialization. Comments and history
// are not key-value entries and are omitted
func (h *Header) Primitives() map[string]interface{} {
	res:=make(map[string]interface{}, len(h.Bools)+len(h.Ints)+len(h.Floats)+len(h.Strings)+len(h.Dates))
	for k,v:=range(h.Bools)   { res[k]=v }
	for k,v:=range(h.Ints)    { res[k]=int(v) }
	for k,v:=range(h.Floats)  { res[k]=float64(v) }
	for k,v:=range(h.Strings) { res[k]=v }
	for k,v:=range(h.Dates)   { res[k]=v }
	return res
}

// Size in bytes of the data unit following this header, per the FITS standard:
// |BITPIX|/8 * GCOUNT * (PCOUNT + NAXIS1*...*NAXISn). Zero for headers without axes
func (h *Header) DataBytes() int64 {
	naxis:=h.IntOr("NAXIS", 0)
	if naxis<=0 { return 0 }
	prod:=int64(1)
	for i:=int32(1); i<=naxis; i++ {
		prod*=int64(h.IntOr("NAXIS"+strconv.FormatInt(int64(i),10), 0))
	}
	pcount:=int64(h.IntOr("PCOUNT", 0))
	gcount:=int64(h.IntOr("GCOUNT", 1))
	bpv   :=int64(BytesPerValue(h.IntOr("BITPIX", 0)))
	return bpv*gcount*(pcount+prod)
}

// Size in bytes of the data unit following this header, rounded up to full FITS blocks
func (h *Header) DataBlockBytes() int64 {
	b:=h.DataBytes()
	blocks:=(b+int64(BlockSize)-1)/int64(BlockSize)
	return blocks*int64(BlockSize)
}

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Minimum and maximum data value of the image, ignoring NaNs. Returns (0,0) for empty data
func (f *Image) MinMax() (min, max float32) {
	if len(f.Data)==0 { return 0,0 }
	min, max=float32(1e38), float32(-1e38)
	for _,v:=range(f.Data) {
		if v!=v { continue }  // skip NaNs
		if v<min { min=v }
		if v>max { max=v }
	}
	if min>max { return 0,0 }
	return min, max
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
    if len(a) != len(b) {
        return false
    }
    for i, v := range a {
        if v != b[i] {
            return false
        }
    }
    return true
}
