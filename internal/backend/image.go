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
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/mlnoga/skycut/internal/fits"
	"github.com/mlnoga/skycut/internal/sampler"
)

// The "image" backend reads greedily through astrogo/fitsio: opening decodes
// every HDU in full, paying the whole transfer up front, and cuts index
// materialized arrays. Band handling differs from the section backend: a
// band range is always spelled out explicitly, and a single band is taken
// by direct indexing on the band axis, never by slice-and-squeeze
type imageBackend struct{}

func init() { SetBackend(func() Backend { return imageBackend{} }) }

func (b imageBackend) Tag() string { return "image" }

func (b imageBackend) Open(path string, src *Source, opts *Options) (*File, error) {
	ff, err:=fitsio.Open(src.SectionReader())
	if err!=nil { return nil, fmt.Errorf("%s: %s", path, err.Error()) }
	f:=&File{Path: path, Tag: b.Tag(), src: src, handles: map[int]Handle{}, cleanup: ff.Close}
	f.acquire=func(hduIx int) (Handle, error) {
		hdus:=ff.HDUs()
		if hduIx<0 || hduIx>=len(hdus) {
			return nil, fmt.Errorf("no HDU %d in a file with %d HDUs", hduIx, len(hdus))
		}
		img, ok:=hdus[hduIx].(fitsio.Image)
		if !ok { return nil, fmt.Errorf("HDU %d is not an image", hduIx) }
		return newImageHandle(path, img)
	}
	return f, nil
}

// A materialized reference to one HDU: converted header, row-major shape,
// and the fully decoded pixel values
type imageHandle struct {
	path     string
	hdr      fits.Header
	shape    fits.Shape
	data     []float32
	exposure float32
}

func newImageHandle(path string, img fitsio.Image) (*imageHandle, error) {
	fh:=img.Header()
	hdr:=convertHeader(fh)
	// fitsio reports axes fastest-first; reverse into row-major order
	axes:=fh.Axes()
	shape:=make(fits.Shape, len(axes))
	for i, a:=range(axes) {
		shape[len(axes)-1-i]=int32(a)
	}

	h:=&imageHandle{path: path, hdr: hdr, shape: shape}
	h.exposure=hdr.FloatOr("EXPOSURE", hdr.FloatOr("EXPTIME", 0))
	if len(shape)==0 { return h, nil } // dataless HDU, e.g. an empty primary

	bitpix:=int32(fh.Bitpix())
	bpv:=int64(fits.BytesPerValue(bitpix))
	if bpv==0 { return nil, fmt.Errorf("unknown BITPIX value %d", bitpix) }
	pixels:=shape.Pixels()
	raw:=img.Raw()
	if int64(len(raw))<pixels*bpv {
		return nil, fmt.Errorf("HDU data holds %d bytes, need %d", len(raw), pixels*bpv)
	}
	bzero:=hdr.FloatOr("BZERO", 0)
	bscale:=hdr.FloatOr("BSCALE", 1)
	if bscale==0 { bscale=1 }
	data:=make([]float32, pixels)
	if err:=fits.DecodeBigEndian(data, raw[:pixels*bpv], bitpix, bzero, bscale); err!=nil { return nil, err }
	h.data=data
	return h, nil
}

// Normalizes a fitsio header into typed maps. Values of types beyond
// bool/int/float/string are stringified rather than dropped, so every key
// survives into serialized telemetry. fitsio keeps the mandatory geometry
// cards in dedicated fields; they are restated as keys afterwards so that
// header geometry works uniformly across backends
func convertHeader(fh *fitsio.Header) fits.Header {
	hdr:=fits.NewHeader()
	for _, key:=range(fh.Keys()) {
		card:=fh.Get(key)
		if card==nil { continue }
		switch v:=card.Value.(type) {
		case bool:
			hdr.Bools[key]=v
		case int:
			hdr.Ints[key]=int32(v)
		case int64:
			hdr.Ints[key]=int32(v)
		case float64:
			hdr.Floats[key]=float32(v)
		case float32:
			hdr.Floats[key]=v
		case string:
			hdr.Strings[key]=v
		case time.Time:
			hdr.Dates[key]=v.Format("2006-01-02T15:04:05")
		default:
			hdr.Strings[key]=fmt.Sprintf("%v", v)
		}
	}
	hdr.Ints["BITPIX"]=int32(fh.Bitpix())
	axes:=fh.Axes()
	hdr.Ints["NAXIS"]=int32(len(axes))
	for i, a:=range(axes) {
		hdr.Ints["NAXIS"+strconv.Itoa(i+1)]=int32(a)
	}
	hdr.End=true
	return hdr
}

func (h *imageHandle) Header() *fits.Header { return &h.hdr }

func (h *imageHandle) Shape() fits.Shape { return h.shape }

// Contents are materialized at open already
func (h *imageHandle) Preload() (int64, error) { return 0, nil }

func (h *imageHandle) Cut(box sampler.Box, band int) (*fits.Image, error) {
	shape:=h.shape
	if len(shape)==0 { return nil, fmt.Errorf("HDU has no data axes to cut") }
	if len(box)==0 { return nil, fmt.Errorf("empty cut box") }

	// single band of a 3-D image: direct index on the band axis
	if band>=0 {
		if len(shape)!=3 || len(box)!=2 {
			return nil, fmt.Errorf("cannot cut %d-dimensional box with band %d from a %s image", len(box), band, shape.String())
		}
		if int32(band)>=shape[0] {
			return nil, fmt.Errorf("band %d out of range, image has %d", band, shape[0])
		}
		if err:=checkBounds(shape[1:], box); err!=nil { return nil, err }
		ys, xs:=box[0], box[1]
		w:=int64(shape[2])
		base:=int64(band)*int64(shape[1])*w
		xlen:=int64(xs.Length())
		data:=make([]float32, box.Pixels())
		pos:=int64(0)
		for y:=int64(ys.Start); y<int64(ys.End); y++ {
			off:=base+y*w+int64(xs.Start)
			copy(data[pos:pos+xlen], h.data[off:off+xlen])
			pos+=xlen
		}
		return h.newCut(box.Shape(), data), nil
	}

	spans:=box
	if len(shape)==3 && len(box)==2 {
		// covering all bands still takes an explicit range
		spans=append(sampler.Box{sampler.Span{Start: 0, End: shape[0]}}, box...)
	}
	if err:=checkBounds(shape, spans); err!=nil { return nil, err }
	data, err:=gatherRuns(shape, spans, h.readRun)
	if err!=nil { return nil, err }
	return h.newCut(spans.Shape(), data), nil
}

func (h *imageHandle) readRun(dst []float32, valueOff int64) error {
	copy(dst, h.data[valueOff:valueOff+int64(len(dst))])
	return nil
}

func (h *imageHandle) newCut(shape fits.Shape, data []float32) *fits.Image {
	out:=fits.NewImageFromShape(shape, data)
	out.FileName=h.path
	out.Exposure=h.exposure
	return out
}
