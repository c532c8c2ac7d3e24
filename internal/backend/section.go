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

// The "section" backend reads lazily: opening touches nothing, handle
// acquisition walks headers only, and each cut transfers exactly the byte
// ranges its rows cover. For 3-D images a 2-D box broadcasts across all
// bands; selecting a single band squeezes the result to 2-D
type sectionBackend struct{}

func init() { SetBackend(func() Backend { return sectionBackend{} }) }

func (b sectionBackend) Tag() string { return "section" }

func (b sectionBackend) Open(path string, src *Source, opts *Options) (*File, error) {
	f:=&File{Path: path, Tag: b.Tag(), src: src, handles: map[int]Handle{}}
	log:=opts.log()
	preload:=opts.Preload
	f.acquire=func(hduIx int) (Handle, error) {
		img:=fits.NewImage()
		img.FileName=path
		if err:=img.Read(src.SectionReader(), hduIx, false, log); err!=nil { return nil, err }
		h:=&sectionHandle{src: src, img: img}
		if preload {
			if _, err:=h.Preload(); err!=nil { return nil, err }
		}
		return h, nil
	}
	return f, nil
}

// A lazy reference to one HDU: header metadata plus the data unit offset.
// Cuts read byte ranges from the source until Preload materializes the
// whole data unit in memory
type sectionHandle struct {
	src  *Source
	img  *fits.Image // metadata only; Data stays nil
	data []float32   // set by Preload
}

func (h *sectionHandle) Header() *fits.Header { return &h.img.Header }

func (h *sectionHandle) Shape() fits.Shape { return h.img.Shape() }

// Resolves a box into full-rank spans following the broadcast rules: a box
// matching the image rank passes through; a 2-D box on a 3-D image covers
// all bands, or one band with a squeezed 2-D result when band>=0
func broadcastBox(shape fits.Shape, box sampler.Box, band int) (spans sampler.Box, squeeze bool, err error) {
	if len(shape)==0 { return nil, false, fmt.Errorf("HDU has no data axes to cut") }
	if len(box)==0 { return nil, false, fmt.Errorf("empty cut box") }
	spans=box
	if band>=0 || len(box)!=len(shape) {
		if len(shape)!=3 || len(box)!=2 {
			return nil, false, fmt.Errorf("cannot cut %d-dimensional box with band %d from a %s image", len(box), band, shape.String())
		}
		bandSpan:=sampler.Span{Start: 0, End: shape[0]}
		if band>=0 {
			if int32(band)>=shape[0] {
				return nil, false, fmt.Errorf("band %d out of range, image has %d", band, shape[0])
			}
			bandSpan=sampler.Span{Start: int32(band), End: int32(band)+1}
			squeeze=true
		}
		spans=append(sampler.Box{bandSpan}, box...)
	}
	if err=checkBounds(shape, spans); err!=nil { return nil, false, err }
	return spans, squeeze, nil
}

func (h *sectionHandle) Cut(box sampler.Box, band int) (*fits.Image, error) {
	if h.img.Header.Has("ZNAXIS") {
		return nil, fmt.Errorf("HDU holds a tile-compressed image; cutting requires decompression")
	}
	shape:=h.Shape()
	spans, squeeze, err:=broadcastBox(shape, box, band)
	if err!=nil { return nil, err }
	data, err:=gatherRuns(shape, spans, h.readRun)
	if err!=nil { return nil, err }

	resShape:=spans.Shape()
	if squeeze {
		resShape=resShape[1:] // drop the single selected band axis
	}
	out:=fits.NewImageFromShape(resShape, data)
	out.FileName=h.img.FileName
	out.Exposure=h.img.Exposure
	return out, nil
}

// Reads one contiguous run of values, from memory after a preload, else as
// one ranged read against the source
func (h *sectionHandle) readRun(dst []float32, valueOff int64) error {
	if h.data!=nil {
		copy(dst, h.data[valueOff:valueOff+int64(len(dst))])
		return nil
	}
	bpv:=int64(fits.BytesPerValue(h.img.Bitpix))
	if bpv==0 { return fmt.Errorf("unknown BITPIX value %d", h.img.Bitpix) }
	raw:=getRawFromPool(int(int64(len(dst))*bpv))
	defer putRawIntoPool(raw)
	if err:=readAtFull(h.src.ReaderAt(), raw, h.img.DataStart+valueOff*bpv); err!=nil { return err }
	return fits.DecodeBigEndian(dst, raw, h.img.Bitpix, h.img.Bzero, h.img.Bscale)
}

// Materializes the whole data unit in memory, so later cuts slice without
// further transfers. Returns the bytes read
func (h *sectionHandle) Preload() (int64, error) {
	if h.data!=nil || h.img.Pixels==0 { return 0, nil }
	if h.img.Header.Has("ZNAXIS") {
		return 0, fmt.Errorf("HDU holds a tile-compressed image; preloading requires decompression")
	}
	bpv:=int64(fits.BytesPerValue(h.img.Bitpix))
	if bpv==0 { return 0, fmt.Errorf("unknown BITPIX value %d", h.img.Bitpix) }

	numBytes:=h.img.Pixels*bpv
	raw:=make([]byte, numBytes)
	if err:=readAtFull(h.src.ReaderAt(), raw, h.img.DataStart); err!=nil { return 0, err }
	data:=make([]float32, h.img.Pixels)
	if err:=fits.DecodeBigEndian(data, raw, h.img.Bitpix, h.img.Bzero, h.img.Bscale); err!=nil { return 0, err }
	h.data=data
	return numBytes, nil
}
