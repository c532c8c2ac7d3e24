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
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Inventory of one HDU within a FITS file
type HDUInfo struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`        // EXTNAME, or "primary" for HDU 0 without one
	Type        string  `json:"type"`        // primary, image, bintable, compressed, table
	Bitpix      int32   `json:"bitpix"`
	ItemBytes   int32   `json:"itemBytes"`
	Naxisn      []int32 `json:"naxisn"`      // axis sizes in FITS declaration order
	Shape       Shape   `json:"shape"`       // row-major image shape, nil if no axes declared
	HeaderBytes int64   `json:"headerBytes"`
	DataBytes   int64   `json:"dataBytes"`   // actual data size, excluding block padding
}

// Inventory of a whole FITS file
type FileStat struct {
	Path      string    `json:"path"`
	FileBytes int64     `json:"fileBytes"`
	HDUs      []HDUInfo `json:"hdus"`
}

// Walks all HDUs of the named FITS file and returns their inventory.
// Decompresses gzip if a .gz or .gzip suffix is present; FileBytes then
// reports the compressed on-disk size
func Stat(fileName string, logWriter io.Writer) (*FileStat, error) {
	file, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer file.Close()

	info, err:=file.Stat()
	if err!=nil { return nil, err }

	var r io.Reader=file
	ext:=strings.ToLower(path.Ext(fileName))
	if ext==".gz" || ext==".gzip" {
		if r, err=gzip.NewReader(file); err!=nil { return nil, err }
	}

	hdus, err:=ReadStat(r, logWriter)
	if err!=nil { return nil, err }
	return &FileStat{Path: fileName, FileBytes: info.Size(), HDUs: hdus}, nil
}

// Walks all HDUs of a FITS stream, parsing each header and skipping each data
// unit, until the stream ends at a block boundary
func ReadStat(r io.Reader, logWriter io.Writer) ([]HDUInfo, error) {
	hdus:=[]HDUInfo{}
	for i:=0; ; i++ {
		h:=NewHeader()
		err:=h.read(r, i, logWriter)
		if err==io.EOF {
			break
		}
		if err!=nil { return nil, err }

		hdus=append(hdus, newHDUInfo(i, &h))

		skip:=h.DataBlockBytes()
		if _, err:=io.CopyN(io.Discard, r, skip); err!=nil {
			return nil, fmt.Errorf("skipping HDU %d data: %s", i, err.Error())
		}
	}
	if len(hdus)==0 {
		return nil, fmt.Errorf("no HDUs found")
	}
	return hdus, nil
}

func newHDUInfo(index int, h *Header) HDUInfo {
	info:=HDUInfo{
		Index:       index,
		Name:        h.Strings["EXTNAME"],
		Bitpix:      h.IntOr("BITPIX", 0),
		HeaderBytes: int64(h.Length),
		DataBytes:   h.DataBytes(),
	}
	info.ItemBytes=BytesPerValue(info.Bitpix)

	naxis:=h.IntOr("NAXIS", 0)
	info.Naxisn=make([]int32, naxis)
	for i:=int32(1); i<=naxis; i++ {
		info.Naxisn[i-1]=h.IntOr(fmt.Sprintf("NAXIS%d", i), 0)
	}
	if shape, err:=ShapeOf(h); err==nil {
		info.Shape=shape
	}

	switch {
	case index==0:
		info.Type="primary"
		if info.Name=="" { info.Name="primary" }
	case h.Bools["ZIMAGE"]:
		info.Type="compressed"
		info.ItemBytes=BytesPerValue(h.IntOr("ZBITPIX", info.Bitpix))
	default:
		info.Type=strings.ToLower(strings.TrimSpace(h.Strings["XTENSION"]))
	}
	return info
}
