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
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Compresses with gzip if a .gz or .gzip suffix is present.
// Creates/overwrites the file if necessary
func (f *Image) WriteFile(fileName string) error {
	file, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer file.Close()

	lower:=strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		gz:=gzip.NewWriter(file)
		defer gz.Close()
		return f.Write(gz)
	}
	return f.Write(file)
}

// Writes an in-memory FITS image to an io.Writer. BITPIX follows the image
// declaration: 8 for unsigned bytes, 16 with the unsigned-int16 BZERO
// convention, -64 for doubles, and -32 float for everything else
func (f *Image) Write(w io.Writer) error {
	return f.writeUnit(w, true)
}

// Writes a primary HDU followed by IMAGE extension HDUs, one per given image
func WriteMulti(w io.Writer, images []*Image) error {
	for i,f:=range(images) {
		if err:=f.writeUnit(w, i==0); err!=nil { return err }
	}
	return nil
}

// Writes one header and data unit. The primary HDU leads with SIMPLE=T,
// extensions with XTENSION='IMAGE' plus the mandatory PCOUNT/GCOUNT pair
func (f *Image) writeUnit(w io.Writer, primary bool) error {
	bitpix:=int32(-32)
	bzero :=float32(0)
	switch f.Bitpix {
	case 8:
		bitpix=8
	case 16:
		bitpix, bzero=16, 32768
	case -64:
		bitpix=-64
	}

	// Build header in string buffer
	sb:=strings.Builder{}
	if primary {
		writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	} else {
		writeString(&sb, "XTENSION", "IMAGE", "Image extension")
	}
	writeInt32(&sb, "BITPIX", bitpix, "[1] Array data type")
	writeInt32(&sb, "NAXIS",  int32(len(f.Naxisn)), "[1] Number of axis")
	for i:=0; i<len(f.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d",i+1), f.Naxisn[i], "[1] Axis size")
	}
	if !primary {
		writeInt32(&sb, "PCOUNT", 0, "[1] Parameter count")
		writeInt32(&sb, "GCOUNT", 1, "[1] Group count")
	}
	writeFloat32(&sb, "BZERO", bzero, "[1] Zero offset")
	if f.FileName!="" {
		writeString(&sb, "ORIGFILE", f.FileName, "Source file of this cutout")
	}
	for _,history:=range(f.Header.History) {
		writeHistory(&sb, history)
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock:=(sb.Len() % BlockSize)
	if bytesInHeaderBlock>0 {
		for i:=bytesInHeaderBlock; i<BlockSize; i++ {
			sb.WriteRune(' ')
		}
	}

	// Write header block(s)
	_, err:=w.Write([]byte(sb.String()))
	if err!=nil { return err }

	// Write payload data, replacing NaNs with zeros for compatibility
	switch bitpix {
	case 8:
		err=writeUint8Array(w, f.Data)
	case 16:
		err=writeInt16Array(w, f.Data, bzero)
	case -64:
		err=writeFloat64Array(w, f.Data, true)
	default:
		err=writeFloat32Array(w, f.Data, true)
	}
	if err!=nil { return err }
	return padToBlockSize(w, int64(len(f.Data))*int64(BytesPerValue(bitpix)))
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	v:="F"
	if value { v="T" }
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	fmt.Fprintf(w, "%-8s= %20g / %-47s", key, value, comment)
}

// Writes a FITS header string value, truncating to a single record
func writeString(w io.Writer, key, value, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }

	// escape ' characters
	value=strings.Join(strings.Split(value, "'"), "''")
	if len(value)>18 { value=value[len(value)-18:] }
	fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
}

// Writes a FITS header history record
func writeHistory(w io.Writer, value string) {
	if len(value)>71 { value=value[0:71] }
	fmt.Fprintf(w, "HISTORY %-72s", value)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

// Pads the data unit with zero bytes up to the next FITS block boundary
func padToBlockSize(w io.Writer, dataBytes int64) error {
	rem:=dataBytes % int64(BlockSize)
	if rem==0 { return nil }
	pad:=make([]byte, int64(BlockSize)-rem)
	_, err:=w.Write(pad)
	return err
}

// Writes FITS binary body data in network byte order.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=(bufLen>>2) {
		size:=len(data)-block
		if size>(bufLen>>2) { size=(bufLen>>2) }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) { d=0 }
			val:=math.Float32bits(d)
			buf[(offset<<2)+0]=byte(val>>24)
			buf[(offset<<2)+1]=byte(val>>16)
			buf[(offset<<2)+2]=byte(val>> 8)
			buf[(offset<<2)+3]=byte(val    )
		}
		_, err:=w.Write(buf[:(size<<2)])
		if err!=nil { return err }
	}
	return nil
}

// Writes FITS binary body data as unsigned bytes, clamping values to [0,255]
func writeUint8Array(w io.Writer, data []float32) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=bufLen {
		size:=len(data)-block
		if size>bufLen { size=bufLen }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if math.IsNaN(float64(d)) { d=0 }
			if d<0   { d=0   }
			if d>255 { d=255 }
			buf[offset]=byte(d)
		}
		_, err:=w.Write(buf[:size])
		if err!=nil { return err }
	}
	return nil
}

// Writes FITS binary body data as big-endian float64.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat64Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=(bufLen>>3) {
		size:=len(data)-block
		if size>(bufLen>>3) { size=(bufLen>>3) }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) { d=0 }
			val:=math.Float64bits(float64(d))
			for b:=0; b<8; b++ {
				buf[(offset<<3)+b]=byte(val>>(56-8*b))
			}
		}
		_, err:=w.Write(buf[:(size<<3)])
		if err!=nil { return err }
	}
	return nil
}

// Writes FITS binary body data as big-endian int16 with the given zero offset,
// clamping values to the representable range
func writeInt16Array(w io.Writer, data []float32, bzero float32) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=(bufLen>>1) {
		size:=len(data)-block
		if size>(bufLen>>1) { size=(bufLen>>1) }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if math.IsNaN(float64(d)) { d=0 }
			d-=bzero
			if d< -32768 { d=-32768 }
			if d> 32767 { d= 32767 }
			val:=uint16(int16(d))
			buf[(offset<<1)+0]=byte(val>>8)
			buf[(offset<<1)+1]=byte(val   )
		}
		_, err:=w.Write(buf[:(size<<1)])
		if err!=nil { return err }
	}
	return nil
}
