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
	"path"
	"regexp"
	"strconv"
	"strings"
	"os"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Reads the FITS image in the given HDU of the named file. Decompresses gzip
// if a .gz or .gzip suffix is present. Reads metadata only (fast) if readData is false
func NewImageFromFile(fileName string, hduIx int, readData bool, logWriter io.Writer) (i *Image, err error) {
	i = NewImage()
	return i, i.ReadFile(fileName, hduIx, readData, logWriter)
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (f *Image) ReadFile(fileName string, hduIx int, readData bool, logWriter io.Writer) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file

	f.FileName = fileName
	ext := strings.ToLower(path.Ext(fileName))
	if ext == ".gz" || ext == ".gzip" {
		// Decompress gzip if .gz or .gzip suffix is present
		r, err = gzip.NewReader(file)
		if err != nil {
			return err
		}
	}

	return f.Read(r, hduIx, readData, logWriter)
}

// Reads a FITS image from a stream positioned at the start of the file.
// Skips ahead over earlier HDUs to the one with the given index, decodes its
// header, and reads its data unit if requested. Records the byte offset of
// the data unit in DataStart for later partial reads.
func (f *Image) Read(r io.Reader, hduIx int, readData bool, logWriter io.Writer) (err error) {
	offset := int64(0)
	for i := 0; ; i++ {
		f.Header = NewHeader()
		if err = f.Header.read(r, f.ID, logWriter); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%d: file ends before HDU %d", f.ID, hduIx)
			}
			return err
		}
		offset += int64(f.Header.Length)
		if i == hduIx {
			break
		}
		// skip the data unit of this HDU. Seek when the stream allows it,
		// so remote range readers do not transfer bytes just to walk past
		skip := f.Header.DataBlockBytes()
		if seeker, ok := r.(io.Seeker); ok {
			_, err = seeker.Seek(skip, io.SeekCurrent)
		} else {
			_, err = io.CopyN(io.Discard, r, skip)
		}
		if err != nil {
			return fmt.Errorf("%d: skipping HDU %d data: %s", f.ID, i, err.Error())
		}
		offset += skip
	}
	f.DataStart = offset

	return f.parseHeader(r, hduIx, readData, logWriter)
}

func (f *Image) parseHeader(r io.Reader, hduIx int, readData bool, logWriter io.Writer) (err error) {
	h := &f.Header

	// check mandatory fields as per standard
	if hduIx == 0 {
		if !h.Bools["SIMPLE"] {
			return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", f.ID)
		}
	} else if !h.Has("XTENSION") {
		return fmt.Errorf("%d: HDU %d lacks XTENSION keyword", f.ID, hduIx)
	}

	if _, ok := h.Ints["BITPIX"]; !ok {
		return fmt.Errorf("%d: FITS header does not contain key BITPIX", f.ID)
	}
	f.Bitpix = h.Ints["BITPIX"]

	naxis, ok := h.Ints["NAXIS"]
	if !ok {
		return fmt.Errorf("%d: FITS header does not contain key NAXIS", f.ID)
	}
	f.Naxisn = make([]int32, naxis)
	f.Pixels = int64(1)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		nai, ok := h.Ints[name]
		if !ok {
			return fmt.Errorf("%d: FITS header does not contain key %s", f.ID, name)
		}
		f.Naxisn[i-1] = nai
		f.Pixels *= int64(nai)
	}
	if naxis == 0 {
		f.Pixels = 0 // dataless HDU, e.g. an empty primary leading a list of extensions
	}

	// key optional fields for pixel value reconstruction
	f.Bzero = h.FloatOr("BZERO", 0)
	f.Bscale = h.FloatOr("BSCALE", 1)
	if f.Bscale == 0 {
		f.Bscale = 1
	}
	f.Exposure = h.FloatOr("EXPOSURE", h.FloatOr("EXPTIME", 0))

	if !readData {
		return nil
	}
	if h.Has("ZNAXIS") {
		return fmt.Errorf("%d: HDU %d holds a tile-compressed image; decompression is not supported", f.ID, hduIx)
	}
	return f.readData(r, logWriter)
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Batched read of the whole data unit, converting from network byte order and
// adjusting for Bzero and Bscale. Handles reads that end mid-value by carrying
// leftover bytes into the next batch
func (f *Image) readData(r io.Reader, logWriter io.Writer) (err error) {
	bpv := int(BytesPerValue(f.Bitpix))
	if bpv == 0 {
		return fmt.Errorf("%d: Unknown BITPIX value %d", f.ID, f.Bitpix)
	}
	switch f.Bitpix {
	case 32, 64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int%d to float32 values\n", f.ID, f.Bitpix)
	case -64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting float%d to float32 values\n", f.ID, -f.Bitpix)
	}

	f.Data = make([]float32, f.Pixels)
	buf := make([]byte, bufLen)

	dataIndex := 0
	leftoverBytes := 0
	for dataIndex < len(f.Data) {
		bytesToRead := (len(f.Data)-dataIndex)*bpv - leftoverBytes
		if bytesToRead > bufLen-leftoverBytes {
			bytesToRead = bufLen - leftoverBytes
		}
		bytesRead, err := r.Read(buf[leftoverBytes : leftoverBytes+bytesToRead])
		if err != nil {
			return fmt.Errorf("%d: %s", f.ID, err.Error())
		}

		availableBytes := leftoverBytes + bytesRead
		usableBytes := availableBytes - availableBytes%bpv
		numValues := usableBytes / bpv
		err = DecodeBigEndian(f.Data[dataIndex:dataIndex+numValues], buf[:usableBytes], f.Bitpix, f.Bzero, f.Bscale)
		if err != nil {
			return fmt.Errorf("%d: %s", f.ID, err.Error())
		}
		dataIndex += numValues
		leftoverBytes = availableBytes - usableBytes
		copy(buf, buf[usableBytes:availableBytes])
	}
	f.Bzero, f.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

// Reads one FITS header from the stream, i.e. 2880-byte blocks of 80-character
// lines up to and including the END line. Returns io.EOF untouched when the
// stream ends cleanly before the first block, so callers can walk HDUs until
// the file runs out
func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, BlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err == io.EOF && h.Length == 0 {
			return io.EOF
		}
		if err != nil || bytesRead != BlockSize {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < BlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				subNames := reParser.SubexpNames()
				h.readLine(subNames, subValues, id, lineNo, logWriter)
			}
		}
	}
	// header blocks read past the END line still count towards the data offset
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, string(subValues[i]))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, string(subValues[i]))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = int32(val)
				}
			case byte('f'): // float
				val, err := strconv.ParseFloat(string(subValues[i]), 64)
				if err == nil {
					h.Floats[key] = float32(val)
				}
			case byte('s'): // string
				h.Strings[key] = strings.TrimRight(string(subValues[i]), " ")
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	// accepts lowercase exponents and dotless mantissas, as written by astropy
	floa := "(?P<f>[+-]?(?:[0-9]*\\.[0-9]*(?:[EDed][-+]?[0-9]+)?|[0-9]+[EDed][-+]?[0-9]+))"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)" // FIXME: other variants possible, see ISO8601
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	// missing: CONTINUE for strings
	// missing: complex int: (nr, nr)
	// missing: complex float: (nr, nr)

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
