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
	"math"
)

// Bytes per pixel value for a given BITPIX. Returns 0 for invalid values
func BytesPerValue(bitpix int32) int32 {
	switch bitpix {
	case 8:
		return 1
	case 16:
		return 2
	case 32, -32:
		return 4
	case 64, -64:
		return 8
	}
	return 0
}

// Decodes big-endian FITS pixel values from src into dst, converting to
// float32 and applying the Bzero offset and Bscale multiplier. len(src) must
// be len(dst) times the value size for the given BITPIX
func DecodeBigEndian(dst []float32, src []byte, bitpix int32, bzero, bscale float32) error {
	bpv := int(BytesPerValue(bitpix))
	if bpv == 0 {
		return fmt.Errorf("unknown BITPIX value %d", bitpix)
	}
	if len(src) != len(dst)*bpv {
		return fmt.Errorf("have %d bytes for %d values of %d bytes each", len(src), len(dst), bpv)
	}

	switch bitpix {
	case 8:
		for i := range dst {
			dst[i] = float32(src[i])*bscale + bzero
		}
	case 16:
		for i := range dst {
			val := int16((uint16(src[i<<1]) << 8) | uint16(src[(i<<1)+1]))
			dst[i] = float32(val)*bscale + bzero
		}
	case 32:
		for i := range dst {
			j := i << 2
			val := int32((uint32(src[j]) << 24) | (uint32(src[j+1]) << 16) | (uint32(src[j+2]) << 8) | (uint32(src[j+3])))
			dst[i] = float32(val)*bscale + bzero
		}
	case 64:
		for i := range dst {
			j := i << 3
			val := int64((uint64(src[j]) << 56) | (uint64(src[j+1]) << 48) | (uint64(src[j+2]) << 40) | (uint64(src[j+3]) << 32) |
				(uint64(src[j+4]) << 24) | (uint64(src[j+5]) << 16) | (uint64(src[j+6]) << 8) | (uint64(src[j+7])))
			dst[i] = float32(val)*bscale + bzero
		}
	case -32:
		for i := range dst {
			j := i << 2
			bits := (uint32(src[j]) << 24) | (uint32(src[j+1]) << 16) | (uint32(src[j+2]) << 8) | (uint32(src[j+3]))
			dst[i] = math.Float32frombits(bits)*bscale + bzero
		}
	case -64:
		for i := range dst {
			j := i << 3
			bits := (uint64(src[j]) << 56) | (uint64(src[j+1]) << 48) | (uint64(src[j+2]) << 40) | (uint64(src[j+3]) << 32) |
				(uint64(src[j+4]) << 24) | (uint64(src[j+5]) << 16) | (uint64(src[j+6]) << 8) | (uint64(src[j+7]))
			dst[i] = float32(math.Float64frombits(bits))*bscale + bzero
		}
	}
	return nil
}
