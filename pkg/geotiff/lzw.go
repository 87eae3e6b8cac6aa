package geotiff

import "bytes"

// TIFF 6.0 LZW differs from the GIF flavor in compress/lzw: the code width
// grows one code early ("early change") and the table is reset at entry 4094.
// Decoding goes through golang.org/x/image/tiff/lzw, which implements the
// early-change variant; that package only ships a decoder, so the matching
// encoder lives here.

const (
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwClearAt   = 4094
	lzwMaxWidth  = 12
)

// compressLZW encodes data as a TIFF LZW stream: MSB-first bit packing,
// 8-bit literals, early code width change.
func compressLZW(data []byte) []byte {
	var out bytes.Buffer
	var acc uint32
	nBits := uint(0)
	width := uint(9)

	emit := func(code uint16) {
		acc |= uint32(code) << (32 - width - nBits)
		nBits += width
		for nBits >= 8 {
			out.WriteByte(byte(acc >> 24))
			acc <<= 8
			nBits -= 8
		}
	}

	// Phrases are (prefix code, next byte) pairs keyed into a flat map.
	table := make(map[uint32]uint16, 4096)
	next := uint16(lzwFirstCode)

	emit(lzwClearCode)
	cur := uint16(0)
	haveCur := false
	for _, k := range data {
		if !haveCur {
			cur, haveCur = uint16(k), true
			continue
		}
		key := uint32(cur)<<8 | uint32(k)
		if code, ok := table[key]; ok {
			cur = code
			continue
		}
		emit(cur)
		table[key] = next
		next++
		switch {
		case width < lzwMaxWidth && next == 1<<width-1:
			width++
		case next == lzwClearAt:
			emit(lzwClearCode)
			table = make(map[uint32]uint16, 4096)
			next = lzwFirstCode
			width = 9
		}
		cur = uint16(k)
	}
	if haveCur {
		emit(cur)
	}
	emit(lzwEOICode)
	if nBits > 0 {
		out.WriteByte(byte(acc >> 24))
	}
	return out.Bytes()
}
