package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// ifdEntry is one parsed IFD entry. Small values live inline in raw; larger
// ones live at the offset encoded in raw.
type ifdEntry struct {
	tag   uint16
	ftype uint16
	count uint32
	raw   [4]byte
}

// ifd is a parsed image file directory with its read context.
type ifd struct {
	r       io.ReaderAt
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

// parseIFD reads the TIFF header and the first IFD.
func parseIFD(r io.ReaderAt) (*ifd, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}

	var order binary.ByteOrder
	switch string(hdr[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	if order.Uint16(hdr[2:4]) != tiffMagic {
		return nil, ErrNotTIFF
	}

	off := int64(order.Uint32(hdr[4:8]))
	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], off); err != nil {
		return nil, fmt.Errorf("reading IFD: %w", err)
	}
	n := int(order.Uint16(cnt[:]))

	buf := make([]byte, n*12)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("reading IFD entries: %w", err)
	}

	d := &ifd{r: r, order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		e := ifdEntry{
			tag:   order.Uint16(buf[i*12:]),
			ftype: order.Uint16(buf[i*12+2:]),
			count: order.Uint32(buf[i*12+4:]),
		}
		copy(e.raw[:], buf[i*12+8:i*12+12])
		d.entries[e.tag] = e
	}
	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// payload returns the raw value bytes of an entry, following the offset
// indirection when the value does not fit inline.
func (d *ifd) payload(e ifdEntry) ([]byte, error) {
	size := fieldTypeSize(e.ftype) * int(e.count)
	if size == 0 {
		return nil, fmt.Errorf("%w: field type %d", ErrUnsupported, e.ftype)
	}
	if size <= 4 {
		return e.raw[:size], nil
	}
	buf := make([]byte, size)
	if _, err := d.r.ReadAt(buf, int64(d.order.Uint32(e.raw[:]))); err != nil {
		return nil, fmt.Errorf("reading tag %d payload: %w", e.tag, err)
	}
	return buf, nil
}

// uints returns a tag's values as unsigned integers. Missing tags yield nil.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	buf, err := d.payload(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.ftype {
		case typeByte:
			out[i] = uint64(buf[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(buf[i*2:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(buf[i*4:]))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", ErrUnsupported, tag, e.ftype)
		}
	}
	return out, nil
}

// uint1 returns a single-valued integer tag, or def when absent.
func (d *ifd) uint1(tag uint16, def uint64) (uint64, error) {
	vals, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

// doubles returns a tag's values as float64s. Missing tags yield nil.
func (d *ifd) doubles(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	buf, err := d.payload(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.ftype {
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(buf[i*4:])))
		case typeDouble:
			out[i] = math.Float64frombits(d.order.Uint64(buf[i*8:]))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-float type %d", ErrUnsupported, tag, e.ftype)
		}
	}
	return out, nil
}

// ascii returns a tag's value as a string, with trailing NULs trimmed.
func (d *ifd) ascii(tag uint16) (string, error) {
	e, ok := d.entries[tag]
	if !ok {
		return "", nil
	}
	buf, err := d.payload(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}
