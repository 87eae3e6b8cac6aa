package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/kiesman99/rastermask/pkg/raster"
)

// DefaultTileSize is the tile edge used when the profile does not request a
// block size. TIFF tile dimensions must be multiples of 16.
const DefaultTileSize = 256

// Writer produces a tiled single-band uint8 GeoTIFF through the
// raster.Writer contract, always little-endian.
//
// Memory stays bounded: windowed writes scatter into an in-progress tile
// cache, and a tile is compressed and appended to the output the moment it is
// fully covered. Tiles the run never touches are represented once by a shared
// no-data tile. Tile payloads are written sequentially after the file header;
// the IFD goes at the end of the file and the header's IFD offset is patched
// during Close.
type Writer struct {
	w       io.WriterAt
	closer  io.Closer
	profile raster.Profile

	tw, th       int
	blocksAcross int
	blocksDown   int

	pos     int64
	offsets []uint32
	counts  []uint32
	pending map[int]*pendingTile
	nodata  uint8
	closed  bool
}

// pendingTile is a tile still being covered by windowed writes. filled counts
// pixels written so far; each destination pixel is written at most once, so
// filled reaching the tile area means the tile is complete.
type pendingTile struct {
	data   []byte
	filled int
}

// Create creates path and returns a writer for the given profile.
func Create(path string, p raster.Profile) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, p)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a GeoTIFF for the given profile into w. Only tiled
// single-band uint8 output is supported.
func NewWriter(target io.WriterAt, p raster.Profile) (*Writer, error) {
	if p.DType != raster.UInt8 || p.Bands != 1 {
		return nil, fmt.Errorf("%w: output must be single-band uint8", ErrUnsupported)
	}
	if !p.Tiled {
		return nil, fmt.Errorf("%w: output must be tiled", ErrUnsupported)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", p.Width, p.Height)
	}

	w := &Writer{
		w:       target,
		profile: p,
		tw:      tileDim(p.BlockWidth),
		th:      tileDim(p.BlockHeight),
		pending: make(map[int]*pendingTile),
	}
	if p.NoData != nil {
		w.nodata = uint8(*p.NoData)
	}
	w.blocksAcross = (p.Width + w.tw - 1) / w.tw
	w.blocksDown = (p.Height + w.th - 1) / w.th
	n := w.blocksAcross * w.blocksDown
	w.offsets = make([]uint32, n)
	w.counts = make([]uint32, n)

	var hdr [8]byte
	copy(hdr[0:2], "II")
	binary.LittleEndian.PutUint16(hdr[2:4], tiffMagic)
	// IFD offset patched in Close.
	if _, err := target.WriteAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("writing TIFF header: %w", err)
	}
	w.pos = 8
	return w, nil
}

// tileDim rounds a requested block dimension up to a multiple of 16, falling
// back to the default tile size.
func tileDim(v int) int {
	if v <= 0 {
		return DefaultTileSize
	}
	return (v + 15) / 16 * 16
}

// WriteBlock writes row-major uint8 samples covering the given window. Each
// destination pixel must be written at most once per run.
func (w *Writer) WriteBlock(win raster.Window, data []uint8) error {
	if w.closed {
		return ErrClosed
	}
	if win.Empty() || win.Row < 0 || win.Col < 0 ||
		win.Row+win.Height > w.profile.Height || win.Col+win.Width > w.profile.Width {
		return fmt.Errorf("window %v outside raster bounds %dx%d", win, w.profile.Width, w.profile.Height)
	}
	if len(data) != win.Height*win.Width {
		return fmt.Errorf("window %v needs %d samples, got %d", win, win.Height*win.Width, len(data))
	}

	var touched []int
	seen := make(map[int]bool)
	for r := 0; r < win.Height; r++ {
		absRow := win.Row + r
		for c := 0; c < win.Width; {
			absCol := win.Col + c
			idx := (absRow/w.th)*w.blocksAcross + absCol/w.tw
			t := w.tile(idx)
			tc := absCol % w.tw
			span := min(w.tw-tc, win.Width-c)
			copy(t.data[(absRow%w.th)*w.tw+tc:], data[r*win.Width+c:r*win.Width+c+span])
			t.filled += span
			if !seen[idx] {
				seen[idx] = true
				touched = append(touched, idx)
			}
			c += span
		}
	}

	for _, idx := range touched {
		if t := w.pending[idx]; t.filled >= w.tileArea(idx) {
			if err := w.flushTile(idx, t.data); err != nil {
				return err
			}
			delete(w.pending, idx)
		}
	}
	return nil
}

// tile returns the in-progress tile with the given index, allocating it
// prefilled with the no-data value.
func (w *Writer) tile(idx int) *pendingTile {
	if t, ok := w.pending[idx]; ok {
		return t
	}
	t := &pendingTile{data: make([]byte, w.tw*w.th)}
	if w.nodata != 0 {
		for i := range t.data {
			t.data[i] = w.nodata
		}
	}
	w.pending[idx] = t
	return t
}

// tileArea returns the number of image pixels a tile covers, which is
// smaller than the padded tile buffer at the right and bottom edges.
func (w *Writer) tileArea(idx int) int {
	rows := min(w.th, w.profile.Height-(idx/w.blocksAcross)*w.th)
	cols := min(w.tw, w.profile.Width-(idx%w.blocksAcross)*w.tw)
	return rows * cols
}

// flushTile compresses one tile and appends it to the output.
func (w *Writer) flushTile(idx int, data []byte) error {
	comp, err := w.compress(data)
	if err != nil {
		return err
	}
	if w.pos+int64(len(comp)) > math.MaxUint32 {
		return fmt.Errorf("%w: output exceeds 4 GiB", ErrUnsupported)
	}
	if _, err := w.w.WriteAt(comp, w.pos); err != nil {
		return fmt.Errorf("writing tile %d: %w", idx, err)
	}
	w.offsets[idx] = uint32(w.pos)
	w.counts[idx] = uint32(len(comp))
	w.pos += int64(len(comp))
	return nil
}

func (w *Writer) compress(data []byte) ([]byte, error) {
	switch w.profile.Compression {
	case raster.CompressionNone:
		return data, nil
	case raster.CompressionLZW:
		return compressLZW(data), nil
	case raster.CompressionDeflate:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: compression %v", ErrUnsupported, w.profile.Compression)
}

// Close flushes the remaining tiles, writes the IFD, and patches the header.
// Tiles never touched by a write share a single no-data tile. The underlying
// file is released even when finalization fails.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) finish() error {
	idxs := make([]int, 0, len(w.pending))
	for idx := range w.pending {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		if err := w.flushTile(idx, w.pending[idx].data); err != nil {
			return err
		}
	}
	w.pending = nil

	// Shared tile for every index the run never covered.
	sharedOff, sharedCnt := uint32(0), uint32(0)
	for idx := range w.offsets {
		if w.offsets[idx] != 0 {
			continue
		}
		if sharedCnt == 0 {
			empty := make([]byte, w.tw*w.th)
			if w.nodata != 0 {
				for i := range empty {
					empty[i] = w.nodata
				}
			}
			if err := w.flushTile(idx, empty); err != nil {
				return err
			}
			sharedOff, sharedCnt = w.offsets[idx], w.counts[idx]
			continue
		}
		w.offsets[idx] = sharedOff
		w.counts[idx] = sharedCnt
	}

	return w.writeIFD()
}

// tagData is one IFD entry with its value bytes in little-endian encoding.
type tagData struct {
	tag   uint16
	ftype uint16
	count uint32
	data  []byte
}

func (w *Writer) writeIFD() error {
	entries := w.buildTags()

	// Out-of-line payloads first, at even offsets.
	payloadOffsets := make(map[uint16]uint32, len(entries))
	for _, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		if err := w.pad(); err != nil {
			return err
		}
		if w.pos+int64(len(e.data)) > math.MaxUint32 {
			return fmt.Errorf("%w: output exceeds 4 GiB", ErrUnsupported)
		}
		if _, err := w.w.WriteAt(e.data, w.pos); err != nil {
			return fmt.Errorf("writing tag %d payload: %w", e.tag, err)
		}
		payloadOffsets[e.tag] = uint32(w.pos)
		w.pos += int64(len(e.data))
	}

	if err := w.pad(); err != nil {
		return err
	}
	ifdOffset := uint32(w.pos)

	buf := make([]byte, 2+len(entries)*12+4)
	binary.LittleEndian.PutUint16(buf, uint16(len(entries)))
	for i, e := range entries {
		p := buf[2+i*12:]
		binary.LittleEndian.PutUint16(p, e.tag)
		binary.LittleEndian.PutUint16(p[2:], e.ftype)
		binary.LittleEndian.PutUint32(p[4:], e.count)
		if len(e.data) <= 4 {
			copy(p[8:12], e.data)
		} else {
			binary.LittleEndian.PutUint32(p[8:], payloadOffsets[e.tag])
		}
	}
	// Next IFD offset stays zero: single-image file.

	if _, err := w.w.WriteAt(buf, w.pos); err != nil {
		return fmt.Errorf("writing IFD: %w", err)
	}

	var off [4]byte
	binary.LittleEndian.PutUint32(off[:], ifdOffset)
	if _, err := w.w.WriteAt(off[:], 4); err != nil {
		return fmt.Errorf("patching header: %w", err)
	}
	return nil
}

// pad advances the append position to an even offset, as TIFF requires for
// value offsets.
func (w *Writer) pad() error {
	if w.pos%2 == 0 {
		return nil
	}
	if _, err := w.w.WriteAt([]byte{0}, w.pos); err != nil {
		return err
	}
	w.pos++
	return nil
}

// buildTags assembles the IFD entries in ascending tag order.
func (w *Writer) buildTags() []tagData {
	p := w.profile

	comp := uint16(compNone)
	switch p.Compression {
	case raster.CompressionLZW:
		comp = compLZW
	case raster.CompressionDeflate:
		comp = compDeflate
	}

	entries := []tagData{
		longTag(tagImageWidth, uint32(p.Width)),
		longTag(tagImageLength, uint32(p.Height)),
		shortTag(tagBitsPerSample, 8),
		shortTag(tagCompression, comp),
		shortTag(tagPhotometric, 1), // BlackIsZero
		shortTag(tagSamplesPerPixel, 1),
		shortTag(tagPlanarConfig, 1),
		longTag(tagTileWidth, uint32(w.tw)),
		longTag(tagTileLength, uint32(w.th)),
		longsTag(tagTileOffsets, w.offsets),
		longsTag(tagTileByteCounts, w.counts),
		shortTag(tagSampleFormat, sampleFormatUint),
	}

	if t := p.Transform; t != (raster.Transform{}) {
		if t.NorthUp() && t.A > 0 && t.E < 0 {
			entries = append(entries,
				doublesTag(tagModelPixelScale, []float64{t.A, -t.E, 0}),
				doublesTag(tagModelTiepoint, []float64{0, 0, 0, t.C, t.F, 0}),
			)
		} else {
			entries = append(entries, doublesTag(tagModelTransformation, []float64{
				t.A, t.B, 0, t.C,
				t.D, t.E, 0, t.F,
				0, 0, 0, 0,
				0, 0, 0, 1,
			}))
		}
	}

	if gk := p.GeoKeys; gk != nil && len(gk.Directory) > 0 {
		entries = append(entries, shortsTag(tagGeoKeyDirectory, gk.Directory))
		if len(gk.DoubleParams) > 0 {
			entries = append(entries, doublesTag(tagGeoDoubleParams, gk.DoubleParams))
		}
		if gk.ASCIIParams != "" {
			entries = append(entries, asciiTag(tagGeoASCIIParams, gk.ASCIIParams))
		}
	}

	if p.NoData != nil {
		entries = append(entries,
			asciiTag(tagGDALNoData, strconv.FormatFloat(*p.NoData, 'g', -1, 64)))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	return entries
}

func shortTag(tag, v uint16) tagData {
	d := make([]byte, 2)
	binary.LittleEndian.PutUint16(d, v)
	return tagData{tag: tag, ftype: typeShort, count: 1, data: d}
}

func longTag(tag uint16, v uint32) tagData {
	d := make([]byte, 4)
	binary.LittleEndian.PutUint32(d, v)
	return tagData{tag: tag, ftype: typeLong, count: 1, data: d}
}

func longsTag(tag uint16, vals []uint32) tagData {
	d := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(d[i*4:], v)
	}
	return tagData{tag: tag, ftype: typeLong, count: uint32(len(vals)), data: d}
}

func shortsTag(tag uint16, vals []uint16) tagData {
	d := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(d[i*2:], v)
	}
	return tagData{tag: tag, ftype: typeShort, count: uint32(len(vals)), data: d}
}

func doublesTag(tag uint16, vals []float64) tagData {
	d := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(d[i*8:], math.Float64bits(v))
	}
	return tagData{tag: tag, ftype: typeDouble, count: uint32(len(vals)), data: d}
}

func asciiTag(tag uint16, s string) tagData {
	d := append([]byte(s), 0)
	return tagData{tag: tag, ftype: typeASCII, count: uint32(len(d)), data: d}
}
