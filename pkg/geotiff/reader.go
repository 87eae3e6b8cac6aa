package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"github.com/kiesman99/rastermask/pkg/raster"
)

// Reader is an open GeoTIFF exposed through the raster.Reader contract.
// Reads are windowed; the most recently decoded tile is cached so that
// block-aligned access decodes each tile once.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder

	width, height int
	bands         int
	dtype         raster.DType
	dtypeSize     int

	compression uint16
	predictor   uint16

	tiled        bool
	blockWidth   int // tile width, or image width for strips
	blockHeight  int // tile height, or rows per strip
	blocksAcross int
	blocksDown   int
	offsets      []int64
	counts       []int64

	nodata    *float64
	transform raster.Transform
	geoKeys   *raster.GeoKeys

	cachedIdx  int
	cachedData []float64
}

// Open opens a GeoTIFF file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader parses a GeoTIFF from any random-access source.
func NewReader(ra io.ReaderAt) (*Reader, error) {
	d, err := parseIFD(ra)
	if err != nil {
		return nil, err
	}

	r := &Reader{r: ra, order: d.order, cachedIdx: -1}
	if err := r.configure(d); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) configure(d *ifd) error {
	w, err := d.uint1(tagImageWidth, 0)
	if err != nil {
		return err
	}
	h, err := d.uint1(tagImageLength, 0)
	if err != nil {
		return err
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("%w: zero image dimensions", ErrUnsupported)
	}
	r.width, r.height = int(w), int(h)

	spp, err := d.uint1(tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	r.bands = int(spp)

	planar, err := d.uint1(tagPlanarConfig, 1)
	if err != nil {
		return err
	}
	if planar != 1 {
		return fmt.Errorf("%w: planar sample storage", ErrUnsupported)
	}

	bits, err := d.uint1(tagBitsPerSample, 1)
	if err != nil {
		return err
	}
	format, err := d.uint1(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return err
	}
	if r.dtype, err = dtypeFor(int(bits), int(format)); err != nil {
		return err
	}
	r.dtypeSize = r.dtype.Size()

	comp, err := d.uint1(tagCompression, compNone)
	if err != nil {
		return err
	}
	switch comp {
	case compNone, compLZW, compDeflate, compDeflateOld:
		r.compression = uint16(comp)
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupported, comp)
	}

	pred, err := d.uint1(tagPredictor, 1)
	if err != nil {
		return err
	}
	if pred != 1 && pred != 2 {
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, pred)
	}
	if pred == 2 {
		if r.dtype == raster.Float32 || r.dtype == raster.Float64 {
			return fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
		}
		if r.bands != 1 {
			return fmt.Errorf("%w: horizontal predictor on multi-sample pixels", ErrUnsupported)
		}
	}
	r.predictor = uint16(pred)

	if err := r.configureLayout(d); err != nil {
		return err
	}
	if err := r.configureGeo(d); err != nil {
		return err
	}

	nd, err := d.ascii(tagGDALNoData)
	if err != nil {
		return err
	}
	if nd = strings.TrimSpace(nd); nd != "" {
		v, err := strconv.ParseFloat(nd, 64)
		if err != nil {
			return fmt.Errorf("parsing no-data value %q: %w", nd, err)
		}
		r.nodata = &v
	}
	return nil
}

func (r *Reader) configureLayout(d *ifd) error {
	if d.has(tagTileWidth) {
		tw, err := d.uint1(tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := d.uint1(tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 {
			return fmt.Errorf("%w: zero tile dimensions", ErrUnsupported)
		}
		r.tiled = true
		r.blockWidth, r.blockHeight = int(tw), int(th)
		if r.offsets, r.counts, err = readLayoutArrays(d, tagTileOffsets, tagTileByteCounts); err != nil {
			return err
		}
	} else {
		rps, err := d.uint1(tagRowsPerStrip, uint64(r.height))
		if err != nil {
			return err
		}
		if rps == 0 || rps > uint64(r.height) {
			rps = uint64(r.height)
		}
		r.blockWidth, r.blockHeight = r.width, int(rps)
		if r.offsets, r.counts, err = readLayoutArrays(d, tagStripOffsets, tagStripByteCounts); err != nil {
			return err
		}
	}

	r.blocksAcross = (r.width + r.blockWidth - 1) / r.blockWidth
	r.blocksDown = (r.height + r.blockHeight - 1) / r.blockHeight
	if want := r.blocksAcross * r.blocksDown; len(r.offsets) != want || len(r.counts) != want {
		return fmt.Errorf("%w: expected %d block offsets, found %d", ErrUnsupported, want, len(r.offsets))
	}
	return nil
}

func readLayoutArrays(d *ifd, offTag, cntTag uint16) ([]int64, []int64, error) {
	offs, err := d.uints(offTag)
	if err != nil {
		return nil, nil, err
	}
	cnts, err := d.uints(cntTag)
	if err != nil {
		return nil, nil, err
	}
	if len(offs) == 0 || len(offs) != len(cnts) {
		return nil, nil, fmt.Errorf("%w: mismatched block offset arrays", ErrUnsupported)
	}
	offsets := make([]int64, len(offs))
	counts := make([]int64, len(cnts))
	for i := range offs {
		offsets[i] = int64(offs[i])
		counts[i] = int64(cnts[i])
	}
	return offsets, counts, nil
}

func (r *Reader) configureGeo(d *ifd) error {
	if m, err := d.doubles(tagModelTransformation); err != nil {
		return err
	} else if len(m) == 16 {
		r.transform = raster.Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else {
		scale, err := d.doubles(tagModelPixelScale)
		if err != nil {
			return err
		}
		tie, err := d.doubles(tagModelTiepoint)
		if err != nil {
			return err
		}
		if len(scale) >= 2 && len(tie) >= 6 {
			// geoX = tieX + (col - tieI) * sx; geoY = tieY - (row - tieJ) * sy
			r.transform = raster.Transform{
				A: scale[0], C: tie[3] - tie[0]*scale[0],
				E: -scale[1], F: tie[4] + tie[1]*scale[1],
			}
		}
	}

	dir, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return err
	}
	if len(dir) > 0 {
		gk := &raster.GeoKeys{Directory: make([]uint16, len(dir))}
		for i, v := range dir {
			gk.Directory[i] = uint16(v)
		}
		if gk.DoubleParams, err = d.doubles(tagGeoDoubleParams); err != nil {
			return err
		}
		if gk.ASCIIParams, err = d.ascii(tagGeoASCIIParams); err != nil {
			return err
		}
		r.geoKeys = gk
	}
	return nil
}

func dtypeFor(bits, format int) (raster.DType, error) {
	switch format {
	case sampleFormatUint:
		switch bits {
		case 8:
			return raster.UInt8, nil
		case 16:
			return raster.UInt16, nil
		case 32:
			return raster.UInt32, nil
		}
	case sampleFormatInt:
		switch bits {
		case 16:
			return raster.Int16, nil
		case 32:
			return raster.Int32, nil
		}
	case sampleFormatFloat:
		switch bits {
		case 32:
			return raster.Float32, nil
		case 64:
			return raster.Float64, nil
		}
	}
	return 0, fmt.Errorf("%w: %d-bit samples with format %d", ErrUnsupported, bits, format)
}

// Close releases the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	r.cachedData = nil
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) Width() int  { return r.width }
func (r *Reader) Height() int { return r.height }
func (r *Reader) Bands() int  { return r.bands }

func (r *Reader) Transform() raster.Transform { return r.transform }

// NoData returns the raster's no-data value, or nil when none is declared.
func (r *Reader) NoData() *float64 { return r.nodata }

// Profile returns the creation profile of the raster, carrying the
// georeferencing metadata opaquely.
func (r *Reader) Profile() raster.Profile {
	p := raster.Profile{
		Width:       r.width,
		Height:      r.height,
		Transform:   r.transform,
		Bands:       r.bands,
		DType:       r.dtype,
		NoData:      r.nodata,
		Tiled:       r.tiled,
		BlockWidth:  r.blockWidth,
		BlockHeight: r.blockHeight,
		GeoKeys:     r.geoKeys,
	}
	switch r.compression {
	case compLZW:
		p.Compression = raster.CompressionLZW
	case compDeflate, compDeflateOld:
		p.Compression = raster.CompressionDeflate
	}
	return p
}

// BlockWindows enumerates the native tile (or strip) windows row-major,
// clipped to the image bounds. Together they tile the grid exactly.
func (r *Reader) BlockWindows(fn func(raster.Window) error) error {
	for by := 0; by < r.blocksDown; by++ {
		for bx := 0; bx < r.blocksAcross; bx++ {
			w := raster.Window{
				Row:    by * r.blockHeight,
				Col:    bx * r.blockWidth,
				Height: min(r.blockHeight, r.height-by*r.blockHeight),
				Width:  min(r.blockWidth, r.width-bx*r.blockWidth),
			}
			if err := fn(w); err != nil {
				if err == raster.ErrStop {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// ReadBlock reads band 1 over the given window, optionally decimated to the
// requested output shape with nearest-neighbor sampling.
func (r *Reader) ReadBlock(w raster.Window, opts *raster.ReadOptions) (*raster.Block, error) {
	if w.Empty() || w.Row < 0 || w.Col < 0 ||
		w.Row+w.Height > r.height || w.Col+w.Width > r.width {
		return nil, fmt.Errorf("window %v outside raster bounds %dx%d", w, r.width, r.height)
	}

	outRows, outCols := w.Height, w.Width
	if opts != nil && opts.OutRows > 0 && opts.OutCols > 0 {
		outRows, outCols = opts.OutRows, opts.OutCols
	}

	b := &raster.Block{
		Rows: outRows,
		Cols: outCols,
		Data: make([]float64, outRows*outCols),
	}
	if r.nodata != nil {
		b.Valid = make([]bool, outRows*outCols)
	}

	for or := 0; or < outRows; or++ {
		srcRow := w.Row + or*w.Height/outRows
		for oc := 0; oc < outCols; oc++ {
			srcCol := w.Col + oc*w.Width/outCols
			v, err := r.sample(srcRow, srcCol)
			if err != nil {
				return nil, err
			}
			i := or*outCols + oc
			b.Data[i] = v
			if b.Valid != nil {
				b.Valid[i] = !isNoData(v, *r.nodata)
			}
		}
	}
	return b, nil
}

func isNoData(v, nodata float64) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	return v == nodata
}

// sample fetches one pixel of band 1, decoding and caching the tile that
// holds it.
func (r *Reader) sample(row, col int) (float64, error) {
	idx := (row/r.blockHeight)*r.blocksAcross + col/r.blockWidth
	if idx != r.cachedIdx {
		data, err := r.decodeBlock(idx)
		if err != nil {
			return 0, err
		}
		r.cachedIdx = idx
		r.cachedData = data
	}
	return r.cachedData[(row%r.blockHeight)*r.blockBufCols()+col%r.blockWidth], nil
}

// blockBufCols returns the row stride of a decoded block buffer. Tiles are
// padded to the full tile width; strips are exactly the image width.
func (r *Reader) blockBufCols() int {
	if r.tiled {
		return r.blockWidth
	}
	return r.width
}

// blockBufRows returns the number of rows stored for a block. Tiles are
// padded to the full tile height; the last strip is short.
func (r *Reader) blockBufRows(idx int) int {
	if r.tiled {
		return r.blockHeight
	}
	return min(r.blockHeight, r.height-(idx/r.blocksAcross)*r.blockHeight)
}

// decodeBlock decompresses and converts one tile or strip to band-1 float64
// samples.
func (r *Reader) decodeBlock(idx int) ([]float64, error) {
	rows := r.blockBufRows(idx)
	cols := r.blockBufCols()
	npix := rows * cols

	// A zero byte count marks a sparse block: every pixel is no-data.
	if r.counts[idx] == 0 {
		data := make([]float64, npix)
		if r.nodata != nil && *r.nodata != 0 {
			for i := range data {
				data[i] = *r.nodata
			}
		}
		return data, nil
	}

	raw, err := r.blockBytes(idx, npix*r.bands*r.dtypeSize)
	if err != nil {
		return nil, err
	}
	if r.predictor == 2 {
		undoPredictor(raw, rows, cols, r.dtypeSize, r.order)
	}
	return r.convert(raw, npix), nil
}

// blockBytes reads and decompresses the stored bytes of one block.
func (r *Reader) blockBytes(idx, want int) ([]byte, error) {
	comp := make([]byte, r.counts[idx])
	if _, err := r.r.ReadAt(comp, r.offsets[idx]); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", idx, err)
	}

	var raw []byte
	switch r.compression {
	case compNone:
		raw = comp
	case compLZW:
		rc := lzw.NewReader(bytes.NewReader(comp), lzw.MSB, 8)
		defer rc.Close()
		raw = make([]byte, want)
		if _, err := io.ReadFull(rc, raw); err != nil {
			return nil, fmt.Errorf("decompressing LZW block %d: %w", idx, err)
		}
	case compDeflate, compDeflateOld:
		rc, err := zlib.NewReader(bytes.NewReader(comp))
		if err != nil {
			return nil, fmt.Errorf("decompressing block %d: %w", idx, err)
		}
		defer rc.Close()
		raw = make([]byte, want)
		if _, err := io.ReadFull(rc, raw); err != nil {
			return nil, fmt.Errorf("decompressing block %d: %w", idx, err)
		}
	}
	if len(raw) < want {
		return nil, fmt.Errorf("block %d: %d bytes, want %d", idx, len(raw), want)
	}
	return raw, nil
}

// undoPredictor reverses horizontal differencing in place, row by row,
// wrapping arithmetic within the sample width.
func undoPredictor(raw []byte, rows, cols, size int, order binary.ByteOrder) {
	stride := cols * size
	for row := 0; row < rows; row++ {
		line := raw[row*stride : (row+1)*stride]
		switch size {
		case 1:
			for i := 1; i < cols; i++ {
				line[i] += line[i-1]
			}
		case 2:
			var acc uint16
			for i := 0; i < cols; i++ {
				acc += order.Uint16(line[i*2:])
				order.PutUint16(line[i*2:], acc)
			}
		case 4:
			var acc uint32
			for i := 0; i < cols; i++ {
				acc += order.Uint32(line[i*4:])
				order.PutUint32(line[i*4:], acc)
			}
		}
	}
}

// convert turns raw sample bytes into float64s, keeping only the first
// sample of each pixel.
func (r *Reader) convert(raw []byte, npix int) []float64 {
	out := make([]float64, npix)
	stride := r.bands * r.dtypeSize
	order := r.order
	for i := 0; i < npix; i++ {
		p := raw[i*stride:]
		switch r.dtype {
		case raster.UInt8:
			out[i] = float64(p[0])
		case raster.UInt16:
			out[i] = float64(order.Uint16(p))
		case raster.UInt32:
			out[i] = float64(order.Uint32(p))
		case raster.Int16:
			out[i] = float64(int16(order.Uint16(p)))
		case raster.Int32:
			out[i] = float64(int32(order.Uint32(p)))
		case raster.Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case raster.Float64:
			out[i] = math.Float64frombits(order.Uint64(p))
		}
	}
	return out
}
