// Package geotiff reads and writes single-band tiled GeoTIFF rasters behind
// the raster.Reader and raster.Writer contracts. It handles classic TIFF
// (little and big endian), tiled and stripped storage, LZW and Deflate
// compression, the horizontal predictor, GDAL's no-data tag, and the
// ModelPixelScale/ModelTiepoint and ModelTransformation georeferencing tags.
package geotiff

import "errors"

var (
	// ErrNotTIFF is returned when the input does not start with a classic
	// TIFF header.
	ErrNotTIFF = errors.New("not a TIFF file")

	// ErrUnsupported is returned for TIFF features outside this package's
	// scope (BigTIFF, planar multi-band storage, exotic compressors).
	ErrUnsupported = errors.New("unsupported TIFF feature")

	// ErrClosed is returned when writing to a finalized writer.
	ErrClosed = errors.New("writer is closed")
)

const tiffMagic = 42

// TIFF tag IDs used by this package.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// TIFF compression codes.
const (
	compNone       = 1
	compLZW        = 5
	compDeflate    = 8
	compDeflateOld = 32946
)

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeSByte    = 6
	typeSShort   = 8
	typeSLong    = 9
	typeFloat    = 11
	typeDouble   = 12
)

// fieldTypeSize maps a TIFF field type to its size in bytes.
func fieldTypeSize(t uint16) int {
	switch t {
	case typeByte, typeASCII, typeSByte:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat:
		return 4
	case typeRational, typeDouble:
		return 8
	}
	return 0
}

// SampleFormat codes.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)
