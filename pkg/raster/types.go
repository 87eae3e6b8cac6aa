package raster

import "fmt"

// DType identifies the sample data type of a raster band.
type DType int

// Sample data types understood by grid readers and writers.
const (
	UInt8 DType = iota
	UInt16
	UInt32
	Int16
	Int32
	Float32
	Float64
)

func (d DType) String() string {
	switch d {
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Size returns the size of one sample in bytes.
func (d DType) Size() int {
	switch d {
	case UInt8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Compression identifies the compression scheme of tiled storage.
type Compression int

// Compression schemes.
const (
	CompressionNone Compression = iota
	CompressionLZW
	CompressionDeflate
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZW:
		return "lzw"
	case CompressionDeflate:
		return "deflate"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// ParseCompression parses a compression scheme name as used on the CLI.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "lzw":
		return CompressionLZW, nil
	case "deflate":
		return CompressionDeflate, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression: %s", s)
}

// Window is a rectangular sub-region of a raster's pixel grid, the unit of
// streamed I/O. A window is always fully contained within its owning grid.
type Window struct {
	Row    int // row offset of the top edge
	Col    int // column offset of the left edge
	Height int
	Width  int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Height <= 0 || w.Width <= 0
}

// Intersects reports whether two windows share at least one pixel.
func (w Window) Intersects(o Window) bool {
	return w.Col < o.Col+o.Width && o.Col < w.Col+w.Width &&
		w.Row < o.Row+o.Height && o.Row < w.Row+w.Height
}

func (w Window) String() string {
	return fmt.Sprintf("Window(row=%d, col=%d, %dx%d)", w.Row, w.Col, w.Width, w.Height)
}

// Transform is an affine geotransform mapping pixel coordinates to
// geographic coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For north-up rasters B and D are zero, A is the pixel width and E the
// (negative) pixel height.
type Transform struct {
	A, B, C, D, E, F float64
}

// Scale returns the transform with the pixel size multiplied by f along both
// axes, keeping the origin. This is an approximation of the georeferencing of
// a decimated grid, not an exact reprojection.
func (t Transform) Scale(f int) Transform {
	s := float64(f)
	return Transform{
		A: t.A * s, B: t.B * s, C: t.C,
		D: t.D * s, E: t.E * s, F: t.F,
	}
}

// Apply maps a pixel coordinate to a geographic coordinate.
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// NorthUp reports whether the transform has no rotation terms.
func (t Transform) NorthUp() bool {
	return t.B == 0 && t.D == 0
}

// GeoKeys carries projection metadata opaquely between a source and a
// destination raster. The pipeline never interprets it.
type GeoKeys struct {
	Directory    []uint16
	DoubleParams []float64
	ASCIIParams  string
}

// Profile describes how to create a destination raster.
type Profile struct {
	Width       int
	Height      int
	Transform   Transform
	Bands       int
	DType       DType
	NoData      *float64
	Tiled       bool
	BlockWidth  int
	BlockHeight int
	Compression Compression
	GeoKeys     *GeoKeys
}

// Block is the decoded payload of one window: row-major samples plus an
// optional per-pixel validity mask. A nil Valid slice means every sample is
// valid. Blocks are ephemeral; at most one is alive at a time during a
// pipeline run.
type Block struct {
	Rows, Cols int
	Data       []float64
	Valid      []bool
}

// At returns the sample at (row, col).
func (b *Block) At(row, col int) float64 {
	return b.Data[row*b.Cols+col]
}

// ValidAt reports whether the sample at (row, col) holds a valid measurement.
func (b *Block) ValidAt(row, col int) bool {
	if b.Valid == nil {
		return true
	}
	return b.Valid[row*b.Cols+col]
}

// ValidValues returns the valid samples as a flat slice, in row-major order.
// With no validity mask it returns the data slice itself.
func (b *Block) ValidValues() []float64 {
	if b.Valid == nil {
		return b.Data
	}
	vals := make([]float64, 0, len(b.Data))
	for i, v := range b.Data {
		if b.Valid[i] {
			vals = append(vals, v)
		}
	}
	return vals
}
