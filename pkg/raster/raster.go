// Package raster defines the grid contract the masking pipeline consumes:
// windows, affine transforms, decoded blocks, and the Reader and Writer
// interfaces a concrete raster backend has to satisfy.
package raster

import "errors"

// ErrStop can be returned from a BlockWindows callback to end the
// enumeration early without surfacing an error to the caller.
var ErrStop = errors.New("stop block enumeration")

// ReadOptions controls a windowed read. A non-zero OutRows/OutCols requests
// the window decimated to that shape with nearest-neighbor sampling; zero
// values request the window at native resolution.
type ReadOptions struct {
	OutRows int
	OutCols int
}

// Reader is a read-only view of an open raster. Only band 1 is consumed by
// the pipeline.
type Reader interface {
	Width() int
	Height() int
	Bands() int
	Transform() Transform

	// Profile returns the creation profile of the raster, used to derive
	// a destination profile that preserves georeferencing metadata.
	Profile() Profile

	// BlockWindows calls fn for each native block window in the reader's
	// enumeration order. The windows tile the grid exactly and without
	// overlap. Returning ErrStop from fn ends the enumeration early with
	// a nil error; any other error aborts it and is returned as-is.
	BlockWindows(fn func(Window) error) error

	// ReadBlock reads band 1 over the given window. Pixels equal to the
	// raster's no-data value come back with Valid=false.
	ReadBlock(w Window, opts *ReadOptions) (*Block, error)
}

// Writer is a windowed sink for a single uint8 band. Each destination pixel
// is written at most once per run.
type Writer interface {
	// WriteBlock writes row-major uint8 samples covering the given window.
	WriteBlock(w Window, data []uint8) error

	// Close flushes buffered tiles and finalizes the output. The output is
	// not readable until Close returns.
	Close() error
}
