// Package mask converts a single-band raster into a binary mask by streaming
// over the source's native block windows. The raster is never materialized in
// full: peak memory stays at one decoded block regardless of total raster
// size. The threshold is inferred once from a single sample block and applied
// per block, optionally decimating each block with nearest-neighbor sampling.
package mask

import (
	"fmt"
	"os"

	"github.com/kiesman99/rastermask/pkg/raster"
)

// DefaultFraction is the threshold fraction used when none is given.
const DefaultFraction = 0.4

// Options contains all conversion parameters.
type Options struct {
	// Fraction is the threshold as a fraction of the inferred scale
	// (0.4 means 40%).
	Fraction float64

	// Downsample is the integer decimation factor for the output grid.
	// Values below 2 disable downsampling.
	Downsample int

	// Compression selects the destination's tile compression scheme.
	Compression raster.Compression
}

// Result reports what a run produced, for observability only.
type Result struct {
	Estimate      ScaleEstimate
	Width, Height int
	BlocksWritten int
}

// SinkFunc opens the destination grid for a given profile. The pipeline calls
// it exactly once, after scale estimation succeeds, so a failed estimate
// never creates an output.
type SinkFunc func(raster.Profile) (raster.Writer, error)

// Run converts src into a binary mask written through open. It estimates the
// native threshold from one sample block, then streams every planned block:
// read, threshold (value >= native threshold becomes 1, everything else
// including no-data becomes 0), write. Any collaborator error aborts the run
// immediately; there are no retries and no state is carried across blocks.
func Run(src raster.Reader, open SinkFunc, opts Options) (*Result, error) {
	if opts.Fraction == 0 {
		opts.Fraction = DefaultFraction
	}

	est, err := Estimate(src, opts.Fraction)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "==Data max: %.2f scale guess: %g native threshold: %.2f\n",
		est.SampledMax, est.Scale, est.Threshold)

	profile := outputProfile(src, opts)
	dst, err := open(profile)
	if err != nil {
		return nil, err
	}

	res := &Result{Estimate: est, Width: profile.Width, Height: profile.Height}
	err = PlanBlocks(src, opts.Downsample, func(p BlockPlan) error {
		var ro *raster.ReadOptions
		if opts.Downsample > 1 {
			ro = &raster.ReadOptions{OutRows: p.OutRows, OutCols: p.OutCols}
		}
		block, err := src.ReadBlock(p.Source, ro)
		if err != nil {
			return fmt.Errorf("reading %v: %w", p.Source, err)
		}
		if err := dst.WriteBlock(p.Dest, threshold(block, est.Threshold)); err != nil {
			return fmt.Errorf("writing %v: %w", p.Dest, err)
		}
		res.BlocksWritten++
		return nil
	})
	if err != nil {
		dst.Close()
		return nil, err
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}
	return res, nil
}

// outputProfile derives the destination profile from the source: single band,
// uint8, no-data 0, tiled and compressed. With downsampling the dimensions
// are floor-divided (minimum 1) and the transform is scaled along both axes,
// which approximates the decimated georeferencing rather than reprojecting.
func outputProfile(src raster.Reader, opts Options) raster.Profile {
	p := src.Profile()
	nodata := 0.0
	p.Bands = 1
	p.DType = raster.UInt8
	p.NoData = &nodata
	p.Tiled = true
	p.BlockWidth = 0 // let the writer pick its native tile size
	p.BlockHeight = 0
	p.Compression = opts.Compression

	if f := opts.Downsample; f > 1 {
		p.Width = max(1, src.Width()/f)
		p.Height = max(1, src.Height()/f)
		p.Transform = src.Transform().Scale(f)
	}
	return p
}

// threshold maps a decoded block to uint8 mask values: 1 where the sample is
// valid and at or above the native threshold, 0 otherwise.
func threshold(b *raster.Block, native float64) []uint8 {
	out := make([]uint8, len(b.Data))
	for i, v := range b.Data {
		if v >= native && (b.Valid == nil || b.Valid[i]) {
			out[i] = 1
		}
	}
	return out
}
