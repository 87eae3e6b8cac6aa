package mask

import (
	"fmt"
	"math"
	"sort"

	"github.com/kiesman99/rastermask/pkg/raster"
)

// samplePercentile is the percentile used as a robust upper bound of the
// sampled data range. It tolerates a small fraction of outliers and speckle
// without being dragged by them.
const samplePercentile = 99.9

// ScaleEstimate is the one-shot result of sampling the source: a robust
// maximum, the inferred storage scale, and the threshold expressed in native
// units. It is immutable and threaded explicitly through the pipeline.
type ScaleEstimate struct {
	SampledMax float64
	Scale      float64
	Threshold  float64
}

// scaleBuckets maps a sampled maximum to a storage scale, evaluated in order
// with the first match winning. Fractional quantities are commonly stored as
// 0-1 floats, 0-100 percentages, or 0-10000 fixed-point integers; one block
// is enough to tell those conventions apart for spatially homogeneous layers.
var scaleBuckets = []struct {
	upperBound float64
	scale      float64
}{
	{1.0, 1},
	{110.0, 100},
	{11000.0, 10000},
}

// Estimate reads the first block window of src, derives a robust data maximum
// from its valid pixels, and infers the native threshold for the requested
// fraction. It returns ErrEmptySource when src exposes no block windows.
func Estimate(src raster.Reader, fraction float64) (ScaleEstimate, error) {
	var first raster.Window
	found := false
	err := src.BlockWindows(func(w raster.Window) error {
		first = w
		found = true
		return raster.ErrStop
	})
	if err != nil {
		return ScaleEstimate{}, fmt.Errorf("enumerating block windows: %w", err)
	}
	if !found {
		return ScaleEstimate{}, ErrEmptySource
	}

	block, err := src.ReadBlock(first, nil)
	if err != nil {
		return ScaleEstimate{}, fmt.Errorf("reading sample block: %w", err)
	}

	valid := block.ValidValues()
	vals := make([]float64, 0, len(valid))
	for _, v := range valid {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}

	// No usable sample: fall back to a range of 1.0 so comparison and
	// scaling downstream stay well defined.
	sampledMax := 1.0
	if len(vals) > 0 {
		sampledMax = percentile(vals, samplePercentile)
	}

	scale := 1.0 // out-of-range values are treated as already unscaled
	for _, b := range scaleBuckets {
		if sampledMax <= b.upperBound {
			scale = b.scale
			break
		}
	}

	return ScaleEstimate{
		SampledMax: sampledMax,
		Scale:      scale,
		Threshold:  fraction * scale,
	}, nil
}

// percentile computes the p-th percentile of vals with linear interpolation
// between the two closest ranks. vals must be non-empty; it is not modified.
func percentile(vals []float64, p float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)

	if len(s) == 1 {
		return s[0]
	}
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	if lo >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := rank - float64(lo)
	return s[lo] + frac*(s[lo+1]-s[lo])
}
