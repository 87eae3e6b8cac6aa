package mask

import (
	"errors"
	"math"
	"testing"
)

func uniformGrid(v float64) *memGrid {
	return newMemGrid([][]float64{{v, v}, {v, v}}, 2, 2)
}

func TestScaleBucketBoundaries(t *testing.T) {
	tests := []struct {
		sampledMax float64
		wantScale  float64
	}{
		{1.0, 1},
		{1.000001, 100},
		{110.0, 100},
		{110.000001, 10000},
		{11000.0, 10000},
		{11000.000001, 1},
		{50000, 1},
	}

	for _, tt := range tests {
		est, err := Estimate(uniformGrid(tt.sampledMax), 0.4)
		if err != nil {
			t.Fatalf("Estimate(%g): %v", tt.sampledMax, err)
		}
		if est.SampledMax != tt.sampledMax {
			t.Errorf("sampled max = %g, want %g", est.SampledMax, tt.sampledMax)
		}
		if est.Scale != tt.wantScale {
			t.Errorf("scale for sampled max %g = %g, want %g", tt.sampledMax, est.Scale, tt.wantScale)
		}
		if want := 0.4 * tt.wantScale; est.Threshold != want {
			t.Errorf("threshold for sampled max %g = %g, want %g", tt.sampledMax, est.Threshold, want)
		}
	}
}

func TestEstimateEmptySource(t *testing.T) {
	_, err := Estimate(emptyGrid{}, 0.4)
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("Estimate on empty source = %v, want ErrEmptySource", err)
	}
}

func TestEstimateAllInvalidSample(t *testing.T) {
	nodata := -9999.0
	g := newMemGrid([][]float64{{nodata, nodata}, {nodata, nodata}}, 2, 2)
	g.nodata = &nodata

	est, err := Estimate(g, 0.4)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.SampledMax != 1.0 {
		t.Errorf("sampled max with no valid pixels = %g, want 1.0", est.SampledMax)
	}
	if est.Scale != 1 {
		t.Errorf("scale = %g, want 1", est.Scale)
	}
	if est.Threshold != 0.4 {
		t.Errorf("threshold = %g, want 0.4", est.Threshold)
	}
}

func TestEstimateIgnoresNaN(t *testing.T) {
	nan := math.NaN()
	g := newMemGrid([][]float64{{nan, nan}, {nan, 80}}, 2, 2)

	est, err := Estimate(g, 0.4)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.SampledMax != 80 {
		t.Errorf("sampled max = %g, want 80", est.SampledMax)
	}
	if est.Scale != 100 {
		t.Errorf("scale = %g, want 100", est.Scale)
	}
}

func TestEstimateSamplesFirstBlockOnly(t *testing.T) {
	// Second block holds huge values; only the first block may be read.
	g := newMemGrid([][]float64{
		{0.5, 0.5, 50000, 50000},
		{0.5, 0.5, 50000, 50000},
	}, 2, 2)

	est, err := Estimate(g, 0.4)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if len(g.reads) != 1 {
		t.Fatalf("estimate read %d blocks, want 1", len(g.reads))
	}
	if got := g.reads[0]; got.Row != 0 || got.Col != 0 {
		t.Errorf("estimate read %v, want the first block", got)
	}
	if est.Scale != 1 {
		t.Errorf("scale = %g, want 1", est.Scale)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		vals []float64
		p    float64
		want float64
	}{
		{[]float64{5}, 99.9, 5},
		{[]float64{1, 2, 3, 4}, 50, 2.5},
		{[]float64{1, 2, 3, 4}, 100, 4},
		{[]float64{1, 2, 3, 4}, 0, 1},
		{[]float64{10, 0}, 99.9, 9.99},
	}

	for _, tt := range tests {
		got := percentile(tt.vals, tt.p)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v, %g) = %g, want %g", tt.vals, tt.p, got, tt.want)
		}
	}
}
