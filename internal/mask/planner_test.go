package mask

import (
	"testing"

	"github.com/kiesman99/rastermask/pkg/raster"
)

func constGrid(w, h, blockW, blockH int) *memGrid {
	return &memGrid{
		width: w, height: h,
		blockW: blockW, blockH: blockH,
		at: func(int, int) float64 { return 1 },
	}
}

func collectPlans(t *testing.T, g raster.Reader, factor int) []BlockPlan {
	t.Helper()
	var plans []BlockPlan
	if err := PlanBlocks(g, factor, func(p BlockPlan) error {
		plans = append(plans, p)
		return nil
	}); err != nil {
		t.Fatalf("PlanBlocks: %v", err)
	}
	return plans
}

func TestPlanBlocksIdentity(t *testing.T) {
	g := constGrid(10, 10, 4, 4)
	plans := collectPlans(t, g, 0)

	if want := countBlocks(t, g); len(plans) != want {
		t.Fatalf("got %d plans, want %d", len(plans), want)
	}
	for _, p := range plans {
		if p.Dest != p.Source {
			t.Errorf("dest %v != source %v", p.Dest, p.Source)
		}
		if p.OutRows != p.Source.Height || p.OutCols != p.Source.Width {
			t.Errorf("target shape %dx%d, want %dx%d", p.OutRows, p.OutCols, p.Source.Height, p.Source.Width)
		}
	}
}

func TestPlanBlocksIdentityTilesExactly(t *testing.T) {
	g := constGrid(10, 6, 4, 4)
	covered := make([]int, 10*6)
	for _, p := range collectPlans(t, g, 1) {
		for r := 0; r < p.Dest.Height; r++ {
			for c := 0; c < p.Dest.Width; c++ {
				covered[(p.Dest.Row+r)*10+p.Dest.Col+c]++
			}
		}
	}
	for i, n := range covered {
		if n != 1 {
			t.Fatalf("pixel %d covered %d times, want exactly once", i, n)
		}
	}
}

func TestPlanBlocksDownsample(t *testing.T) {
	g := constGrid(8, 8, 4, 4)
	plans := collectPlans(t, g, 2)

	if len(plans) != 4 {
		t.Fatalf("got %d plans, want 4", len(plans))
	}
	want := []raster.Window{
		{Row: 0, Col: 0, Height: 2, Width: 2},
		{Row: 0, Col: 2, Height: 2, Width: 2},
		{Row: 2, Col: 0, Height: 2, Width: 2},
		{Row: 2, Col: 2, Height: 2, Width: 2},
	}
	for i, p := range plans {
		if p.Dest != want[i] {
			t.Errorf("plan %d dest = %v, want %v", i, p.Dest, want[i])
		}
		if p.OutRows != 2 || p.OutCols != 2 {
			t.Errorf("plan %d target shape = %dx%d, want 2x2", i, p.OutRows, p.OutCols)
		}
		if p.Source.Height != 4 || p.Source.Width != 4 {
			t.Errorf("plan %d source = %v, want full-resolution block", i, p.Source)
		}
	}
}

func TestPlanBlocksSkipsDegenerateBlocks(t *testing.T) {
	// 10x10 grid with 4x4 blocks and factor 4: the 2-pixel remainder blocks
	// decimate to a zero dimension and are dropped entirely.
	g := constGrid(10, 10, 4, 4)
	plans := collectPlans(t, g, 4)

	if len(plans) != 4 {
		t.Fatalf("got %d plans, want 4 (remainder blocks skipped)", len(plans))
	}
	for _, p := range plans {
		if p.Source.Height != 4 || p.Source.Width != 4 {
			t.Errorf("kept plan for remainder block %v", p.Source)
		}
		if p.OutRows != 1 || p.OutCols != 1 {
			t.Errorf("target shape = %dx%d, want 1x1", p.OutRows, p.OutCols)
		}
	}
}

func TestPlanBlocksDestWindowsNeverOverlap(t *testing.T) {
	for _, factor := range []int{0, 1, 2, 3, 4} {
		g := constGrid(23, 17, 5, 4)
		plans := collectPlans(t, g, factor)
		for i := range plans {
			for j := i + 1; j < len(plans); j++ {
				if plans[i].Dest.Intersects(plans[j].Dest) {
					t.Fatalf("factor %d: dest %v overlaps %v", factor, plans[i].Dest, plans[j].Dest)
				}
			}
		}
	}
}
