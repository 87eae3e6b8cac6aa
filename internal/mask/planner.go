package mask

import "github.com/kiesman99/rastermask/pkg/raster"

// BlockPlan describes one step of the streamed conversion: the source window
// to read, the shape the read should produce, and the destination window the
// resulting mask covers.
type BlockPlan struct {
	Source  raster.Window
	OutRows int
	OutCols int
	Dest    raster.Window
}

// PlanBlocks calls fn with one BlockPlan per source block, in the source's
// enumeration order. Plans are produced lazily in a single pass; only one is
// in flight at a time.
//
// With factor <= 1 every plan is an identity mapping. With factor > 1 the
// target shape is the block shape floor-divided by factor and the destination
// window is the block offset floor-divided by factor. Blocks whose decimated
// shape has a zero dimension are dropped entirely, leaving a gap in output
// coverage; callers must not pad or round up, since that would change the
// output geometry.
func PlanBlocks(src raster.Reader, factor int, fn func(BlockPlan) error) error {
	return src.BlockWindows(func(w raster.Window) error {
		if factor <= 1 {
			return fn(BlockPlan{
				Source:  w,
				OutRows: w.Height,
				OutCols: w.Width,
				Dest:    w,
			})
		}

		rows := w.Height / factor
		cols := w.Width / factor
		if rows <= 0 || cols <= 0 {
			return nil
		}
		return fn(BlockPlan{
			Source:  w,
			OutRows: rows,
			OutCols: cols,
			Dest: raster.Window{
				Row:    w.Row / factor,
				Col:    w.Col / factor,
				Height: rows,
				Width:  cols,
			},
		})
	})
}
