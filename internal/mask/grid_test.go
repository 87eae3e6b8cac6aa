package mask

import (
	"fmt"
	"testing"

	"github.com/kiesman99/rastermask/pkg/raster"
)

// memGrid is an in-memory raster.Reader for tests. Values come from a
// function, so a grid can declare huge dimensions without allocating them.
type memGrid struct {
	width, height  int
	blockW, blockH int
	at             func(row, col int) float64
	nodata         *float64

	reads       []raster.Window
	maxReadArea int
}

func newMemGrid(values [][]float64, blockW, blockH int) *memGrid {
	return &memGrid{
		width:  len(values[0]),
		height: len(values),
		blockW: blockW,
		blockH: blockH,
		at:     func(row, col int) float64 { return values[row][col] },
	}
}

func (g *memGrid) Width() int  { return g.width }
func (g *memGrid) Height() int { return g.height }
func (g *memGrid) Bands() int  { return 1 }

func (g *memGrid) Transform() raster.Transform {
	return raster.Transform{A: 10, C: 100, E: -10, F: 200}
}

func (g *memGrid) Profile() raster.Profile {
	return raster.Profile{
		Width:     g.width,
		Height:    g.height,
		Transform: g.Transform(),
		Bands:     1,
		DType:     raster.Float64,
		NoData:    g.nodata,
	}
}

func (g *memGrid) BlockWindows(fn func(raster.Window) error) error {
	for row := 0; row < g.height; row += g.blockH {
		for col := 0; col < g.width; col += g.blockW {
			w := raster.Window{
				Row:    row,
				Col:    col,
				Height: min(g.blockH, g.height-row),
				Width:  min(g.blockW, g.width-col),
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

func (g *memGrid) ReadBlock(w raster.Window, opts *raster.ReadOptions) (*raster.Block, error) {
	g.reads = append(g.reads, w)
	outRows, outCols := w.Height, w.Width
	if opts != nil && opts.OutRows > 0 && opts.OutCols > 0 {
		outRows, outCols = opts.OutRows, opts.OutCols
	}
	if area := outRows * outCols; area > g.maxReadArea {
		g.maxReadArea = area
	}

	b := &raster.Block{Rows: outRows, Cols: outCols, Data: make([]float64, outRows*outCols)}
	if g.nodata != nil {
		b.Valid = make([]bool, len(b.Data))
	}
	for or := 0; or < outRows; or++ {
		srcRow := w.Row + or*w.Height/outRows
		for oc := 0; oc < outCols; oc++ {
			v := g.at(srcRow, w.Col+oc*w.Width/outCols)
			i := or*outCols + oc
			b.Data[i] = v
			if b.Valid != nil {
				b.Valid[i] = v != *g.nodata
			}
		}
	}
	return b, nil
}

// emptyGrid exposes no block windows at all.
type emptyGrid struct{}

func (emptyGrid) Width() int                                { return 0 }
func (emptyGrid) Height() int                               { return 0 }
func (emptyGrid) Bands() int                                { return 1 }
func (emptyGrid) Transform() raster.Transform               { return raster.Transform{} }
func (emptyGrid) Profile() raster.Profile                   { return raster.Profile{} }
func (emptyGrid) BlockWindows(func(raster.Window) error) error { return nil }
func (emptyGrid) ReadBlock(raster.Window, *raster.ReadOptions) (*raster.Block, error) {
	return nil, fmt.Errorf("no blocks to read")
}

// memWriter records windowed writes into a full-size mask buffer and counts
// how often each destination pixel is written.
type memWriter struct {
	width, height int
	mask          []uint8
	writes        []uint8 // per-pixel write count
	windows       []raster.Window
	closed        bool
}

func newMemWriter(p raster.Profile) *memWriter {
	return &memWriter{
		width:  p.Width,
		height: p.Height,
		mask:   make([]uint8, p.Width*p.Height),
		writes: make([]uint8, p.Width*p.Height),
	}
}

func (m *memWriter) WriteBlock(w raster.Window, data []uint8) error {
	if len(data) != w.Height*w.Width {
		return fmt.Errorf("window %v: %d samples", w, len(data))
	}
	m.windows = append(m.windows, w)
	for r := 0; r < w.Height; r++ {
		for c := 0; c < w.Width; c++ {
			i := (w.Row+r)*m.width + w.Col + c
			m.mask[i] = data[r*w.Width+c]
			m.writes[i]++
		}
	}
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

func (m *memWriter) at(row, col int) uint8 { return m.mask[row*m.width+col] }

func (m *memWriter) ones() int {
	n := 0
	for _, v := range m.mask {
		if v == 1 {
			n++
		}
	}
	return n
}

func countBlocks(t *testing.T, g raster.Reader) int {
	t.Helper()
	n := 0
	if err := g.BlockWindows(func(raster.Window) error { n++; return nil }); err != nil {
		t.Fatalf("BlockWindows: %v", err)
	}
	return n
}
