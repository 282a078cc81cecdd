package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when values do not match the declared grid shape.
var ErrShapeMismatch = errors.New("shape mismatch")

// Grid is a row-major 2D raster. Mask, when set, marks nodata pixels with true.
type Grid[V any] struct {
	Rows   int
	Cols   int
	Values []V
	Mask   []bool
}

// NewGrid allocates a zeroed rows x cols grid.
func NewGrid[V any](rows, cols int) Grid[V] {
	return Grid[V]{Rows: rows, Cols: cols, Values: make([]V, rows*cols)}
}

// GridFromValues wraps row-major values without copying.
func GridFromValues[V any](rows, cols int, values []V) (Grid[V], error) {
	g := Grid[V]{Rows: rows, Cols: cols, Values: values}
	return g, g.check()
}

func (g Grid[V]) check() error {
	if g.Rows < 0 || g.Cols < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrShapeMismatch, g.Rows, g.Cols)
	}
	if len(g.Values) != g.Rows*g.Cols {
		return fmt.Errorf("%w: %dx%d grid with %d values", ErrShapeMismatch, g.Rows, g.Cols, len(g.Values))
	}
	if g.Mask != nil && len(g.Mask) != len(g.Values) {
		return fmt.Errorf("%w: mask has %d entries for %d values", ErrShapeMismatch, len(g.Mask), len(g.Values))
	}
	return nil
}

// Len returns the number of pixels.
func (g Grid[V]) Len() int {
	return len(g.Values)
}

// At returns the value of pixel (row, col).
func (g Grid[V]) At(row, col int) V {
	return g.Values[row*g.Cols+col]
}

// Set stores v at pixel (row, col) and clears its nodata flag.
func (g Grid[V]) Set(row, col int, v V) {
	i := row*g.Cols + col
	g.Values[i] = v
	if g.Mask != nil {
		g.Mask[i] = false
	}
}

// Valid reports whether pixel i (row-major) holds data.
func (g Grid[V]) Valid(i int) bool {
	return g.Mask == nil || !g.Mask[i]
}

// MaskValue returns a copy of g's header whose mask flags every pixel equal
// to nodata. The value slice is shared.
func MaskValue[V comparable](g Grid[V], nodata V) Grid[V] {
	mask := make([]bool, len(g.Values))
	for i, v := range g.Values {
		mask[i] = v == nodata || (g.Mask != nil && g.Mask[i])
	}
	g.Mask = mask
	return g
}

// MaskNaN flags every NaN pixel as nodata.
func MaskNaN(g Grid[float64]) Grid[float64] {
	mask := make([]bool, len(g.Values))
	for i, v := range g.Values {
		mask[i] = math.IsNaN(v) || (g.Mask != nil && g.Mask[i])
	}
	g.Mask = mask
	return g
}
