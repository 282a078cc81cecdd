package raster

import (
	"fmt"
	"slices"
	"time"

	"github.com/uber/h3-go/v4"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/features"
)

// Cellize is the inverse of Rasterize: it burns values[i] into every pixel
// of a rows x cols grid whose center lies in the footprint of cells[i].
// Cells finer than res are coarsened to res first. Pixels covered by no cell
// are flagged in the returned grid's Mask.
//
// Two cells covering the same area with different values fail the call with
// *cell.AmbiguityError, whether they are equal or one contains the other.
func Cellize[V comparable](cells *cellarray.CellArray, values []V, res int, gt GeoTransform, rows, cols int, opts ...engine.Option) (Grid[V], error) {
	if err := features.Require(features.Raster); err != nil {
		return Grid[V]{}, err
	}
	if err := cell.CheckResolution(res); err != nil {
		return Grid[V]{}, err
	}
	if len(values) != cells.Len() {
		return Grid[V]{}, fmt.Errorf("%w: %d cells, %d values", ErrShapeMismatch, cells.Len(), len(values))
	}
	if rows < 0 || cols < 0 {
		return Grid[V]{}, fmt.Errorf("%w: negative dimensions %dx%d", ErrShapeMismatch, rows, cols)
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	levels, err := buildLevels(cells, values, res)
	if err != nil {
		return Grid[V]{}, e.Fail("cellize", err)
	}

	var present []int
	for r := range levels {
		if levels[r] != nil {
			present = append(present, r)
		}
	}

	out := NewGrid[V](rows, cols)
	out.Mask = make([]bool, rows*cols)
	err = e.ForEachChunk(rows, func(lo, hi int) error {
		for row := lo; row < hi; row++ {
			for col := 0; col < cols; col++ {
				idx := row*cols + col
				out.Mask[idx] = true

				x, y := gt.PixelCenter(row, col)
				if y < -90 || y > 90 || x < -180 || x > 180 {
					continue
				}
				for _, r := range present {
					hc, err := h3.LatLngToCell(h3.LatLng{Lat: y, Lng: x}, r)
					if err != nil {
						break
					}
					if v, ok := levels[r][cell.FromH3(hc)]; ok {
						out.Values[idx] = v
						out.Mask[idx] = false
						break
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return Grid[V]{}, e.Fail("cellize", err)
	}

	e.Observe("cellize", rows*cols, 0, start)
	return out, nil
}

// buildLevels groups the cells by resolution and rejects conflicting values
// for the same cell or for a cell and one of its ancestors.
func buildLevels[V comparable](cells *cellarray.CellArray, values []V, res int) ([cell.MaxResolution + 1]map[cell.Cell]V, error) {
	var levels [cell.MaxResolution + 1]map[cell.Cell]V

	for i, slot := range cells.All() {
		if !slot.Valid {
			continue
		}
		c := slot.Cell
		if c.Resolution() > res {
			p, err := c.H3().Parent(res)
			if err != nil {
				return levels, err
			}
			c = cell.FromH3(p)
		}
		r := c.Resolution()
		if levels[r] == nil {
			levels[r] = make(map[cell.Cell]V)
		}
		if existing, ok := levels[r][c]; ok && existing != values[i] {
			return levels, &cell.AmbiguityError{
				Cell:        c,
				Existing:    fmt.Sprint(existing),
				Conflicting: fmt.Sprint(values[i]),
			}
		}
		levels[r][c] = values[i]
	}

	for r := range levels {
		if levels[r] == nil {
			continue
		}
		keys := make([]cell.Cell, 0, len(levels[r]))
		for c := range levels[r] {
			keys = append(keys, c)
		}
		slices.Sort(keys)
		for _, c := range keys {
			v := levels[r][c]
			for ar := 0; ar < r; ar++ {
				if levels[ar] == nil {
					continue
				}
				p, err := c.H3().Parent(ar)
				if err != nil {
					return levels, err
				}
				if pv, ok := levels[ar][cell.FromH3(p)]; ok && pv != v {
					return levels, &cell.AmbiguityError{
						Cell:        c,
						Other:       cell.FromH3(p),
						Existing:    fmt.Sprint(pv),
						Conflicting: fmt.Sprint(v),
					}
				}
			}
		}
	}
	return levels, nil
}
