package raster

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/uber/h3-go/v4"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/features"
	"github.com/VanDung-dev/H3Arrow-Engine/hierarchy"
)

// hit records that pixel idx (row-major) falls into cell c.
type hit struct {
	c   cell.Cell
	idx int
}

// pixelCells maps every data pixel center to its cell at res. Rows are
// chunked; the returned parts are in row order, so concatenating them yields
// hits in row-major pixel order whatever the worker count.
func pixelCells[V any](e *engine.Executor, grid Grid[V], gt GeoTransform, res int) ([][]hit, error) {
	return engine.MapChunks(e, grid.Rows, func(lo, hi int) ([]hit, error) {
		hits := make([]hit, 0, (hi-lo)*grid.Cols)
		for row := lo; row < hi; row++ {
			for col := 0; col < grid.Cols; col++ {
				idx := row*grid.Cols + col
				if !grid.Valid(idx) {
					continue
				}
				x, y := gt.PixelCenter(row, col)
				if y < -90 || y > 90 || x < -180 || x > 180 {
					continue
				}
				c, err := h3.LatLngToCell(h3.LatLng{Lat: y, Lng: x}, res)
				if err != nil {
					continue
				}
				hits = append(hits, hit{c: cell.FromH3(c), idx: idx})
			}
		}
		return hits, nil
	})
}

func prepare[V any](grid Grid[V], res int) error {
	if err := features.Require(features.Raster); err != nil {
		return err
	}
	if err := cell.CheckResolution(res); err != nil {
		return err
	}
	return grid.check()
}

// Rasterize assigns every pixel to the cell at res containing its center and
// reduces the values of each cell with reduce. Nodata pixels are skipped.
// The values handed to reduce are in row-major pixel order, so the result
// does not depend on how rows were partitioned across workers.
func Rasterize[V any](grid Grid[V], gt GeoTransform, res int, reduce Reducer[V], opts ...engine.Option) (map[cell.Cell]V, error) {
	if err := prepare(grid, res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	parts, err := pixelCells(e, grid, gt, res)
	if err != nil {
		return nil, e.Fail("rasterize", err)
	}

	groups := make(map[cell.Cell][]V)
	for _, part := range parts {
		for _, h := range part {
			groups[h.c] = append(groups[h.c], grid.Values[h.idx])
		}
	}

	out := make(map[cell.Cell]V, len(groups))
	for c, values := range groups {
		out[c] = reduce(values)
	}
	e.Observe("rasterize", grid.Len(), 0, start)
	return out, nil
}

// RasterizeToArrow is Rasterize returning parallel cell and value arrays
// sorted by cell.
func RasterizeToArrow(grid Grid[float64], gt GeoTransform, res int, reduce Reducer[float64], opts ...engine.Option) (*cellarray.CellArray, *array.Float64, error) {
	byCell, err := Rasterize(grid, gt, res, reduce, opts...)
	if err != nil {
		return nil, nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	keys := make([]cell.Cell, 0, len(byCell))
	for c := range byCell {
		keys = append(keys, c)
	}
	slices.Sort(keys)

	values := make([]float64, len(keys))
	for i, c := range keys {
		values[i] = byCell[c]
	}

	b := array.NewFloat64Builder(e.Allocator())
	defer b.Release()
	b.AppendValues(values, nil)
	return cellarray.FromCells(e.Allocator(), keys), b.NewFloat64Array(), nil
}

// RasterizeGrouped collects, for every distinct pixel value, the cells at res
// that contain a pixel center with that value. Groups are sorted; with
// compact set they are compacted. A cell can appear in several groups.
func RasterizeGrouped[V comparable](grid Grid[V], gt GeoTransform, res int, compact bool, opts ...engine.Option) (map[V]*cellarray.CellArray, error) {
	if err := prepare(grid, res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	parts, err := pixelCells(e, grid, gt, res)
	if err != nil {
		return nil, e.Fail("rasterize_grouped", err)
	}

	sets := make(map[V]*roaring64.Bitmap)
	for _, part := range parts {
		for _, h := range part {
			v := grid.Values[h.idx]
			set, ok := sets[v]
			if !ok {
				set = roaring64.New()
				sets[v] = set
			}
			set.Add(h.c.Raw())
		}
	}

	out := make(map[V]*cellarray.CellArray, len(sets))
	release := func() {
		for _, arr := range out {
			arr.Release()
		}
	}
	for v, set := range sets {
		raws := set.ToArray()
		w := cellarray.NewWriter(e.Allocator(), len(raws))
		for i, raw := range raws {
			w.Set(i, cell.Cell(raw))
		}
		arr := w.Finish()
		if compact {
			compacted, err := hierarchy.Compact(arr, engine.WithExecutor(e))
			arr.Release()
			if err != nil {
				release()
				return nil, e.Fail("rasterize_grouped", fmt.Errorf("compact group %v: %w", v, err))
			}
			arr = compacted
		}
		out[v] = arr
	}
	e.Observe("rasterize_grouped", grid.Len(), 0, start)
	return out, nil
}

// SampleCellCenters covers the raster extent with cells at res and gives each
// cell the value of the pixel under its center. It suits resolutions finer
// than the pixel size, where pixel-center assignment leaves cells empty.
// Cells whose center pixel is nodata or outside the grid are omitted.
func SampleCellCenters[V any](grid Grid[V], gt GeoTransform, res int, opts ...engine.Option) (map[cell.Cell]V, error) {
	if err := prepare(grid, res); err != nil {
		return nil, err
	}
	inv, err := gt.Invert()
	if err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	candidates, err := extentCells(grid, gt, res)
	if err != nil {
		return nil, e.Fail("sample_cell_centers", err)
	}

	type sample struct {
		c cell.Cell
		v V
	}
	parts, err := engine.MapChunks(e, len(candidates), func(lo, hi int) ([]sample, error) {
		var out []sample
		for _, c := range candidates[lo:hi] {
			ll, err := c.LatLng()
			if err != nil {
				return nil, err
			}
			row, col := inv.Pixel(ll.Lng, ll.Lat)
			if row < 0 || row >= grid.Rows || col < 0 || col >= grid.Cols {
				continue
			}
			idx := row*grid.Cols + col
			if !grid.Valid(idx) {
				continue
			}
			out = append(out, sample{c: cell.FromH3(c), v: grid.Values[idx]})
		}
		return out, nil
	})
	if err != nil {
		return nil, e.Fail("sample_cell_centers", err)
	}

	out := make(map[cell.Cell]V)
	for _, part := range parts {
		for _, s := range part {
			out[s.c] = s.v
		}
	}
	e.Observe("sample_cell_centers", len(candidates), 0, start)
	return out, nil
}

// extentCells returns the cells at res whose centers lie inside the raster
// footprint, sorted by value.
func extentCells[V any](grid Grid[V], gt GeoTransform, res int) ([]h3.Cell, error) {
	corners := [][2]float64{
		{0, 0},
		{0, float64(grid.Cols)},
		{float64(grid.Rows), float64(grid.Cols)},
		{float64(grid.Rows), 0},
	}
	loop := make(h3.GeoLoop, 0, len(corners))
	for _, rc := range corners {
		x, y := gt.Apply(rc[0], rc[1])
		loop = append(loop, h3.LatLng{Lat: clamp(y, -90, 90), Lng: clamp(x, -180, 180)})
	}

	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, fmt.Errorf("raster extent: %w", err)
	}
	slices.SortFunc(cells, func(a, b h3.Cell) int { return cmp.Compare(a, b) })
	return cells, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
