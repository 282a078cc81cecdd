package grid

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

var (
	// ErrNegativeK is returned for a negative ring distance.
	ErrNegativeK = errors.New("k must not be negative")
	// ErrInvalidRange is returned when kMin is not smaller than kMax.
	ErrInvalidRange = errors.New("kMin must be smaller than kMax")
)

// Aggregation selects how GridDiskAggregateK combines the distances of a cell
// reached from several origins.
type Aggregation int

const (
	AggregateMin Aggregation = iota
	AggregateMax
)

func (a Aggregation) String() string {
	switch a {
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return fmt.Sprintf("Aggregation(%d)", int(a))
	}
}

// GridDisk returns, per slot, every cell within k steps of the origin,
// origin included. Null origins give null groups. Order preserving.
func GridDisk(cells *cellarray.CellArray, k int, opts ...engine.Option) (*cellarray.List, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeK, k)
	}
	return cellarray.MapList("grid_disk", cells, func(c cell.Cell) ([]cell.Cell, bool, error) {
		disk, err := c.H3().GridDisk(k)
		if err != nil {
			return nil, false, err
		}
		out := make([]cell.Cell, len(disk))
		for i, d := range disk {
			out[i] = cell.FromH3(d)
		}
		return out, true, nil
	}, opts...)
}

// GridDiskDistances is GridDisk with the distance of every returned cell.
// The distances array is aligned with the list's flattened values.
func GridDiskDistances(cells *cellarray.CellArray, k int, opts ...engine.Option) (*cellarray.List, *array.Uint32, error) {
	if k < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNegativeK, k)
	}
	return ringDistances("grid_disk_distances", cells, 0, k, opts...)
}

// GridRingDistances returns the cells at distance kMin through kMax of each
// origin, with their distances.
func GridRingDistances(cells *cellarray.CellArray, kMin, kMax int, opts ...engine.Option) (*cellarray.List, *array.Uint32, error) {
	if kMin < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNegativeK, kMin)
	}
	if kMin >= kMax {
		return nil, nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, kMin, kMax)
	}
	return ringDistances("grid_ring_distances", cells, kMin, kMax, opts...)
}

type distancePart struct {
	list  cellarray.ListPart
	dists []uint32
}

func ringDistances(kernel string, cells *cellarray.CellArray, kMin, kMax int, opts ...engine.Option) (*cellarray.List, *array.Uint32, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	parts, err := engine.MapChunks(e, cells.Len(), func(lo, hi int) (distancePart, error) {
		part := distancePart{list: cellarray.ListPart{
			Groups: make([][]cell.Cell, hi-lo),
			Valid:  make([]bool, hi-lo),
		}}
		for i := lo; i < hi; i++ {
			c, ok := cells.Value(i)
			if !ok {
				continue
			}
			rings, err := c.H3().GridDiskDistances(kMax)
			if err != nil {
				return distancePart{}, fmt.Errorf("position %d: %w", i, err)
			}
			var group []cell.Cell
			for d := kMin; d < len(rings); d++ {
				for _, rc := range rings[d] {
					group = append(group, cell.FromH3(rc))
					part.dists = append(part.dists, uint32(d))
				}
			}
			part.list.Groups[i-lo] = group
			part.list.Valid[i-lo] = true
		}
		return part, nil
	})
	if err != nil {
		return nil, nil, e.Fail(kernel, err)
	}

	listParts := make([]cellarray.ListPart, len(parts))
	var dists []uint32
	for i, p := range parts {
		listParts[i] = p.list
		dists = append(dists, p.dists...)
	}
	out := cellarray.AssembleList(e.Allocator(), listParts)

	b := array.NewUint32Builder(e.Allocator())
	defer b.Release()
	b.AppendValues(dists, nil)

	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, b.NewUint32Array(), nil
}

// GridDiskAggregateK collects every cell within k of any origin, with the
// smallest or largest distance at which it was reached. Set-valued: the
// output is sorted by cell.
func GridDiskAggregateK(cells *cellarray.CellArray, k int, agg Aggregation, opts ...engine.Option) (*cellarray.CellArray, *array.Uint32, error) {
	if k < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNegativeK, k)
	}

	disks, dists, err := GridDiskDistances(cells, k, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer disks.Release()
	defer dists.Release()

	best := make(map[cell.Cell]uint32)
	for i, v := range dists.Values() {
		c, _ := disks.Values.Value(i)
		cur, seen := best[c]
		switch {
		case !seen:
			best[c] = v
		case agg == AggregateMin && v < cur:
			best[c] = v
		case agg == AggregateMax && v > cur:
			best[c] = v
		}
	}

	keys := make([]cell.Cell, 0, len(best))
	for c := range best {
		keys = append(keys, c)
	}
	slices.Sort(keys)
	values := make([]uint32, len(keys))
	for i, c := range keys {
		values[i] = best[c]
	}

	e, done := engine.Resolve(opts...)
	defer done()
	b := array.NewUint32Builder(e.Allocator())
	defer b.Release()
	b.AppendValues(values, nil)
	return cellarray.FromCells(e.Allocator(), keys), b.NewUint32Array(), nil
}
