package hierarchy

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// Compact replaces every complete set of siblings by their parent, repeatedly,
// until no complete set remains. Set-valued: nulls and duplicates are dropped,
// cells already covered by an ancestor in the input are dropped, and the
// output is sorted ascending. Mixed resolutions are accepted.
func Compact(cells *cellarray.CellArray, opts ...engine.Option) (*cellarray.CellArray, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	set := distinct(cells)
	unique := set.ToArray()

	// Drop cells that already have an ancestor in the set.
	parts, err := engine.MapChunks(e, len(unique), func(lo, hi int) ([]uint64, error) {
		kept := make([]uint64, 0, hi-lo)
		for _, raw := range unique[lo:hi] {
			covered, err := hasAncestorIn(set, cell.Cell(raw))
			if err != nil {
				return nil, err
			}
			if !covered {
				kept = append(kept, raw)
			}
		}
		return kept, nil
	})
	if err != nil {
		return nil, e.Fail("compact", err)
	}

	var levels [cell.MaxResolution + 1]*roaring64.Bitmap
	for r := range levels {
		levels[r] = roaring64.New()
	}
	for _, part := range parts {
		for _, raw := range part {
			levels[cell.Cell(raw).Resolution()].Add(raw)
		}
	}

	for r := cell.MaxResolution; r > 0; r-- {
		if levels[r].IsEmpty() {
			continue
		}
		counts := make(map[uint64]int)
		var order []uint64
		it := levels[r].Iterator()
		for it.HasNext() {
			p, err := cell.Cell(it.Next()).H3().Parent(r - 1)
			if err != nil {
				return nil, e.Fail("compact", err)
			}
			if counts[uint64(p)] == 0 {
				order = append(order, uint64(p))
			}
			counts[uint64(p)]++
		}

		for _, p := range order {
			parent := cell.Cell(p)
			if counts[p] != siblingCount(parent) {
				continue
			}
			children, err := childrenOf(parent, r)
			if err != nil {
				return nil, e.Fail("compact", err)
			}
			for _, ch := range children {
				levels[r].Remove(ch.Raw())
			}
			levels[r-1].Add(p)
		}
	}

	result := roaring64.New()
	for _, lvl := range levels {
		result.Or(lvl)
	}

	out := fromSorted(e, result.ToArray())
	e.Observe("compact", out.Len(), 0, start)
	return out, nil
}

// Uncompact expands every cell coarser than res to all its descendants at
// res. Cells already at res are kept. A cell finer than res fails the call
// with *cell.ResolutionRangeError. Set-valued: nulls are dropped and the
// output is sorted ascending without duplicates.
func Uncompact(cells *cellarray.CellArray, res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	unique := distinct(cells).ToArray()
	for _, raw := range unique {
		if cr := cell.Cell(raw).Resolution(); cr > res {
			return nil, e.Fail("uncompact", &cell.ResolutionRangeError{Resolution: res, Min: cr, Max: cell.MaxResolution})
		}
	}

	parts, err := engine.MapChunks(e, len(unique), func(lo, hi int) ([]cell.Cell, error) {
		var out []cell.Cell
		for _, raw := range unique[lo:hi] {
			children, err := childrenOf(cell.Cell(raw), res)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
		return out, nil
	})
	if err != nil {
		return nil, e.Fail("uncompact", err)
	}

	result := roaring64.New()
	for _, part := range parts {
		for _, c := range part {
			result.Add(c.Raw())
		}
	}

	out := fromSorted(e, result.ToArray())
	e.Observe("uncompact", out.Len(), 0, start)
	return out, nil
}

// siblingCount is the number of children a parent has one resolution down.
func siblingCount(parent cell.Cell) int {
	if parent.IsPentagon() {
		return 6
	}
	return 7
}

func hasAncestorIn(set *roaring64.Bitmap, c cell.Cell) (bool, error) {
	for r := 0; r < c.Resolution(); r++ {
		p, err := c.H3().Parent(r)
		if err != nil {
			return false, err
		}
		if set.Contains(uint64(p)) {
			return true, nil
		}
	}
	return false, nil
}

func distinct(cells *cellarray.CellArray) *roaring64.Bitmap {
	set := roaring64.New()
	for _, slot := range cells.All() {
		if slot.Valid {
			set.Add(slot.Cell.Raw())
		}
	}
	return set
}

func fromSorted(e *engine.Executor, raws []uint64) *cellarray.CellArray {
	w := cellarray.NewWriter(e.Allocator(), len(raws))
	for i, raw := range raws {
		w.Set(i, cell.Cell(raw))
	}
	return w.Finish()
}
