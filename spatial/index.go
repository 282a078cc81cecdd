package spatial

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/features"
	"github.com/VanDung-dev/H3Arrow-Engine/geometry"
)

// R-tree node fan-out.
const (
	minChildren = 25
	maxChildren = 50
)

// entry is the footprint of one cell. Cells crossing the antimeridian
// contribute one entry per side.
type entry struct {
	geom.Polygonal
	pos int
}

// Index is an R-tree over the bounding boxes of a CellArray's cells. It
// answers with positions into that array. Null slots are not indexed.
//
// The index keeps its own reference to the array it was built from. When
// built from a Column it also remembers the column generation and fails
// with *cell.StaleIndexError once the column has been replaced.
type Index struct {
	tree    *rtree.Rtree
	cells   *cellarray.CellArray
	centers []orb.Point
	count   int
	span    float64

	col *cellarray.Column
	gen uint64
}

// Build indexes cells.
func Build(cells *cellarray.CellArray, opts ...engine.Option) (*Index, error) {
	if err := features.Require(features.SpatialIndex); err != nil {
		return nil, err
	}
	cells.Retain()
	ix, err := build(cells, opts...)
	if err != nil {
		cells.Release()
		return nil, err
	}
	return ix, nil
}

// BuildColumn indexes the current contents of col.
func BuildColumn(col *cellarray.Column, opts ...engine.Option) (*Index, error) {
	if err := features.Require(features.SpatialIndex); err != nil {
		return nil, err
	}
	cells, gen := col.Snapshot()
	ix, err := build(cells, opts...)
	if err != nil {
		cells.Release()
		return nil, err
	}
	ix.col = col
	ix.gen = gen
	return ix, nil
}

func build(cells *cellarray.CellArray, opts ...engine.Option) (*Index, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	centers := make([]orb.Point, cells.Len())
	parts, err := engine.MapChunks(e, cells.Len(), func(lo, hi int) ([]*entry, error) {
		var out []*entry
		for i := lo; i < hi; i++ {
			c, ok := cells.Value(i)
			if !ok {
				continue
			}
			lng, lat, err := geometry.Center(c)
			if err != nil {
				return nil, err
			}
			centers[i] = orb.Point{lng, lat}

			g, err := geometry.Boundary(c, geometry.BoundaryOptions{SplitAntimeridian: true})
			if err != nil {
				return nil, err
			}
			for _, poly := range g.(orb.MultiPolygon) {
				out = append(out, &entry{Polygonal: toPolygon(poly), pos: i})
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, e.Fail("spatial_build", err)
	}

	ix := &Index{
		tree:    rtree.NewTree(minChildren, maxChildren),
		cells:   cells,
		centers: centers,
		count:   cells.Len() - cells.NullCount(),
	}
	for _, part := range parts {
		for _, en := range part {
			ix.tree.Insert(en)
			b := en.Bounds()
			w := b.Max.X - b.Min.X
			h := b.Max.Y - b.Min.Y
			ix.span = max(ix.span, w, h)
		}
	}
	e.Observe("spatial_build", cells.Len(), cells.NullCount(), start)
	return ix, nil
}

func toPolygon(poly orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, len(poly))
	for i, ring := range poly {
		path := make(geom.Path, len(ring))
		for j, p := range ring {
			path[j] = geom.Point{X: p[0], Y: p[1]}
		}
		out[i] = path
	}
	return out
}

func toBounds(b orb.Bound) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.Min[0], Y: b.Min[1]},
		Max: geom.Point{X: b.Max[0], Y: b.Max[1]},
	}
}

// Len returns the number of indexed (non-null) cells.
func (ix *Index) Len() int {
	return ix.count
}

// Cells returns the indexed array with an extra reference.
func (ix *Index) Cells() *cellarray.CellArray {
	ix.cells.Retain()
	return ix.cells
}

// Release drops the index's reference to its cells.
func (ix *Index) Release() {
	if ix.cells != nil {
		ix.cells.Release()
		ix.cells = nil
	}
}

func (ix *Index) check() error {
	if ix.col == nil {
		return nil
	}
	if cur := ix.col.Generation(); cur != ix.gen {
		return &cell.StaleIndexError{Built: ix.gen, Current: cur}
	}
	return nil
}

func (ix *Index) search(b *geom.Bounds) []int {
	hits := ix.tree.SearchIntersect(b)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*entry).pos)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// QueryEnvelope returns, in ascending order, the positions of cells whose
// bounding box intersects b.
func (ix *Index) QueryEnvelope(b orb.Bound) ([]int, error) {
	if err := ix.check(); err != nil {
		return nil, err
	}
	return ix.search(toBounds(b)), nil
}

// Nearest returns the positions of the k cells whose centers are closest to
// p, nearest first. Distance is planar, in degrees; equal distances are
// ordered by position.
func (ix *Index) Nearest(p orb.Point, k int) ([]int, error) {
	if err := ix.check(); err != nil {
		return nil, err
	}
	if k <= 0 || ix.count == 0 {
		return nil, nil
	}
	k = min(k, ix.count)

	type candidate struct {
		pos  int
		dist float64
	}

	// Every cell whose center lies within radius of p has a box that
	// intersects the window, so once the k-th candidate is within radius
	// the answer is exact.
	radius := max(ix.span, 1e-9)
	for {
		window := &geom.Bounds{
			Min: geom.Point{X: p[0] - radius, Y: p[1] - radius},
			Max: geom.Point{X: p[0] + radius, Y: p[1] + radius},
		}
		positions := ix.search(window)
		cands := make([]candidate, len(positions))
		for i, pos := range positions {
			cands[i] = candidate{pos: pos, dist: planar.Distance(p, ix.centers[pos])}
		}
		slices.SortFunc(cands, func(a, b candidate) int {
			if c := cmp.Compare(a.dist, b.dist); c != 0 {
				return c
			}
			return cmp.Compare(a.pos, b.pos)
		})

		if len(cands) >= k && cands[k-1].dist <= radius || radius > 720 {
			n := min(k, len(cands))
			out := make([]int, n)
			for i := range out {
				out[i] = cands[i].pos
			}
			return out, nil
		}
		radius *= 2
	}
}

func (ix *Index) String() string {
	return fmt.Sprintf("spatial.Index{cells: %d}", ix.count)
}
