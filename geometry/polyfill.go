package geometry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/uber/h3-go/v4"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// ErrUnsupportedGeometry is returned for geometry types that cannot be
// covered with cells.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// Containment decides which cells cover a polygon.
type Containment int

const (
	// ContainmentCenter includes a cell iff its center lies inside the polygon.
	ContainmentCenter Containment = iota
	// ContainmentOverlap includes a cell iff its footprint intersects the polygon.
	ContainmentOverlap
	// ContainmentFull includes a cell iff its footprint lies entirely inside the polygon.
	ContainmentFull
)

func (m Containment) String() string {
	switch m {
	case ContainmentCenter:
		return "center"
	case ContainmentOverlap:
		return "overlap"
	case ContainmentFull:
		return "full"
	default:
		return fmt.Sprintf("Containment(%d)", int(m))
	}
}

// ParseContainment parses "center", "overlap" or "full".
func ParseContainment(s string) (Containment, error) {
	switch strings.ToLower(s) {
	case "", "center":
		return ContainmentCenter, nil
	case "overlap":
		return ContainmentOverlap, nil
	case "full":
		return ContainmentFull, nil
	default:
		return 0, fmt.Errorf("unknown containment mode %q", s)
	}
}

// edgeLengthRes0Km is the average hexagon edge length at resolution 0.
// Each finer resolution divides it by sqrt(7).
const (
	edgeLengthRes0Km = 1281.256011
	kmPerDegree      = 111.32
)

func sampleStep(res int) float64 {
	return edgeLengthRes0Km * math.Pow(1/math.Sqrt(7), float64(res)) / kmPerDegree / 2
}

// PolygonToCells covers poly with cells at res. Set-valued: the output is
// sorted ascending without duplicates.
//
// For any polygon, Full ⊆ Center ⊆ Overlap.
func PolygonToCells(poly orb.Polygon, res int, mode Containment, opts ...engine.Option) (*cellarray.CellArray, error) {
	return GeometryToCells(poly, res, mode, opts...)
}

// GeometryToCells covers g with cells at res. Points map to the cell that
// contains them; polygonal geometries follow mode. Line geometries return
// ErrUnsupportedGeometry. Set-valued.
func GeometryToCells(g orb.Geometry, res int, mode Containment, opts ...engine.Option) (*cellarray.CellArray, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	set := roaring64.New()
	if err := cover(e, set, g, res, mode); err != nil {
		return nil, e.Fail("geometry_to_cells", err)
	}

	raws := set.ToArray()
	w := cellarray.NewWriter(e.Allocator(), len(raws))
	for i, raw := range raws {
		w.Set(i, cell.Cell(raw))
	}
	out := w.Finish()
	e.Observe("geometry_to_cells", out.Len(), 0, start)
	return out, nil
}

func cover(e *engine.Executor, set *roaring64.Bitmap, g orb.Geometry, res int, mode Containment) error {
	switch g := g.(type) {
	case orb.Point:
		c, err := pointCell(g, res)
		if err != nil {
			return err
		}
		set.Add(c.Raw())
	case orb.MultiPoint:
		for _, p := range g {
			if err := cover(e, set, p, res, mode); err != nil {
				return err
			}
		}
	case orb.Ring:
		return coverPolygon(e, set, orb.Polygon{g}, res, mode)
	case orb.Polygon:
		return coverPolygon(e, set, g, res, mode)
	case orb.MultiPolygon:
		for _, p := range g {
			if err := coverPolygon(e, set, p, res, mode); err != nil {
				return err
			}
		}
	case orb.Bound:
		return coverPolygon(e, set, g.ToPolygon(), res, mode)
	case orb.Collection:
		for _, part := range g {
			if err := cover(e, set, part, res, mode); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
	return nil
}

func pointCell(p orb.Point, res int) (cell.Cell, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
	if err != nil {
		return 0, fmt.Errorf("point %v: %w", p, err)
	}
	return cell.FromH3(c), nil
}

func coverPolygon(e *engine.Executor, set *roaring64.Bitmap, poly orb.Polygon, res int, mode Containment) error {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return nil
	}

	centers, err := h3.PolygonToCells(geoPolygon(poly), res)
	if err != nil {
		return fmt.Errorf("polygon to cells: %w", err)
	}

	switch mode {
	case ContainmentCenter:
		for _, c := range centers {
			set.Add(uint64(c))
		}
		return nil
	case ContainmentOverlap:
		candidates := roaring64.New()
		if err := boundaryCandidates(candidates, poly, res); err != nil {
			return err
		}
		for _, c := range centers {
			set.Add(uint64(c))
			candidates.Remove(uint64(c))
		}
		return filterInto(e, set, candidates.ToArray(), func(ring orb.Ring) bool {
			return intersects(ring, poly)
		})
	case ContainmentFull:
		raws := make([]uint64, len(centers))
		for i, c := range centers {
			raws[i] = uint64(c)
		}
		return filterInto(e, set, raws, func(ring orb.Ring) bool {
			return within(ring, poly)
		})
	default:
		return fmt.Errorf("unknown containment mode %d", int(mode))
	}
}

// boundaryCandidates adds the cells along every polygon edge, plus their
// neighbours, so every cell whose footprint touches an edge is included.
func boundaryCandidates(set *roaring64.Bitmap, poly orb.Polygon, res int) error {
	step := sampleStep(res)
	sampled := roaring64.New()
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			a, b := ring[i], ring[i+1]
			n := int(math.Ceil(planar.Distance(a, b)/step)) + 1
			for s := 0; s <= n; s++ {
				t := float64(s) / float64(n)
				p := orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
				c, err := pointCell(p, res)
				if err != nil {
					return err
				}
				sampled.Add(c.Raw())
			}
		}
	}

	it := sampled.Iterator()
	for it.HasNext() {
		disk, err := h3.Cell(it.Next()).GridDisk(1)
		if err != nil {
			return err
		}
		for _, c := range disk {
			set.Add(uint64(c))
		}
	}
	return nil
}

// filterInto tests candidates in parallel and adds those passing keep.
func filterInto(e *engine.Executor, set *roaring64.Bitmap, candidates []uint64, keep func(orb.Ring) bool) error {
	parts, err := engine.MapChunks(e, len(candidates), func(lo, hi int) ([]uint64, error) {
		var out []uint64
		for _, raw := range candidates[lo:hi] {
			ring, err := boundaryRing(cell.Cell(raw))
			if err != nil {
				return nil, err
			}
			if keep(ring) {
				out = append(out, raw)
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	for _, part := range parts {
		set.AddMany(part)
	}
	return nil
}

func geoPolygon(poly orb.Polygon) h3.GeoPolygon {
	gp := h3.GeoPolygon{GeoLoop: geoLoop(poly[0])}
	for _, hole := range poly[1:] {
		if len(hole) >= 3 {
			gp.Holes = append(gp.Holes, geoLoop(hole))
		}
	}
	return gp
}

func geoLoop(ring orb.Ring) h3.GeoLoop {
	pts := ring
	if len(pts) > 1 && pts[0].Equal(pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}
	loop := make(h3.GeoLoop, len(pts))
	for i, p := range pts {
		loop[i] = h3.LatLng{Lat: p[1], Lng: p[0]}
	}
	return loop
}

// intersects reports whether the cell footprint and the polygon share any point.
func intersects(cellRing orb.Ring, poly orb.Polygon) bool {
	for _, p := range cellRing {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	for _, p := range poly[0] {
		if planar.RingContains(cellRing, p) {
			return true
		}
	}
	for _, ring := range poly {
		if ringsCross(cellRing, ring) {
			return true
		}
	}
	return false
}

// within reports whether the cell footprint lies entirely inside the polygon.
func within(cellRing orb.Ring, poly orb.Polygon) bool {
	for _, p := range cellRing {
		if !planar.PolygonContains(poly, p) {
			return false
		}
	}
	for _, ring := range poly {
		if ringsCross(cellRing, ring) {
			return false
		}
	}
	for _, hole := range poly[1:] {
		for _, p := range hole {
			if planar.RingContains(cellRing, p) {
				return false
			}
		}
	}
	return true
}

func ringsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports a proper crossing of segments pq and rs.
func segmentsCross(p, q, r, s orb.Point) bool {
	d1 := orient(r, s, p)
	d2 := orient(r, s, q)
	d3 := orient(p, q, r)
	d4 := orient(p, q, s)
	return d1*d2 < 0 && d3*d4 < 0
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
