package geometry

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// BoundaryOptions controls how cell boundaries are returned.
type BoundaryOptions struct {
	// SplitAntimeridian returns an orb.MultiPolygon with one part on each
	// side of the antimeridian for cells that cross it.
	SplitAntimeridian bool
}

// Boundary returns the footprint of c as a closed counter-clockwise ring in
// longitude/latitude order. Without splitting the result is an orb.Polygon;
// with SplitAntimeridian it is an orb.MultiPolygon.
func Boundary(c cell.Cell, opts BoundaryOptions) (orb.Geometry, error) {
	ring, err := boundaryRing(c)
	if err != nil {
		return nil, err
	}
	if !opts.SplitAntimeridian {
		return orb.Polygon{ring}, nil
	}
	return splitAntimeridian(c, ring), nil
}

// Center returns the center point of c.
func Center(c cell.Cell) (lng, lat float64, err error) {
	ll, err := c.H3().LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("center of %s: %w", c, err)
	}
	return ll.Lng, ll.Lat, nil
}

func boundaryRing(c cell.Cell) (orb.Ring, error) {
	b, err := c.H3().Boundary()
	if err != nil {
		return nil, fmt.Errorf("boundary of %s: %w", c, err)
	}
	ring := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func centerPoint(c cell.Cell) (orb.Point, error) {
	lng, lat, err := Center(c)
	return orb.Point{lng, lat}, err
}

// Boundaries returns one boundary per slot; null slots give nil.
// Order preserving.
func Boundaries(cells *cellarray.CellArray, bopts BoundaryOptions, opts ...engine.Option) ([]orb.Geometry, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	out := make([]orb.Geometry, cells.Len())
	err := e.ForEachChunk(cells.Len(), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			c, ok := cells.Value(i)
			if !ok {
				continue
			}
			g, err := Boundary(c, bopts)
			if err != nil {
				return err
			}
			out[i] = g
		}
		return nil
	})
	if err != nil {
		return nil, e.Fail("boundaries", err)
	}
	e.Observe("boundaries", cells.Len(), cells.NullCount(), start)
	return out, nil
}

// BoundariesWKB returns the boundaries encoded as WKB. Null slots stay null.
// Order preserving.
func BoundariesWKB(cells *cellarray.CellArray, bopts BoundaryOptions, opts ...engine.Option) (*array.Binary, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	n := cells.Len()
	encoded := make([][]byte, n)
	valid := make([]bool, n)
	err := e.ForEachChunk(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			c, ok := cells.Value(i)
			if !ok {
				continue
			}
			g, err := Boundary(c, bopts)
			if err != nil {
				return err
			}
			b, err := wkb.Marshal(g)
			if err != nil {
				return fmt.Errorf("encode boundary of %s: %w", c, err)
			}
			encoded[i] = b
			valid[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, e.Fail("boundaries_wkb", err)
	}

	b := array.NewBinaryBuilder(e.Allocator(), arrow.BinaryTypes.Binary)
	defer b.Release()
	b.AppendValues(encoded, valid)
	out := b.NewBinaryArray()
	e.Observe("boundaries_wkb", n, out.NullN(), start)
	return out, nil
}

// Centers returns cell centers as parallel longitude and latitude arrays.
// Null slots stay null. Order preserving.
func Centers(cells *cellarray.CellArray, opts ...engine.Option) (lng, lat *array.Float64, err error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	n := cells.Len()
	lngs := make([]float64, n)
	lats := make([]float64, n)
	valid := make([]bool, n)
	err = e.ForEachChunk(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			c, ok := cells.Value(i)
			if !ok {
				continue
			}
			x, y, err := Center(c)
			if err != nil {
				return err
			}
			lngs[i], lats[i], valid[i] = x, y, true
		}
		return nil
	})
	if err != nil {
		return nil, nil, e.Fail("centers", err)
	}

	lb := array.NewFloat64Builder(e.Allocator())
	defer lb.Release()
	lb.AppendValues(lngs, valid)
	lng = lb.NewFloat64Array()

	lb.AppendValues(lats, valid)
	lat = lb.NewFloat64Array()

	e.Observe("centers", n, lng.NullN(), start)
	return lng, lat, nil
}
