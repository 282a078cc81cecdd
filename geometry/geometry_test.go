package geometry

import (
	"math"
	"strconv"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/h3-go/v4"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

var res5Cell = cell.Cell(0x85283473fffffff)

func squareAround(t *testing.T, c cell.Cell, half float64) orb.Polygon {
	t.Helper()
	lng, lat, err := Center(c)
	require.NoError(t, err)
	return orb.Polygon{orb.Ring{
		{lng - half, lat - half},
		{lng + half, lat - half},
		{lng + half, lat + half},
		{lng - half, lat + half},
		{lng - half, lat - half},
	}}
}

func TestBoundaryKnownCell(t *testing.T) {
	g, err := Boundary(res5Cell, BoundaryOptions{})
	require.NoError(t, err)

	poly, ok := g.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)

	ring := poly[0]
	assert.Len(t, ring, 7)
	assert.True(t, ring.Closed())

	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)
	assert.InDelta(t, 37.35, lat, 0.1)
	assert.InDelta(t, -121.98, lng, 0.1)
	assert.True(t, planar.RingContains(ring, orb.Point{lng, lat}))
}

func TestBoundaryPentagonHasFiveVertexes(t *testing.T) {
	g, err := Boundary(cell.Cell(0x8009fffffffffff), BoundaryOptions{})
	require.NoError(t, err)
	ring := g.(orb.Polygon)[0]
	// Res 0 pentagons may carry extra distortion vertexes but never fewer than five.
	assert.GreaterOrEqual(t, len(ring)-1, 5)
}

func antimeridianCell(t *testing.T) cell.Cell {
	t.Helper()
	for lat := -60.0; lat <= 60; lat += 5 {
		hc, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: 180}, 0)
		require.NoError(t, err)
		c := cell.FromH3(hc)
		ring, err := boundaryRing(c)
		require.NoError(t, err)
		if crossesAntimeridian(ring) {
			return c
		}
	}
	t.Fatal("no res 0 cell crossing the antimeridian found")
	return 0
}

func TestBoundarySplitAntimeridian(t *testing.T) {
	c := antimeridianCell(t)

	g, err := Boundary(c, BoundaryOptions{SplitAntimeridian: true})
	require.NoError(t, err)

	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	require.Len(t, mp, 2)

	west, east := mp[0].Bound(), mp[1].Bound()
	assert.GreaterOrEqual(t, west.Min[0], 0.0)
	assert.LessOrEqual(t, west.Max[0], 180.0)
	assert.GreaterOrEqual(t, east.Min[0], -180.0)
	assert.LessOrEqual(t, east.Max[0], 0.0)
	for _, p := range mp {
		assert.True(t, p[0].Closed())
	}
}

func TestBoundarySplitLeavesOrdinaryCellWhole(t *testing.T) {
	g, err := Boundary(res5Cell, BoundaryOptions{SplitAntimeridian: true})
	require.NoError(t, err)

	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 1)
	assert.Len(t, mp[0][0], 7)
}

func TestBoundariesAndCentersPropagateNulls(t *testing.T) {
	in := cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{cell.Some(res5Cell), {}})
	defer in.Release()

	geoms, err := Boundaries(in, BoundaryOptions{})
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.NotNil(t, geoms[0])
	assert.Nil(t, geoms[1])

	lng, lat, err := Centers(in)
	require.NoError(t, err)
	defer lng.Release()
	defer lat.Release()
	assert.True(t, lng.IsNull(1))
	assert.True(t, lat.IsNull(1))
	assert.InDelta(t, 37.35, lat.Value(0), 0.1)
}

func TestBoundariesWKBDecodes(t *testing.T) {
	in := cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{{}, cell.Some(res5Cell)})
	defer in.Release()

	out, err := BoundariesWKB(in, BoundaryOptions{})
	require.NoError(t, err)
	defer out.Release()

	assert.True(t, out.IsNull(0))
	g, err := wkb.Unmarshal(out.Value(1))
	require.NoError(t, err)
	poly, ok := g.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 7)
}

func TestPolygonAroundKnownCenter(t *testing.T) {
	poly := squareAround(t, res5Cell, 0.2)

	for _, mode := range []Containment{ContainmentCenter, ContainmentOverlap, ContainmentFull} {
		out, err := PolygonToCells(poly, 5, mode)
		require.NoError(t, err, mode.String())
		assert.Contains(t, out.Cells(), res5Cell, mode.String())
		out.Release()
	}
}

func TestContainmentOrdering(t *testing.T) {
	poly := orb.Polygon{orb.Ring{
		{-122.1, 37.2}, {-121.8, 37.25}, {-121.85, 37.5}, {-122.05, 37.45}, {-122.1, 37.2},
	}}

	run := func(mode Containment) map[cell.Cell]bool {
		out, err := PolygonToCells(poly, 6, mode)
		require.NoError(t, err)
		defer out.Release()

		cells := out.Cells()
		for i := 1; i < len(cells); i++ {
			require.Less(t, cells[i-1], cells[i], "%s output must be sorted and distinct", mode)
		}
		set := make(map[cell.Cell]bool, len(cells))
		for _, c := range cells {
			set[c] = true
		}
		return set
	}

	center, overlap, full := run(ContainmentCenter), run(ContainmentOverlap), run(ContainmentFull)
	require.NotEmpty(t, full)

	for c := range full {
		assert.True(t, center[c], "full cell %s missing from center", c)
	}
	for c := range center {
		assert.True(t, overlap[c], "center cell %s missing from overlap", c)
	}
	assert.Greater(t, len(overlap), len(center))
	assert.Greater(t, len(center), len(full))
}

func TestOverlapCoversTinyPolygon(t *testing.T) {
	// Much smaller than a res 3 cell: no center falls inside.
	poly := squareAround(t, res5Cell, 0.001)

	center, err := PolygonToCells(poly, 3, ContainmentCenter)
	require.NoError(t, err)
	defer center.Release()
	assert.Zero(t, center.Len())

	overlap, err := PolygonToCells(poly, 3, ContainmentOverlap)
	require.NoError(t, err)
	defer overlap.Release()
	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)
	host, err := pointCell(orb.Point{lng, lat}, 3)
	require.NoError(t, err)
	assert.Contains(t, overlap.Cells(), host)
}

func TestPolygonToCellsDeterministicAcrossWorkers(t *testing.T) {
	poly := squareAround(t, res5Cell, 0.3)

	ref, err := PolygonToCells(poly, 7, ContainmentOverlap, engine.WithWorkers(1))
	require.NoError(t, err)
	defer ref.Release()

	got, err := PolygonToCells(poly, 7, ContainmentOverlap, engine.WithWorkers(8), engine.WithChunkSize(64))
	require.NoError(t, err)
	defer got.Release()
	assert.True(t, ref.Equal(got))
}

func TestGeometryToCells(t *testing.T) {
	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)

	out, err := GeometryToCells(orb.MultiPoint{{lng, lat}, {lng, lat}}, 5, ContainmentCenter)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []cell.Cell{res5Cell}, out.Cells())

	_, err = GeometryToCells(orb.LineString{{0, 0}, {1, 1}}, 5, ContainmentCenter)
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)

	_, err = GeometryToCells(orb.Point{0, 0}, 16, ContainmentCenter)
	var rre *cell.ResolutionRangeError
	assert.ErrorAs(t, err, &rre)
}

func TestPointsToCells(t *testing.T) {
	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)

	points := []orb.Point{
		{lng, lat},
		{lng, lat},
		{math.NaN(), 0},
		{0, 95},
	}
	out, err := PointsToCells(points, []bool{true, false, true, true}, 5)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 4, out.Len())
	assert.Equal(t, 3, out.NullCount())
	c, ok := out.Value(0)
	assert.True(t, ok)
	assert.Equal(t, res5Cell, c)
}

func TestCoordinatesToCells(t *testing.T) {
	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)

	lb := array.NewFloat64Builder(memory.DefaultAllocator)
	defer lb.Release()
	lb.AppendValues([]float64{lng, 0}, []bool{true, false})
	lngs := lb.NewFloat64Array()
	defer lngs.Release()
	lb.AppendValues([]float64{lat, 0}, nil)
	lats := lb.NewFloat64Array()
	defer lats.Release()

	out, err := CoordinatesToCells(lngs, lats, 5)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []cell.Cell{res5Cell}, out.Cells())
	assert.True(t, out.IsNull(1))
}

func TestWKBToCells(t *testing.T) {
	poly := squareAround(t, res5Cell, 0.2)
	encoded, err := wkb.Marshal(poly)
	require.NoError(t, err)

	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer b.Release()
	b.AppendValues([][]byte{encoded, nil, []byte("not wkb")}, []bool{true, false, true})
	values := b.NewBinaryArray()
	defer values.Release()

	out, err := WKBToCells(values, 5, ContainmentCenter, false)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 3, out.Len())
	assert.False(t, out.IsNull(0))
	assert.True(t, out.IsNull(1))
	assert.True(t, out.IsNull(2))
	assert.Contains(t, out.Group(0), res5Cell)

	compacted, err := WKBToCells(values, 5, ContainmentCenter, true)
	require.NoError(t, err)
	defer compacted.Release()
	assert.LessOrEqual(t, len(compacted.Group(0)), len(out.Group(0)))
}

func TestGeoJSONToCells(t *testing.T) {
	lng, lat, err := Center(res5Cell)
	require.NoError(t, err)

	doc := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[` +
		formatFloat(lng) + `,` + formatFloat(lat) + `]}},
		{"type":"Feature","properties":{},"geometry":null}
	]}`)

	out, err := GeoJSONToCells(doc, 5, ContainmentCenter)
	require.NoError(t, err)
	defer out.Release()

	require.Equal(t, 2, out.Len())
	assert.Equal(t, []cell.Cell{res5Cell}, out.Group(0))
	assert.True(t, out.IsNull(1))

	_, err = GeoJSONToCells([]byte("{"), 5, ContainmentCenter)
	assert.Error(t, err)
}

func TestParseContainment(t *testing.T) {
	m, err := ParseContainment("Overlap")
	require.NoError(t, err)
	assert.Equal(t, ContainmentOverlap, m)

	_, err = ParseContainment("partial")
	assert.Error(t, err)
}

func TestSegmentsCross(t *testing.T) {
	assert.True(t, segmentsCross(orb.Point{0, 0}, orb.Point{2, 2}, orb.Point{0, 2}, orb.Point{2, 0}))
	assert.False(t, segmentsCross(orb.Point{0, 0}, orb.Point{1, 1}, orb.Point{2, 2}, orb.Point{3, 0}))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestBoundarySplitPolarCellKeepsPole(t *testing.T) {
	for _, pole := range []float64{90, -90} {
		for res := 0; res <= 2; res++ {
			hc, err := h3.LatLngToCell(h3.LatLng{Lat: pole, Lng: 0}, res)
			require.NoError(t, err)
			c := cell.FromH3(hc)

			g, err := Boundary(c, BoundaryOptions{SplitAntimeridian: true})
			require.NoError(t, err)
			mp := g.(orb.MultiPolygon)
			require.Len(t, mp, 2, "pole=%v res=%d", pole, res)

			near := pole - math.Copysign(1e-4, pole)
			for _, lng := range []float64{-179.5, -90, 0, 10, 90, 179.5} {
				assert.True(t, planar.MultiPolygonContains(mp, orb.Point{lng, near}),
					"pole=%v res=%d lng=%v", pole, res, lng)
			}
			for _, poly := range mp {
				b := poly.Bound()
				assert.GreaterOrEqual(t, b.Min[0], -180.0)
				assert.LessOrEqual(t, b.Max[0], 180.0)
				assert.Equal(t, orb.CCW, poly[0].Orientation())
			}
		}
	}
}

func gridOfCells(t *testing.T, n int) *cellarray.CellArray {
	t.Helper()
	points := make([]orb.Point, n)
	validity := make([]bool, n)
	for i := range points {
		points[i] = orb.Point{-122.5 + float64(i%13)*0.05, 37.2 + float64(i/13)*0.05}
		validity[i] = i%7 != 3
	}
	cells, err := PointsToCells(points, validity, 7)
	require.NoError(t, err)
	return cells
}

func TestBoundariesAndCentersDeterministicAcrossWorkers(t *testing.T) {
	cells := gridOfCells(t, 130)
	defer cells.Release()

	bopts := BoundaryOptions{SplitAntimeridian: true}
	refGeoms, err := Boundaries(cells, bopts, engine.WithWorkers(1))
	require.NoError(t, err)
	refWKB, err := BoundariesWKB(cells, bopts, engine.WithWorkers(1))
	require.NoError(t, err)
	defer refWKB.Release()
	refLng, refLat, err := Centers(cells, engine.WithWorkers(1))
	require.NoError(t, err)
	defer refLng.Release()
	defer refLat.Release()

	for _, workers := range []int{2, 4, 8} {
		opts := []engine.Option{engine.WithWorkers(workers), engine.WithChunkSize(64)}

		geoms, err := Boundaries(cells, bopts, opts...)
		require.NoError(t, err)
		assert.Equal(t, refGeoms, geoms, "workers=%d", workers)

		wkbs, err := BoundariesWKB(cells, bopts, opts...)
		require.NoError(t, err)
		assert.True(t, array.Equal(refWKB, wkbs), "workers=%d", workers)
		wkbs.Release()

		lng, lat, err := Centers(cells, opts...)
		require.NoError(t, err)
		assert.True(t, array.Equal(refLng, lng), "workers=%d", workers)
		assert.True(t, array.Equal(refLat, lat), "workers=%d", workers)
		lng.Release()
		lat.Release()
	}
}

func TestAllNullInputsGiveAllNullOutputs(t *testing.T) {
	const n = 130
	opts := []engine.Option{engine.WithWorkers(4), engine.WithChunkSize(64)}

	cells := cellarray.Nulls(memory.DefaultAllocator, n)
	defer cells.Release()

	geoms, err := Boundaries(cells, BoundaryOptions{}, opts...)
	require.NoError(t, err)
	require.Len(t, geoms, n)
	for _, g := range geoms {
		assert.Nil(t, g)
	}

	wkbs, err := BoundariesWKB(cells, BoundaryOptions{}, opts...)
	require.NoError(t, err)
	defer wkbs.Release()
	assert.Equal(t, n, wkbs.Len())
	assert.Equal(t, n, wkbs.NullN())

	lng, lat, err := Centers(cells, opts...)
	require.NoError(t, err)
	defer lng.Release()
	defer lat.Release()
	assert.Equal(t, n, lng.NullN())
	assert.Equal(t, n, lat.NullN())

	pts, err := PointsToCells(make([]orb.Point, n), make([]bool, n), 9, opts...)
	require.NoError(t, err)
	defer pts.Release()
	assert.Equal(t, n, pts.Len())
	assert.Equal(t, n, pts.NullCount())

	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	b.AppendNulls(n)
	values := b.NewBinaryArray()
	b.Release()
	defer values.Release()

	groups, err := WKBToCells(values, 9, ContainmentCenter, false, opts...)
	require.NoError(t, err)
	defer groups.Release()
	assert.Equal(t, n, groups.Len())
	assert.Equal(t, n, groups.NullCount())
}
