package geometry

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/hierarchy"
)

// PointsToCells returns the cell containing each point at res. A nil validity
// means every point is present. Null points and points with out-of-range or
// non-finite coordinates give nulls. Order preserving.
func PointsToCells(points []orb.Point, validity []bool, res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if validity != nil && len(validity) != len(points) {
		return nil, fmt.Errorf("%w: %d points, %d validity flags", cellarray.ErrLengthMismatch, len(points), len(validity))
	}
	return pointsToCells("points_to_cells", len(points), func(i int) (orb.Point, bool) {
		if validity != nil && !validity[i] {
			return orb.Point{}, false
		}
		return points[i], true
	}, res, opts...)
}

// CoordinatesToCells is PointsToCells over parallel longitude and latitude
// arrays. A slot is null when either coordinate is null.
func CoordinatesToCells(lng, lat *array.Float64, res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if lng.Len() != lat.Len() {
		return nil, fmt.Errorf("%w: %d longitudes, %d latitudes", cellarray.ErrLengthMismatch, lng.Len(), lat.Len())
	}
	return pointsToCells("coordinates_to_cells", lng.Len(), func(i int) (orb.Point, bool) {
		if lng.IsNull(i) || lat.IsNull(i) {
			return orb.Point{}, false
		}
		return orb.Point{lng.Value(i), lat.Value(i)}, true
	}, res, opts...)
}

func pointsToCells(kernel string, n int, at func(int) (orb.Point, bool), res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	w := cellarray.NewWriter(e.Allocator(), n)
	err := e.ForEachChunk(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			p, ok := at(i)
			if !ok || !inRange(p) {
				continue
			}
			c, err := pointCell(p, res)
			if err != nil {
				continue
			}
			w.Set(i, c)
		}
		return nil
	})
	if err != nil {
		w.Discard()
		return nil, e.Fail(kernel, err)
	}

	out := w.Finish()
	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, nil
}

func inRange(p orb.Point) bool {
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// WKBToCells decodes each WKB value and covers it at res, one group per slot.
// Null slots, undecodable values and unsupported geometry types give null
// groups. With compact set, each group is compacted. Groups are sorted.
func WKBToCells(values *array.Binary, res int, mode Containment, compact bool, opts ...engine.Option) (*cellarray.List, error) {
	return coverEach("wkb_to_cells", values.Len(), func(i int) (orb.Geometry, bool) {
		if values.IsNull(i) {
			return nil, false
		}
		g, err := wkb.Unmarshal(values.Value(i))
		if err != nil {
			return nil, false
		}
		return g, true
	}, res, mode, compact, opts...)
}

// GeoJSONToCells covers a GeoJSON geometry, feature or feature collection,
// one group per geometry. Features without geometry give null groups.
func GeoJSONToCells(data []byte, res int, mode Containment, opts ...engine.Option) (*cellarray.List, error) {
	geoms, err := decodeGeoJSON(data)
	if err != nil {
		return nil, err
	}
	return coverEach("geojson_to_cells", len(geoms), func(i int) (orb.Geometry, bool) {
		return geoms[i], geoms[i] != nil
	}, res, mode, false, opts...)
}

func decodeGeoJSON(data []byte) ([]orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature collection: %w", err)
		}
		out := make([]orb.Geometry, len(fc.Features))
		for i, f := range fc.Features {
			out[i] = f.Geometry
		}
		return out, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		return []orb.Geometry{f.Geometry}, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		return []orb.Geometry{g.Geometry()}, nil
	}
}

func coverEach(kernel string, n int, at func(int) (orb.Geometry, bool), res int, mode Containment, compact bool, opts ...engine.Option) (*cellarray.List, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}

	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	seq := e.Sequential()
	parts, err := engine.MapChunks(e, n, func(lo, hi int) (cellarray.ListPart, error) {
		part := cellarray.ListPart{
			Groups: make([][]cell.Cell, hi-lo),
			Valid:  make([]bool, hi-lo),
		}
		for i := lo; i < hi; i++ {
			g, ok := at(i)
			if !ok {
				continue
			}
			set := roaring64.New()
			if err := cover(seq, set, g, res, mode); err != nil {
				continue
			}
			group := make([]cell.Cell, 0, set.GetCardinality())
			for _, raw := range set.ToArray() {
				group = append(group, cell.Cell(raw))
			}
			if compact {
				var err error
				if group, err = compactGroup(seq, group); err != nil {
					return cellarray.ListPart{}, err
				}
			}
			part.Groups[i-lo] = group
			part.Valid[i-lo] = true
		}
		return part, nil
	})
	if err != nil {
		return nil, e.Fail(kernel, err)
	}

	out := cellarray.AssembleList(e.Allocator(), parts)
	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, nil
}

func compactGroup(seq *engine.Executor, group []cell.Cell) ([]cell.Cell, error) {
	arr := cellarray.FromCells(seq.Allocator(), group)
	defer arr.Release()
	compacted, err := hierarchy.Compact(arr, engine.WithExecutor(seq))
	if err != nil {
		return nil, err
	}
	defer compacted.Release()
	return compacted.Cells(), nil
}
