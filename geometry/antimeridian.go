package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
)

const antimeridian = 180.0

// crossesAntimeridian reports whether consecutive vertexes jump by more than
// half the globe in longitude.
func crossesAntimeridian(ring orb.Ring) bool {
	for i := 1; i < len(ring); i++ {
		if math.Abs(ring[i][0]-ring[i-1][0]) > antimeridian {
			return true
		}
	}
	return false
}

// poleOf returns the latitude of the pole inside c, if any.
func poleOf(c cell.Cell) (float64, bool) {
	for _, lat := range []float64{90, -90} {
		hc, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: 0}, c.Resolution())
		if err == nil && cell.FromH3(hc) == c {
			return lat, true
		}
	}
	return 0, false
}

// splitAntimeridian returns the ring of c as a multipolygon, cut in two at
// the antimeridian when it crosses it.
func splitAntimeridian(c cell.Cell, ring orb.Ring) orb.MultiPolygon {
	if !crossesAntimeridian(ring) {
		return orb.MultiPolygon{{ring}}
	}
	if pole, ok := poleOf(c); ok {
		if polar, ok := unwrapPolar(ring, pole); ok {
			return clipAtAntimeridian(polar)
		}
	}

	// Unwrap to a continuous [0, 360) longitude range.
	shifted := make(orb.Ring, len(ring))
	for i, p := range ring {
		if p[0] < 0 {
			p[0] += 360
		}
		shifted[i] = p
	}
	return clipAtAntimeridian(shifted)
}

// unwrapPolar turns the ring of a cell around a pole into a band spanning
// 360 degrees of longitude, closed along the pole latitude. The band lies in
// [-180, 540].
func unwrapPolar(ring orb.Ring, pole float64) (orb.Ring, bool) {
	open := ring
	if len(open) > 1 && open[0].Equal(open[len(open)-1]) {
		open = open[:len(open)-1]
	}
	if len(open) < 3 {
		return nil, false
	}

	band := make(orb.Ring, 0, len(open)+4)
	band = append(band, open[0])
	for i := 1; i <= len(open); i++ {
		p := open[i%len(open)]
		prev := band[len(band)-1]
		for p[0]-prev[0] > antimeridian {
			p[0] -= 360
		}
		for p[0]-prev[0] < -antimeridian {
			p[0] += 360
		}
		band = append(band, p)
	}

	first, last := band[0], band[len(band)-1]
	if math.Abs(last[0]-first[0]) < antimeridian {
		return nil, false
	}
	band = append(band, orb.Point{last[0], pole}, orb.Point{first[0], pole}, first)

	if band.Bound().Min[0] < -antimeridian {
		for i := range band {
			band[i][0] += 360
		}
	}
	return band, true
}

// clipAtAntimeridian cuts a ring lying in [-180, 540] at 180 and moves the
// eastern part back by 360. Parts are returned counter-clockwise.
func clipAtAntimeridian(shifted orb.Ring) orb.MultiPolygon {
	var out orb.MultiPolygon
	if west := clipHalfPlane(shifted, true); len(west) >= 4 {
		out = append(out, orb.Polygon{west})
	}
	if east := clipHalfPlane(shifted, false); len(east) >= 4 {
		for i := range east {
			east[i][0] -= 360
		}
		out = append(out, orb.Polygon{east})
	}
	for _, poly := range out {
		if poly[0].Orientation() == orb.CW {
			poly[0].Reverse()
		}
	}
	return out
}

// clipHalfPlane clips a closed ring to x <= 180 (west) or x >= 180 (east).
func clipHalfPlane(ring orb.Ring, west bool) orb.Ring {
	inside := func(p orb.Point) bool {
		if west {
			return p[0] <= antimeridian
		}
		return p[0] >= antimeridian
	}

	var out orb.Ring
	for i := 0; i+1 < len(ring); i++ {
		cur, next := ring[i], ring[i+1]
		curIn, nextIn := inside(cur), inside(next)
		if curIn {
			out = append(out, cur)
		}
		if curIn != nextIn {
			t := (antimeridian - cur[0]) / (next[0] - cur[0])
			out = append(out, orb.Point{antimeridian, cur[1] + t*(next[1]-cur[1])})
		}
	}
	if len(out) > 0 && !out[0].Equal(out[len(out)-1]) {
		out = append(out, out[0])
	}
	return out
}
