// Package polygon implements the planar polygon algebra used to combine exposure
// and occlusion regions: boolean operations, validity checks and repair.
//
// All coordinates are [lon, lat] degrees treated as planar; areas are in
// square degrees.
package polygon

import (
	"errors"
	"math"

	"billboardvis/pkg/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidGeometry indicates a geometry that is still invalid after repair.
var ErrInvalidGeometry = errors.New("invalid geometry")

// DefaultSegments is the number of edges of a circle polygon.
const DefaultSegments = 64

// Circle approximates a circle of radius meters around center with a closed,
// counter-clockwise ring of segments edges. Vertex i sits at angle 2πi/segments
// from east.
func Circle(center orb.Point, radius float64, segments int) orb.Polygon {
	if segments < 3 {
		segments = DefaultSegments
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		angle := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, geo.OffsetPoint(center, angle, radius))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// Area returns the planar area of mp with holes subtracted.
func Area(mp orb.MultiPolygon) float64 {
	if len(mp) == 0 {
		return 0
	}
	return planar.Area(mp)
}

// FromRing wraps a single ring as a MultiPolygon, closing it if needed.
func FromRing(r orb.Ring) orb.MultiPolygon {
	if len(r) == 0 {
		return nil
	}
	ring := closeRing(r)
	return orb.MultiPolygon{{ring}}
}

func closeRing(r orb.Ring) orb.Ring {
	out := r.Clone()
	if len(out) > 0 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	return out
}

// pointInRing returns 1 inside, -1 outside, 0 on the boundary.
func pointInRing(r orb.Ring, p orb.Point) int {
	in := false
	for i := 0; i < len(r)-1; i++ {
		a, b := r[i], r[i+1]
		if onSegment(a, b, p) {
			return 0
		}
		if (a[1] > p[1]) != (b[1] > p[1]) {
			x := a[0] + (p[1]-a[1])*(b[0]-a[0])/(b[1]-a[1])
			if p[0] < x {
				in = !in
			}
		}
	}
	if in {
		return 1
	}
	return -1
}

func signedArea(r orb.Ring) float64 {
	var s float64
	for i := 0; i < len(r)-1; i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// areaTolerance scales the zero-area threshold to the ring extent.
func areaTolerance(r orb.Ring) float64 {
	b := r.Bound()
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	return 1e-12 * (w*w + h*h)
}
