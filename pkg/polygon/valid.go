package polygon

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Validate checks that mp is a valid MultiPolygon. Every ring must be closed,
// have at least four points, finite coordinates and non-zero area, and no two
// of its edges may cross or overlap. Rings touching themselves at a single
// vertex are accepted. Holes must lie inside their shell and outside each
// other, and no two parts may overlap. Distinct rings may touch at points but
// never cross or share an edge.
func Validate(mp orb.MultiPolygon) error {
	for i, poly := range mp {
		if len(poly) == 0 {
			return fmt.Errorf("polygon %d: %w: no rings", i, ErrInvalidGeometry)
		}
		for j, ring := range poly {
			if err := validateRing(ring); err != nil {
				return fmt.Errorf("polygon %d ring %d: %w", i, j, err)
			}
		}
	}
	for i, poly := range mp {
		if err := validateHoles(poly); err != nil {
			return fmt.Errorf("polygon %d: %w", i, err)
		}
	}
	for i := range mp {
		for j := i + 1; j < len(mp); j++ {
			if err := validateDisjoint(mp[i], mp[j]); err != nil {
				return fmt.Errorf("polygons %d and %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateHoles(poly orb.Polygon) error {
	shell := poly[0]
	for k, h := range poly[1:] {
		if ringsCross(shell, h) {
			return fmt.Errorf("%w: hole %d crosses shell", ErrInvalidGeometry, k+1)
		}
		if boundaryTouches(h, shell, -1) {
			return fmt.Errorf("%w: hole %d outside shell", ErrInvalidGeometry, k+1)
		}
		for m := k + 1; m < len(poly)-1; m++ {
			other := poly[m+1]
			if ringsCross(h, other) {
				return fmt.Errorf("%w: holes %d and %d cross", ErrInvalidGeometry, k+1, m+1)
			}
			if boundaryTouches(h, other, 1) || boundaryTouches(other, h, 1) {
				return fmt.Errorf("%w: holes %d and %d nested", ErrInvalidGeometry, k+1, m+1)
			}
		}
	}
	return nil
}

func validateDisjoint(a, b orb.Polygon) error {
	if !a.Bound().Intersects(b.Bound()) {
		return nil
	}
	for _, r := range a {
		for _, s := range b {
			if ringsCross(r, s) {
				return fmt.Errorf("%w: parts cross", ErrInvalidGeometry)
			}
		}
	}
	if boundaryInside(a[0], b) || boundaryInside(b[0], a) {
		return fmt.Errorf("%w: parts overlap", ErrInvalidGeometry)
	}
	return nil
}

// boundaryTouches reports whether a vertex or edge midpoint of r classifies
// as side (1 inside, -1 outside) against ring s.
func boundaryTouches(r, s orb.Ring, side int) bool {
	for _, p := range samples(r) {
		if pointInRing(s, p) == side {
			return true
		}
	}
	return false
}

// boundaryInside reports whether any sample of r lies in the interior of poly.
func boundaryInside(r orb.Ring, poly orb.Polygon) bool {
	for _, p := range samples(r) {
		if pointInRing(poly[0], p) != 1 {
			continue
		}
		inHole := false
		for _, h := range poly[1:] {
			if pointInRing(h, p) != -1 {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// samples returns the vertices and edge midpoints of the closed ring r.
func samples(r orb.Ring) []orb.Point {
	out := make([]orb.Point, 0, 2*len(r))
	for i := 0; i+1 < len(r); i++ {
		a, b := r[i], r[i+1]
		out = append(out, a, orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2})
	}
	return out
}

// ringsCross reports whether two distinct rings cross properly or share part
// of an edge.
func ringsCross(r, s orb.Ring) bool {
	if !r.Bound().Intersects(s.Bound()) {
		return false
	}
	for i := 0; i+1 < len(r); i++ {
		a, b := r[i], r[i+1]
		if a == b {
			continue
		}
		for j := 0; j+1 < len(s); j++ {
			c, d := s[j], s[j+1]
			if c == d {
				continue
			}
			x := intersect(a, b, c, d)
			if x.collinear {
				if x.overlap {
					return true
				}
				continue
			}
			if x.hit && x.t > 0 && x.t < 1 && x.u > 0 && x.u < 1 {
				return true
			}
		}
	}
	return false
}

func validateRing(r orb.Ring) error {
	if len(r) < 4 {
		return fmt.Errorf("%w: %d points", ErrInvalidGeometry, len(r))
	}
	if r[0] != r[len(r)-1] {
		return fmt.Errorf("%w: ring not closed", ErrInvalidGeometry)
	}
	for _, p := range r {
		if !finite(p[0]) || !finite(p[1]) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
		}
	}
	if math.Abs(signedArea(r)) <= areaTolerance(r) {
		return fmt.Errorf("%w: zero area", ErrInvalidGeometry)
	}

	n := len(r) - 1
	for i := 0; i < n; i++ {
		a, b := r[i], r[i+1]
		if a == b {
			continue
		}
		for j := i + 1; j < n; j++ {
			c, d := r[j], r[j+1]
			if c == d {
				continue
			}
			x := intersect(a, b, c, d)
			if x.collinear {
				if x.overlap {
					return fmt.Errorf("%w: overlapping edges %d and %d", ErrInvalidGeometry, i, j)
				}
				continue
			}
			if !x.hit {
				continue
			}
			// Crossing strictly inside both edges.
			if x.t > 0 && x.t < 1 && x.u > 0 && x.u < 1 {
				return fmt.Errorf("%w: self-intersection at %v", ErrInvalidGeometry, x.p)
			}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MakeValid repairs mp. Each ring is noded at its self-intersections and split
// into simple loops; loops with no area are dropped. The loops of all outer
// rings are unioned and the loops of all holes subtracted per polygon, then
// all polygons are unioned. The result is validated before it is returned.
func MakeValid(mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	var parts []orb.MultiPolygon
	for _, poly := range mp {
		if len(poly) == 0 {
			continue
		}
		shell, err := UnionAll(ringLoops(poly[0]))
		if err != nil {
			return nil, fmt.Errorf("repair failed: %w", err)
		}
		if len(shell) == 0 {
			continue
		}
		var holes []orb.MultiPolygon
		for _, h := range poly[1:] {
			holes = append(holes, ringLoops(h)...)
		}
		if len(holes) > 0 {
			cut, err := UnionAll(holes)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			if shell, err = Difference(shell, cut); err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
		}
		parts = append(parts, shell)
	}

	out, err := UnionAll(parts)
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	if err := Validate(out); err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	return out, nil
}

// RepairRing returns r as a valid MultiPolygon, repairing it when needed.
func RepairRing(r orb.Ring) (orb.MultiPolygon, error) {
	mp := FromRing(r)
	if Validate(mp) == nil {
		return mp, nil
	}
	return MakeValid(mp)
}

// ringLoops nodes r and returns each simple loop with area as its own part.
func ringLoops(r orb.Ring) []orb.MultiPolygon {
	pts := dedupe(r)
	if len(pts) < 3 {
		return nil
	}
	for _, p := range pts {
		if !finite(p[0]) || !finite(p[1]) {
			return nil
		}
	}

	var out []orb.MultiPolygon
	for _, loop := range splitLoops(node(pts)) {
		if math.Abs(signedArea(loop)) <= areaTolerance(loop) {
			continue
		}
		out = append(out, orb.MultiPolygon{{loop}})
	}
	return out
}

// dedupe drops consecutive repeated points and the closing point.
func dedupe(r orb.Ring) []orb.Point {
	pts := make([]orb.Point, 0, len(r))
	for _, p := range r {
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	for len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts
}

type split struct {
	t float64
	p orb.Point
}

// node inserts every point where an edge of the open ring pts meets another
// edge into both edges. The same point value is inserted on both sides so the
// loop split can match them exactly.
func node(pts []orb.Point) []orb.Point {
	n := len(pts)
	splits := make([][]split, n)
	edge := func(i int) (orb.Point, orb.Point) { return pts[i], pts[(i+1)%n] }

	for i := 0; i < n; i++ {
		a, b := edge(i)
		for j := i + 1; j < n; j++ {
			c, d := edge(j)
			x := intersect(a, b, c, d)
			if x.collinear {
				if !x.overlap {
					continue
				}
				// Each endpoint lying inside the other edge becomes a node.
				for _, q := range []orb.Point{c, d} {
					if t, ok := interior(a, b, q); ok {
						splits[i] = append(splits[i], split{t, q})
					}
				}
				for _, q := range []orb.Point{a, b} {
					if u, ok := interior(c, d, q); ok {
						splits[j] = append(splits[j], split{u, q})
					}
				}
				continue
			}
			if !x.hit {
				continue
			}
			if x.t > 0 && x.t < 1 {
				splits[i] = append(splits[i], split{x.t, x.p})
			}
			if x.u > 0 && x.u < 1 {
				splits[j] = append(splits[j], split{x.u, x.p})
			}
		}
	}

	out := make([]orb.Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pts[i])
		s := splits[i]
		sort.Slice(s, func(a, b int) bool { return s[a].t < s[b].t })
		for _, sp := range s {
			if out[len(out)-1] != sp.p {
				out = append(out, sp.p)
			}
		}
	}
	return out
}

// splitLoops walks the open ring pts and cuts out a closed loop every time a
// point repeats.
func splitLoops(pts []orb.Point) []orb.Ring {
	if len(pts) == 0 {
		return nil
	}

	var (
		loops []orb.Ring
		stack []orb.Point
		index = make(map[orb.Point]int)
	)
	walk := append(append(make([]orb.Point, 0, len(pts)+1), pts...), pts[0])
	for _, p := range walk {
		if k, ok := index[p]; ok {
			loop := make(orb.Ring, 0, len(stack)-k+1)
			loop = append(loop, stack[k:]...)
			loop = append(loop, p)
			if len(loop) >= 4 {
				loops = append(loops, loop)
			}
			for _, q := range stack[k+1:] {
				delete(index, q)
			}
			stack = stack[:k+1]
			continue
		}
		index[p] = len(stack)
		stack = append(stack, p)
	}
	return loops
}

type crossing struct {
	hit       bool
	collinear bool
	overlap   bool
	t, u      float64
	p         orb.Point
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// intersect computes where segment ab meets segment cd. t and u are the
// parameters of the meeting point along ab and cd. Endpoint hits return the
// endpoint itself.
func intersect(a, b, c, d orb.Point) crossing {
	rx, ry := b[0]-a[0], b[1]-a[1]
	sx, sy := d[0]-c[0], d[1]-c[1]
	denom := rx*sy - ry*sx
	qx, qy := c[0]-a[0], c[1]-a[1]

	if denom == 0 {
		if qx*ry-qy*rx != 0 {
			return crossing{}
		}
		x := crossing{collinear: true}
		_, in1 := interior(a, b, c)
		_, in2 := interior(a, b, d)
		_, in3 := interior(c, d, a)
		_, in4 := interior(c, d, b)
		x.overlap = in1 || in2 || in3 || in4 || (a == c && b == d) || (a == d && b == c)
		return x
	}

	t := (qx*sy - qy*sx) / denom
	u := (qx*ry - qy*rx) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return crossing{}
	}

	x := crossing{hit: true, t: t, u: u}
	switch {
	case t == 0:
		x.p = a
	case t == 1:
		x.p = b
	case u == 0:
		x.p = c
	case u == 1:
		x.p = d
	default:
		x.p = orb.Point{a[0] + t*rx, a[1] + t*ry}
	}
	return x
}

// interior reports whether q lies on ab strictly between its endpoints, and
// its parameter along ab.
func interior(a, b, q orb.Point) (float64, bool) {
	if q == a || q == b || cross(a, b, q) != 0 {
		return 0, false
	}
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := dx*dx + dy*dy
	if l == 0 {
		return 0, false
	}
	t := ((q[0]-a[0])*dx + (q[1]-a[1])*dy) / l
	return t, t > 0 && t < 1
}

// onSegment reports whether p lies on the closed segment ab.
func onSegment(a, b, p orb.Point) bool {
	if p == a || p == b {
		return true
	}
	_, ok := interior(a, b, p)
	return ok
}
