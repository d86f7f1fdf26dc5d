package polygon

import (
	"errors"
	"fmt"
	"math"

	clipper "github.com/ctessum/go.clipper"
	"github.com/paulmach/orb"
)

// ErrClipFailed indicates a boolean operation whose result cannot be trusted.
var ErrClipFailed = errors.New("polygon clipping failed")

// Coordinates are snapped to an integer grid before clipping, which makes
// shared and nearly shared vertices of different inputs coincide exactly.
// The grid has at most maxScale steps per degree and its coordinates stay
// within ±maxCoord, where the clipper's 64-bit slope products cannot overflow.
const (
	maxScale = 1e9
	maxCoord = 1<<30 - 1
)

// areaSlack is the relative area error accepted by the consistency checks.
const areaSlack = 1e-6

// Union returns the region covered by a or b.
func Union(a, b orb.MultiPolygon) (orb.MultiPolygon, error) {
	switch {
	case len(a) == 0:
		return b.Clone(), nil
	case len(b) == 0:
		return a.Clone(), nil
	}
	out, g, err := clip(clipper.CtUnion, a, b)
	if err != nil {
		return nil, fmt.Errorf("union: %w", err)
	}
	u, tol := Area(out), g.tolerance(a, b)
	if u < math.Max(largestPart(a), largestPart(b))-tol || u > partSum(a)+partSum(b)+tol {
		return nil, fmt.Errorf("union: %w: area %g outside input bounds", ErrClipFailed, u)
	}
	return out, nil
}

// Intersection returns the region covered by both a and b.
func Intersection(a, b orb.MultiPolygon) (orb.MultiPolygon, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	if !a.Bound().Intersects(b.Bound()) {
		return nil, nil
	}
	out, g, err := clip(clipper.CtIntersection, a, b)
	if err != nil {
		return nil, fmt.Errorf("intersection: %w", err)
	}
	i, tol := Area(out), g.tolerance(a, b)
	if i > math.Min(partSum(a), partSum(b))+tol {
		return nil, fmt.Errorf("intersection: %w: area %g exceeds input", ErrClipFailed, i)
	}
	return out, nil
}

// Difference returns the region of a not covered by b.
func Difference(a, b orb.MultiPolygon) (orb.MultiPolygon, error) {
	if len(a) == 0 {
		return nil, nil
	}
	if len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return a.Clone(), nil
	}
	out, g, err := clip(clipper.CtDifference, a, b)
	if err != nil {
		return nil, fmt.Errorf("difference: %w", err)
	}
	d, tol := Area(out), g.tolerance(a, b)
	if d > partSum(a)+tol || d < largestPart(a)-partSum(b)-tol {
		return nil, fmt.Errorf("difference: %w: area %g outside input bounds", ErrClipFailed, d)
	}
	return out, nil
}

// UnionAll merges parts pairwise in a balanced tree, so each clip works on
// inputs of similar size. Parts may overlap each other freely.
func UnionAll(parts []orb.MultiPolygon) (orb.MultiPolygon, error) {
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0].Clone(), nil
	}
	mid := len(parts) / 2
	left, err := UnionAll(parts[:mid])
	if err != nil {
		return nil, err
	}
	right, err := UnionAll(parts[mid:])
	if err != nil {
		return nil, err
	}
	return Union(left, right)
}

// grid maps degrees to clipper integer coordinates relative to an origin.
type grid struct {
	origin orb.Point
	scale  float64
}

// newGrid fits a grid to b. The scale is a power of ten so that coordinates
// with few decimals map to exact integers.
func newGrid(b orb.Bound) grid {
	const cell = 1e-3
	origin := orb.Point{
		math.Floor(b.Min[0]/cell) * cell,
		math.Floor(b.Min[1]/cell) * cell,
	}
	extent := math.Max(b.Max[0]-origin[0], b.Max[1]-origin[1])
	scale := float64(maxScale)
	if extent > 0 {
		scale = math.Min(scale, math.Pow(10, math.Floor(math.Log10(maxCoord/extent))))
	}
	return grid{origin: origin, scale: scale}
}

func (g grid) toInt(p orb.Point) *clipper.IntPoint {
	return clipper.NewIntPoint(
		clipper.Round((p[0]-g.origin[0])*g.scale),
		clipper.Round((p[1]-g.origin[1])*g.scale),
	)
}

func (g grid) toPoint(q *clipper.IntPoint) orb.Point {
	return orb.Point{
		g.origin[0] + float64(q.X)/g.scale,
		g.origin[1] + float64(q.Y)/g.scale,
	}
}

// paths converts mp to clipper paths with shells positive and holes negative,
// as the non-zero fill rule expects.
func (g grid) paths(mp orb.MultiPolygon) (clipper.Paths, error) {
	var out clipper.Paths
	for _, poly := range mp {
		for k, ring := range poly {
			path := make(clipper.Path, 0, len(ring))
			for _, p := range ring {
				if !finite(p[0]) || !finite(p[1]) {
					return nil, fmt.Errorf("%w: non-finite coordinate", ErrClipFailed)
				}
				q := g.toInt(p)
				if n := len(path); n > 0 && *path[n-1] == *q {
					continue
				}
				path = append(path, q)
			}
			for len(path) > 1 && *path[0] == *path[len(path)-1] {
				path = path[:len(path)-1]
			}
			if len(path) < 3 {
				continue
			}
			if clipper.Orientation(path) != (k == 0) {
				reversePath(path)
			}
			out = append(out, path)
		}
	}
	return out, nil
}

func reversePath(p clipper.Path) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}

// clip runs op on a and b under the non-zero fill rule, so overlapping parts
// within either input are treated as covered once.
func clip(op clipper.ClipType, a, b orb.MultiPolygon) (out orb.MultiPolygon, g grid, err error) {
	g = newGrid(a.Bound().Union(b.Bound()))
	subject, err := g.paths(a)
	if err != nil {
		return nil, g, err
	}
	clipping, err := g.paths(b)
	if err != nil {
		return nil, g, err
	}

	// The clipper reports coordinate range and topology errors by panicking.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrClipFailed, r)
		}
	}()

	c := clipper.NewClipper(clipper.IoStrictlySimple)
	c.AddPaths(subject, clipper.PtSubject, true)
	c.AddPaths(clipping, clipper.PtClip, true)
	tree, ok := c.Execute2(op, clipper.PftNonZero, clipper.PftNonZero)
	if !ok || tree == nil {
		return nil, g, ErrClipFailed
	}
	for _, node := range tree.Childs() {
		out = g.collect(out, node)
	}
	return out, g, nil
}

// collect appends the polygon rooted at the outer node n and, recursively,
// the islands nested in its holes. Shells are counter-clockwise and holes
// clockwise.
func (g grid) collect(out orb.MultiPolygon, n *clipper.PolyNode) orb.MultiPolygon {
	shell := g.ring(n.Contour(), orb.CCW)
	if shell == nil {
		return out
	}
	poly := orb.Polygon{shell}
	var islands []*clipper.PolyNode
	for _, h := range n.Childs() {
		if hole := g.ring(h.Contour(), orb.CW); hole != nil {
			poly = append(poly, hole)
		}
		islands = append(islands, h.Childs()...)
	}
	out = append(out, poly)
	for _, island := range islands {
		out = g.collect(out, island)
	}
	return out
}

// ring closes path as an orb ring with the given orientation, or returns nil
// when it has no area.
func (g grid) ring(path clipper.Path, o orb.Orientation) orb.Ring {
	if len(path) < 3 {
		return nil
	}
	r := make(orb.Ring, 0, len(path)+1)
	for _, q := range path {
		r = append(r, g.toPoint(q))
	}
	r = append(r, r[0])
	if math.Abs(signedArea(r)) <= areaTolerance(r) {
		return nil
	}
	if r.Orientation() != o {
		r.Reverse()
	}
	return r
}

// tolerance bounds the area change caused by snapping a and b to the grid.
func (g grid) tolerance(a, b orb.MultiPolygon) float64 {
	perimeter := boundaryLength(a) + boundaryLength(b)
	return perimeter/g.scale + areaSlack*(partSum(a)+partSum(b))
}

func boundaryLength(mp orb.MultiPolygon) float64 {
	var l float64
	for _, poly := range mp {
		for _, r := range poly {
			for i := 0; i+1 < len(r); i++ {
				l += math.Hypot(r[i+1][0]-r[i][0], r[i+1][1]-r[i][1])
			}
		}
	}
	return l
}

// partSum is the summed area of the parts of mp, counting overlaps twice.
func partSum(mp orb.MultiPolygon) float64 {
	var s float64
	for _, p := range mp {
		s += polyArea(p)
	}
	return s
}

func largestPart(mp orb.MultiPolygon) float64 {
	var m float64
	for _, p := range mp {
		m = math.Max(m, polyArea(p))
	}
	return m
}

// polyArea is the shell area minus hole areas, independent of orientation.
func polyArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	a := math.Abs(signedArea(p[0]))
	for _, h := range p[1:] {
		a -= math.Abs(signedArea(h))
	}
	return math.Max(a, 0)
}
