// Package occlusion computes the parts of an exposure region (IA) hidden
// behind buildings.
package occlusion

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/logging"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
)

var (
	// ErrTooFewIntersections indicates fewer than two sightlines through a
	// building reach the exposure circle. The building is skipped.
	ErrTooFewIntersections = errors.New("fewer than two sightlines reach the exposure circle")
	// ErrDegenerate indicates a building that produced a ring without area.
	ErrDegenerate = errors.New("degenerate occlusion ring")
)

// DefaultArcSteps is the number of equal angular steps of an arc sweep.
const DefaultArcSteps = 32

// BuildingError records a building whose occlusion could not be computed.
type BuildingError struct {
	BuildingID string
	Err        error
}

func (e *BuildingError) Error() string {
	return fmt.Sprintf("building %s: %v", e.BuildingID, e.Err)
}

func (e *BuildingError) Unwrap() error {
	return e.Err
}

// Calculator builds occlusion polygons for one exposure region at a time.
type Calculator struct {
	arcSteps int
	logger   *slog.Logger
}

// NewCalculator creates a calculator. arcSteps below 1 falls back to
// DefaultArcSteps.
func NewCalculator(logger *slog.Logger, arcSteps int) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	if arcSteps < 1 {
		arcSteps = DefaultArcSteps
	}
	return &Calculator{arcSteps: arcSteps, logger: logger}
}

type projected struct {
	vertex, ground           orb.Point
	vertexAngle, groundAngle float64
}

// Projection casts the sightline from the billboard at (origin, elevation)
// through every roof vertex of b down to the ground plane. The ring is the
// ground points in ascending angle followed by the roof vertices in
// descending angle, closed.
func (c *Calculator) Projection(origin orb.Point, elevation float64, b model.Building) (orb.Ring, error) {
	verts := b.Vertices()
	if len(verts) < 3 {
		return nil, fmt.Errorf("%w: %d vertices", model.ErrInvalidFootprint, len(verts))
	}

	z1 := elevation
	z2 := b.Height
	if z1 == z2 {
		z2 -= 1
	}
	t := -z1 / (z2 - z1)

	pts := make([]projected, 0, len(verts))
	for _, v := range verts {
		g := orb.Point{
			origin[0] + t*(v[0]-origin[0]),
			origin[1] + t*(v[1]-origin[1]),
		}
		pts = append(pts, projected{
			vertex:      v,
			ground:      g,
			vertexAngle: math.Atan2(v[1]-origin[1], v[0]-origin[0]),
			groundAngle: math.Atan2(g[1]-origin[1], g[0]-origin[0]),
		})
		logging.Trace(c.logger, "Projected vertex", "building", b.ID, "vertex", v, "ground", g)
	}

	ring := make(orb.Ring, 0, 2*len(pts)+1)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].groundAngle < pts[j].groundAngle })
	for _, p := range pts {
		ring = append(ring, p.ground)
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].vertexAngle > pts[j].vertexAngle })
	for _, p := range pts {
		ring = append(ring, p.vertex)
	}
	ring = append(ring, ring[0])

	if distinct(ring) < 3 {
		return nil, ErrDegenerate
	}
	return ring, nil
}

type hit struct {
	vertex orb.Point
	rel    float64 // angle relative to the bearing toward the circle center
}

// Arc covers the sector of the exposure circle behind a building taller than
// the billboard. Each roof vertex whose sightline from the billboard passes
// within the circle contributes a hit; the extreme hits anchor an arc swept
// along the circle boundary.
func (c *Calculator) Arc(region model.ExposureRegion, b model.Building) (orb.Ring, error) {
	verts := b.Vertices()
	if len(verts) < 3 {
		return nil, fmt.Errorf("%w: %d vertices", model.ErrInvalidFootprint, len(verts))
	}

	origin := region.Origin
	distToCenter := geo.Distance(origin, region.Center)
	toCenter := geo.PlanarAngle(origin, region.Center)

	var hits []hit
	for _, v := range verts {
		angle := geo.PlanarAngle(origin, v)
		d := distToCenter * math.Sin(angle-toCenter)
		if math.Abs(d) > region.Radius {
			continue
		}
		hits = append(hits, hit{vertex: v, rel: geo.NormalizeRadians(angle - toCenter)})
		logging.Trace(c.logger, "Sightline hits exposure circle", "building", b.ID, "vertex", v, "offset", d)
	}
	if len(hits) < 2 {
		return nil, fmt.Errorf("%w: %d of %d", ErrTooFewIntersections, len(hits), len(verts))
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rel < hits[j].rel })
	first, last := hits[0], hits[len(hits)-1]
	start := toCenter + first.rel
	end := toCenter + last.rel

	ring := make(orb.Ring, 0, c.arcSteps+4)
	ring = append(ring, first.vertex)
	for i := 0; i <= c.arcSteps; i++ {
		angle := start + float64(i)*(end-start)/float64(c.arcSteps)
		ring = append(ring, geo.OffsetPoint(region.Center, angle, region.Radius))
	}
	ring = append(ring, last.vertex, first.vertex)

	if distinct(ring) < 3 {
		return nil, ErrDegenerate
	}
	return ring, nil
}

// Region picks the variant by height: buildings no taller than the billboard
// center cast a ground projection, taller ones hide an arc.
func (c *Calculator) Region(region model.ExposureRegion, b model.Building) (model.OcclusionRegion, error) {
	var (
		ring orb.Ring
		kind model.OcclusionKind
		err  error
	)
	if b.Height <= region.Elevation {
		kind = model.OcclusionProjection
		ring, err = c.Projection(region.Origin, region.Elevation, b)
	} else {
		kind = model.OcclusionArc
		ring, err = c.Arc(region, b)
	}
	if err != nil {
		return model.OcclusionRegion{}, err
	}

	return model.OcclusionRegion{
		ID:          fmt.Sprintf("ia-%s-%s", region.BillboardID, b.ID),
		ExposureID:  region.ID,
		BillboardID: region.BillboardID,
		BuildingID:  b.ID,
		Kind:        kind,
		Ring:        ring,
	}, nil
}

// Regions computes the occlusion of every building against region. A building
// that fails, or panics, is reported and skipped; the rest still run.
// Buildings whose sightlines miss the circle are skipped silently.
func (c *Calculator) Regions(region model.ExposureRegion, buildings []model.Building) ([]model.OcclusionRegion, []*BuildingError) {
	var (
		out  []model.OcclusionRegion
		errs []*BuildingError
	)
	for i := range buildings {
		r, err := c.safeRegion(region, buildings[i])
		switch {
		case err == nil:
			out = append(out, r)
		case errors.Is(err, ErrTooFewIntersections):
			c.logger.Debug("Building does not occlude", "billboard", region.BillboardID, "building", buildings[i].ID)
		default:
			c.logger.Warn("Occlusion failed", "billboard", region.BillboardID, "building", buildings[i].ID, "error", err)
			errs = append(errs, &BuildingError{BuildingID: buildings[i].ID, Err: err})
		}
	}
	return out, errs
}

func (c *Calculator) safeRegion(region model.ExposureRegion, b model.Building) (r model.OcclusionRegion, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Region(region, b)
}

func distinct(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}
