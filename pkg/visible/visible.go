// Package visible composes the visible area (VA): the exposure regions with
// every occluded part removed.
package visible

import (
	"fmt"
	"log/slog"

	"billboardvis/pkg/model"
	"billboardvis/pkg/polygon"

	"github.com/paulmach/orb"
)

// Compositor merges exposure and occlusion regions into one visible region.
type Compositor struct {
	segments int
	logger   *slog.Logger
}

// NewCompositor creates a compositor that renders exposure circles with the
// given number of segments.
func NewCompositor(logger *slog.Logger, segments int) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	if segments < 3 {
		segments = polygon.DefaultSegments
	}
	return &Compositor{segments: segments, logger: logger}
}

// Compose unions all exposure circles, unions all occlusion rings, and
// removes their intersection from the exposure union. Invalid inputs are
// repaired first; an input that cannot be repaired is dropped with a warning.
// The result is validated and repaired once more; if it is still invalid the
// error wraps polygon.ErrInvalidGeometry. A boolean operation that fails its
// area checks aborts with an error wrapping polygon.ErrClipFailed.
func (c *Compositor) Compose(exposures []model.ExposureRegion, occlusions []model.OcclusionRegion) (model.VisibleRegion, error) {
	exp := make([]orb.MultiPolygon, 0, len(exposures))
	for _, e := range exposures {
		mp, err := c.repair(orb.MultiPolygon{polygon.Circle(e.Center, e.Radius, c.segments)})
		if err != nil {
			c.logger.Warn("Dropping exposure region", "billboard", e.BillboardID, "error", err)
			continue
		}
		exp = append(exp, mp)
	}

	occ := make([]orb.MultiPolygon, 0, len(occlusions))
	for _, o := range occlusions {
		mp, err := polygon.RepairRing(o.Ring)
		if err != nil {
			c.logger.Warn("Dropping occlusion region", "billboard", o.BillboardID, "building", o.BuildingID, "error", err)
			continue
		}
		if len(mp) > 0 {
			occ = append(occ, mp)
		}
	}

	exposed, err := polygon.UnionAll(exp)
	if err != nil {
		return model.VisibleRegion{}, fmt.Errorf("exposure union: %w", err)
	}
	blocked, err := polygon.UnionAll(occ)
	if err != nil {
		return model.VisibleRegion{}, fmt.Errorf("occlusion union: %w", err)
	}
	hidden, err := polygon.Intersection(exposed, blocked)
	if err != nil {
		return model.VisibleRegion{}, fmt.Errorf("hidden area: %w", err)
	}
	result, err := polygon.Difference(exposed, hidden)
	if err != nil {
		return model.VisibleRegion{}, fmt.Errorf("visible area: %w", err)
	}

	if result, err = c.repair(result); err != nil {
		return model.VisibleRegion{}, fmt.Errorf("visible area: %w", err)
	}

	area := polygon.Area(result)
	c.logger.Debug("Visible area composed",
		"exposures", len(exp),
		"occlusions", len(occ),
		"parts", len(result),
		"area", area)

	return model.VisibleRegion{Geometry: result, Area: area}, nil
}

func (c *Compositor) repair(mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	if polygon.Validate(mp) == nil {
		return mp, nil
	}
	return polygon.MakeValid(mp)
}
