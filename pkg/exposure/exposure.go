// Package exposure computes the ground exposure area (GEA) of a billboard: the
// circle on the ground from which its features can still be resolved.
package exposure

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"
	"billboardvis/pkg/polygon"

	"github.com/paulmach/orb"
)

// ErrNoExposure indicates a billboard mounted higher than its recognition
// distance; no ground point can resolve it.
var ErrNoExposure = errors.New("no exposure region")

const (
	// DefaultFeatureSize is the smallest feature a viewer must resolve (m).
	DefaultFeatureSize = 0.01
	// DefaultVisualAngle is the visual acuity threshold in arc seconds.
	DefaultVisualAngle = 3.0
)

// Direction returns the unit vector [east, north] perpendicular to the edge
// p1→p2, rotated 90° clockwise from the edge bearing. Swapping p1 and p2
// reverses it.
func Direction(p1, p2 orb.Point) (orb.Point, error) {
	if p1 == p2 {
		return orb.Point{}, fmt.Errorf("direction %v: %w", p1, geo.ErrCoincidentPoints)
	}
	bearing := geo.Bearing(p1, p2) + math.Pi/2
	return orb.Point{math.Sin(bearing), math.Cos(bearing)}, nil
}

// Calculator turns billboards into exposure regions.
type Calculator struct {
	featureSize float64
	visualAngle float64
	segments    int
	logger      *slog.Logger
}

// NewCalculator creates a calculator for the given feature size (m) and visual
// angle (arc seconds). Non-positive values fall back to the defaults.
func NewCalculator(logger *slog.Logger, featureSize, visualAngle float64, segments int) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	if featureSize <= 0 {
		featureSize = DefaultFeatureSize
	}
	if visualAngle <= 0 {
		visualAngle = DefaultVisualAngle
	}
	if segments < 3 {
		segments = polygon.DefaultSegments
	}
	return &Calculator{
		featureSize: featureSize,
		visualAngle: visualAngle,
		segments:    segments,
		logger:      logger,
	}
}

// RecognitionDistance is the slant distance (m) at which featureSize spans
// exactly the visual angle.
func (c *Calculator) RecognitionDistance() float64 {
	alpha := c.visualAngle * math.Pi / (180 * 3600)
	return c.featureSize / (2 * alpha)
}

// Region computes the exposure circle of b. The circle center lies one
// recognition distance in front of the billboard; its radius is the
// horizontal leg left once the billboard elevation is taken off.
func (c *Calculator) Region(b model.Billboard) (model.ExposureRegion, error) {
	p1, p2, err := b.FacingEdge()
	if err != nil {
		return model.ExposureRegion{}, err
	}
	dir, err := Direction(p1, p2)
	if err != nil {
		return model.ExposureRegion{}, fmt.Errorf("billboard %s: %w", b.ID, err)
	}

	distance := c.RecognitionDistance()
	elevation := b.Elevation()
	if elevation >= distance {
		return model.ExposureRegion{}, fmt.Errorf("billboard %s at %.1fm, recognition distance %.1fm: %w",
			b.ID, elevation, distance, ErrNoExposure)
	}

	origin := b.Center()
	offset := distance / geo.MetersPerDegree()
	region := model.ExposureRegion{
		ID:          "gea-" + b.ID,
		BillboardID: b.ID,
		Origin:      origin,
		Center:      orb.Point{origin[0] + offset*dir[0], origin[1] + offset*dir[1]},
		Radius:      math.Sqrt(distance*distance - elevation*elevation),
		Distance:    distance,
		Elevation:   elevation,
	}

	c.logger.Debug("Exposure region computed",
		"billboard", b.ID,
		"center", region.Center,
		"radius", region.Radius)
	return region, nil
}

// Polygon renders r as a closed circle polygon.
func (c *Calculator) Polygon(r model.ExposureRegion) orb.Polygon {
	return polygon.Circle(r.Center, r.Radius, c.segments)
}
