package model

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ErrInvalidFootprint indicates a billboard or building geometry that cannot be analysed.
var ErrInvalidFootprint = errors.New("invalid footprint")

// Billboard is a single advertising panel placed in 3D.
type Billboard struct {
	ID string `json:"id"`

	// Footprint is the ordered face of the panel as [lon, lat] vertices.
	// The order of the first two vertices fixes the facing side.
	Footprint orb.LineString `json:"footprint"`

	Base   float64 `json:"base"`   // Elevation of the panel's lower edge (m)
	Height float64 `json:"height"` // Panel height (m)
}

// Vertices returns the footprint without a trailing closing vertex.
func (b *Billboard) Vertices() []orb.Point {
	return openRing(b.Footprint)
}

// Center returns the mean of the footprint vertices.
func (b *Billboard) Center() orb.Point {
	pts := b.Vertices()
	if len(pts) == 0 {
		return orb.Point{}
	}
	var lon, lat float64
	for _, p := range pts {
		lon += p[0]
		lat += p[1]
	}
	n := float64(len(pts))
	return orb.Point{lon / n, lat / n}
}

// Elevation returns the height of the panel center above ground (m).
func (b *Billboard) Elevation() float64 {
	return b.Base + b.Height/2
}

// FacingEdge returns the two vertices that define the panel's facing direction.
func (b *Billboard) FacingEdge() (orb.Point, orb.Point, error) {
	pts := b.Vertices()
	if len(pts) < 2 {
		return orb.Point{}, orb.Point{}, fmt.Errorf("billboard %s: %w: need 2 vertices, got %d", b.ID, ErrInvalidFootprint, len(pts))
	}
	return pts[0], pts[1], nil
}

// Building is a footprint extruded to a uniform height.
type Building struct {
	ID        string           `json:"id"`
	Footprint orb.MultiPolygon `json:"footprint"`
	Height    float64          `json:"height"` // Missing heights are stored as 0
}

// Vertices returns every distinct exterior-ring vertex of every part.
func (b *Building) Vertices() []orb.Point {
	var pts []orb.Point
	for _, poly := range b.Footprint {
		if len(poly) == 0 {
			continue
		}
		pts = append(pts, openRing(orb.LineString(poly[0]))...)
	}
	return pts
}

// OcclusionKind tags how an occlusion polygon was built.
type OcclusionKind string

const (
	// OcclusionProjection is the ground shadow of a building lower than the panel.
	OcclusionProjection OcclusionKind = "projection"
	// OcclusionArc is the sector of the exposure circle hidden by a taller building.
	OcclusionArc OcclusionKind = "arc"
)

// ExposureRegion is the recognition-distance circle of one billboard (GEA).
type ExposureRegion struct {
	ID          string    `json:"id"`
	BillboardID string    `json:"billboard_id"`
	Origin      orb.Point `json:"origin"`    // Billboard planar center
	Center      orb.Point `json:"center"`    // Circle center
	Radius      float64   `json:"radius"`    // Horizontal radius (m)
	Distance    float64   `json:"distance"`  // Recognition distance (m)
	Elevation   float64   `json:"elevation"` // Billboard center elevation (m)
}

// OcclusionRegion is the part of an exposure region blocked by one building (IA).
type OcclusionRegion struct {
	ID          string        `json:"id"`
	ExposureID  string        `json:"exposure_id"`
	BillboardID string        `json:"billboard_id"`
	BuildingID  string        `json:"building_id"`
	Kind        OcclusionKind `json:"kind"`
	Ring        orb.Ring      `json:"ring"`
}

// VisibleRegion is the union of all exposure regions minus every occlusion (VA).
type VisibleRegion struct {
	Geometry orb.MultiPolygon `json:"geometry"`
	Area     float64          `json:"area"` // Planar area in square degrees
}

// TracePoint is a single GPS fix of a vehicle trace.
type TracePoint struct {
	ID         int64     `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	Position   orb.Point `json:"position"`
	RecordedAt string    `json:"recorded_at,omitempty"`
}

// openRing drops repeated consecutive vertices and a closing duplicate.
func openRing(ls orb.LineString) []orb.Point {
	pts := make([]orb.Point, 0, len(ls))
	for _, p := range ls {
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts
}
