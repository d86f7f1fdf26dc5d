package pipeline

import (
	"context"
	"fmt"
	"sort"

	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// TraceSource returns GPS fixes inside a bounding box.
type TraceSource interface {
	TracePointsInBound(ctx context.Context, b orb.Bound) ([]model.TracePoint, error)
}

// VehicleCount is the number of fixes one vehicle recorded inside a region.
type VehicleCount struct {
	VehicleID string `json:"vehicle_id"`
	Points    int    `json:"points"`
}

// TraceReport lists the GPS fixes inside the visible region.
type TraceReport struct {
	Points   []model.TracePoint `json:"points"`
	Vehicles []VehicleCount     `json:"vehicles"`
}

// TracesInRegion returns the trace points lying inside va. The source is
// queried by bounding box and every candidate is then tested exactly.
func TracesInRegion(ctx context.Context, src TraceSource, va *model.VisibleRegion) (TraceReport, error) {
	rep := TraceReport{Points: []model.TracePoint{}, Vehicles: []VehicleCount{}}
	if va == nil || len(va.Geometry) == 0 {
		return rep, nil
	}

	candidates, err := src.TracePointsInBound(ctx, va.Geometry.Bound())
	if err != nil {
		return TraceReport{}, fmt.Errorf("failed to load trace points: %w", err)
	}

	counts := make(map[string]int)
	for _, p := range candidates {
		if planar.MultiPolygonContains(va.Geometry, p.Position) {
			rep.Points = append(rep.Points, p)
			counts[p.VehicleID]++
		}
	}

	for id, n := range counts {
		rep.Vehicles = append(rep.Vehicles, VehicleCount{VehicleID: id, Points: n})
	}
	sort.Slice(rep.Vehicles, func(i, j int) bool {
		if rep.Vehicles[i].Points != rep.Vehicles[j].Points {
			return rep.Vehicles[i].Points > rep.Vehicles[j].Points
		}
		return rep.Vehicles[i].VehicleID < rep.Vehicles[j].VehicleID
	})
	return rep, nil
}
