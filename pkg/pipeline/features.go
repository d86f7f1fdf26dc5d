package pipeline

import (
	"billboardvis/pkg/exposure"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature type tags carried in the "type" property.
const (
	TypeExposureArea  = "exposure_area"
	TypeOcclusionArea = "occlusion_area"
	TypeVisibleArea   = "visible_area"
)

// ExposureFeatures renders exposure regions as circle polygons.
func ExposureFeatures(calc *exposure.Calculator, regions []model.ExposureRegion) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range regions {
		f := geojson.NewFeature(calc.Polygon(r))
		f.ID = r.ID
		f.Properties["type"] = TypeExposureArea
		f.Properties["billboard_id"] = r.BillboardID
		f.Properties["billboard_height"] = r.Elevation
		f.Properties["center"] = []float64{r.Center[0], r.Center[1]}
		f.Properties["radius"] = r.Radius
		f.Properties["distance"] = r.Distance
		fc.Append(f)
	}
	return fc
}

// OcclusionFeatures renders occlusion regions as polygons tagged with their kind.
func OcclusionFeatures(regions []model.OcclusionRegion) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range regions {
		f := geojson.NewFeature(orb.Polygon{r.Ring})
		f.ID = r.ID
		f.Properties["type"] = TypeOcclusionArea
		f.Properties["kind"] = string(r.Kind)
		f.Properties["billboard_id"] = r.BillboardID
		f.Properties["building_id"] = r.BuildingID
		fc.Append(f)
	}
	return fc
}

// VisibleFeatures renders the visible region as a single MultiPolygon
// feature, however many parts it has. An empty region yields an empty
// collection.
func VisibleFeatures(va *model.VisibleRegion) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if va == nil || len(va.Geometry) == 0 {
		return fc
	}

	f := geojson.NewFeature(va.Geometry.Clone())
	f.Properties["type"] = TypeVisibleArea
	f.Properties["area"] = va.Area
	fc.Append(f)
	return fc
}

// StageFeatures renders the stored output of stage.
func (e *Engine) StageFeatures(s *Session, stage Stage) *geojson.FeatureCollection {
	switch stage {
	case StageExposure:
		rs, _ := s.Exposures()
		return ExposureFeatures(e.exposure, rs)
	case StageOcclusion:
		rs, _ := s.Occlusions()
		return OcclusionFeatures(rs)
	case StageVisible:
		return VisibleFeatures(s.Visible())
	}
	return geojson.NewFeatureCollection()
}
