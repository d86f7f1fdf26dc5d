package geo

import (
	"encoding/json"
	"fmt"
	"os"

	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BillboardLayerID is the layer that carries billboards in a layer envelope.
const BillboardLayerID = "billboards-3d"

// ItemError is an input-shape error for one feature of a collection.
// Decoding continues past it.
type ItemError struct {
	Index int
	ID    string
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("feature %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// LoadFeatureCollection reads a GeoJSON FeatureCollection from disk.
func LoadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson %s: %w", path, err)
	}

	fc, err := UnwrapLayers(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson %s: %w", path, err)
	}
	return fc, nil
}

type layerEnvelope struct {
	Billboards []struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	} `json:"billboards"`
}

// UnwrapLayers accepts either a bare FeatureCollection or the layer envelope
// {"billboards":[{"id":"billboards-3d","data":<FeatureCollection>}]} and returns
// the billboard features. Layers with a different id are ignored.
func UnwrapLayers(data []byte) (*geojson.FeatureCollection, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	if _, ok := probe["billboards"]; !ok {
		return geojson.UnmarshalFeatureCollection(data)
	}

	var env layerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid layer envelope: %w", err)
	}

	out := geojson.NewFeatureCollection()
	for _, layer := range env.Billboards {
		if layer.ID != BillboardLayerID || len(layer.Data) == 0 {
			continue
		}
		fc, err := geojson.UnmarshalFeatureCollection(layer.Data)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", layer.ID, err)
		}
		out.Features = append(out.Features, fc.Features...)
	}
	return out, nil
}

// DecodeBillboards converts features into billboards. Polygon features use
// their outer ring; LineString and MultiPoint are taken as-is.
func DecodeBillboards(fc *geojson.FeatureCollection) ([]model.Billboard, []ItemError) {
	var (
		out  []model.Billboard
		errs []ItemError
	)
	if fc == nil {
		return nil, nil
	}

	for i, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			id = fmt.Sprintf("billboard-%d", i)
		}

		b, err := decodeBillboard(f, id)
		if err != nil {
			errs = append(errs, ItemError{Index: i, ID: id, Err: err})
			continue
		}
		out = append(out, b)
	}
	return out, errs
}

func decodeBillboard(f *geojson.Feature, id string) (model.Billboard, error) {
	var footprint orb.LineString
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			footprint = orb.LineString(g[0])
		}
	case orb.LineString:
		footprint = g
	case orb.MultiPoint:
		footprint = orb.LineString(g)
	default:
		return model.Billboard{}, fmt.Errorf("billboard geometry %T: %w", f.Geometry, ErrUnsupportedGeometry)
	}

	base, _, err := getFloatProp(f.Properties, "base")
	if err != nil {
		return model.Billboard{}, err
	}
	height, _, err := getFloatProp(f.Properties, "height")
	if err != nil {
		return model.Billboard{}, err
	}

	b := model.Billboard{ID: id, Footprint: footprint, Base: base, Height: height}
	if _, _, err := b.FacingEdge(); err != nil {
		return model.Billboard{}, err
	}
	return b, nil
}

// DecodeBuildings converts features into buildings. A missing, null or empty
// height decodes to 0.
func DecodeBuildings(fc *geojson.FeatureCollection) ([]model.Building, []ItemError) {
	var (
		out  []model.Building
		errs []ItemError
	)
	if fc == nil {
		return nil, nil
	}

	for i, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			id = fmt.Sprintf("building-%d", i)
		}

		var footprint orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			footprint = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			footprint = g
		default:
			errs = append(errs, ItemError{Index: i, ID: id, Err: fmt.Errorf("building geometry %T: %w", f.Geometry, ErrUnsupportedGeometry)})
			continue
		}

		height, _, err := getFloatProp(f.Properties, "height")
		if err != nil {
			errs = append(errs, ItemError{Index: i, ID: id, Err: err})
			continue
		}

		b := model.Building{ID: id, Footprint: footprint, Height: height}
		if len(b.Vertices()) < 3 {
			errs = append(errs, ItemError{Index: i, ID: id, Err: fmt.Errorf("building %s: %w: fewer than 3 vertices", id, model.ErrInvalidFootprint)})
			continue
		}
		out = append(out, b)
	}
	return out, errs
}

// BuildingFeature renders a building back into a GeoJSON feature.
func BuildingFeature(b model.Building) *geojson.Feature {
	var g orb.Geometry = b.Footprint
	if len(b.Footprint) == 1 {
		g = b.Footprint[0]
	}
	f := geojson.NewFeature(g)
	f.ID = b.ID
	f.Properties["id"] = b.ID
	f.Properties["height"] = b.Height
	return f
}
