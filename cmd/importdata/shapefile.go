package main

import (
	"fmt"
	"strconv"
	"strings"

	"billboardvis/pkg/model"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// readShapefile reads polygon shapes as buildings. Heights come from the
// heightField attribute; a missing or blank value is 0. Shapes that cannot be
// used are reported and skipped.
func readShapefile(path, heightField, idField string) ([]model.Building, []error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to open shapefile: %w", err)}
	}
	defer shape.Close()

	heightIdx, idIdx := -1, -1
	for i, f := range shape.Fields() {
		switch name := f.String(); {
		case strings.EqualFold(name, heightField):
			heightIdx = i
		case idField != "" && strings.EqualFold(name, idField):
			idIdx = i
		}
	}

	var (
		out  []model.Building
		errs []error
	)
	for shape.Next() {
		n, p := shape.Shape()

		id := fmt.Sprintf("building-%d", n)
		if idIdx >= 0 {
			if v := attribute(shape, n, idIdx); v != "" {
				id = v
			}
		}

		var footprint orb.MultiPolygon
		switch s := p.(type) {
		case *shp.Null:
			continue
		case *shp.Polygon:
			footprint = convertRings(s.Parts, s.Points)
		case *shp.PolygonZ:
			footprint = convertRings(s.Parts, s.Points)
		default:
			errs = append(errs, fmt.Errorf("building %s: unsupported shape type %T", id, p))
			continue
		}

		var height float64
		if heightIdx >= 0 {
			if v := attribute(shape, n, heightIdx); v != "" {
				h, err := strconv.ParseFloat(v, 64)
				if err != nil {
					errs = append(errs, fmt.Errorf("building %s: height %q: %w", id, v, err))
					continue
				}
				height = h
			}
		}

		b := model.Building{ID: id, Footprint: footprint, Height: height}
		if len(b.Vertices()) < 3 {
			errs = append(errs, fmt.Errorf("building %s: %w: fewer than 3 vertices", id, model.ErrInvalidFootprint))
			continue
		}
		out = append(out, b)
	}

	if err := shape.Err(); err != nil {
		errs = append(errs, fmt.Errorf("error iterating shapes: %w", err))
	}
	return out, errs
}

// attribute reads a DBF value; unused field bytes are NUL padded.
func attribute(r *shp.Reader, row, field int) string {
	return strings.Trim(r.ReadAttribute(row, field), " \x00")
}

// convertRings splits shapefile parts into polygons. Outer rings are
// clockwise and start a new polygon; counter-clockwise rings are holes of the
// polygon before them. Output follows GeoJSON winding.
func convertRings(parts []int32, points []shp.Point) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i < len(parts)-1 {
			end = int(parts[i+1])
		}
		if start >= end || end > len(points) {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}

		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			ring.Reverse()
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
			continue
		}
		if ring.Orientation() == orb.CW {
			ring.Reverse()
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}
