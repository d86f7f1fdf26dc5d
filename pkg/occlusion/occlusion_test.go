package occlusion

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"billboardvis/pkg/exposure"
	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// square returns a building of side meters centered on c.
func square(id string, c orb.Point, side, height float64) model.Building {
	h := side / 2
	sw := geo.OffsetPoint(geo.OffsetPoint(c, math.Pi, h), -math.Pi/2, h)
	se := geo.OffsetPoint(sw, 0, side)
	ne := geo.OffsetPoint(se, math.Pi/2, side)
	nw := geo.OffsetPoint(sw, math.Pi/2, side)
	return model.Building{
		ID:        id,
		Height:    height,
		Footprint: orb.MultiPolygon{{{sw, se, ne, nw, sw}}},
	}
}

// southFacing is a 10 m tall panel on the equator facing south.
func southFacing(t *testing.T) model.ExposureRegion {
	t.Helper()
	calc := exposure.NewCalculator(quietLogger(), exposure.DefaultFeatureSize, exposure.DefaultVisualAngle, 64)
	r, err := calc.Region(model.Billboard{
		ID:        "bb",
		Footprint: orb.LineString{{0, 0}, {0.0001, 0}},
		Height:    10,
	})
	require.NoError(t, err)
	return r
}

func TestProjection(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	origin := orb.Point{0, 0}
	b := square("low", orb.Point{0, -0.001}, 10, 2)

	ring, err := c.Projection(origin, 5, b)
	require.NoError(t, err)

	assert.Len(t, ring, 9)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	// z1=5, z2=2 puts every ground point 5/3 of the way out
	verts := b.Vertices()
	for _, g := range ring[:4] {
		found := false
		for _, v := range verts {
			if math.Abs(g[0]-v[0]*5/3) < 1e-15 && math.Abs(g[1]-v[1]*5/3) < 1e-15 {
				found = true
			}
		}
		assert.True(t, found, "ground point %v is not a projected vertex", g)
	}

	// Ground points ascend in angle, roof vertices descend
	for i := 1; i < 4; i++ {
		assert.LessOrEqual(t, math.Atan2(ring[i-1][1], ring[i-1][0]), math.Atan2(ring[i][1], ring[i][0]))
	}
	for i := 5; i < 8; i++ {
		assert.GreaterOrEqual(t, math.Atan2(ring[i-1][1], ring[i-1][0]), math.Atan2(ring[i][1], ring[i][0]))
	}
}

func TestProjection_EqualElevation(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	b := square("same", orb.Point{0, -0.001}, 10, 5)

	ring, err := c.Projection(orb.Point{0, 0}, 5, b)
	require.NoError(t, err)

	// The roof is lowered by one, so t = z1 = 5
	v := b.Vertices()[0]
	assert.Contains(t, []orb.Point(ring), orb.Point{5 * v[0], 5 * v[1]})
}

func TestProjection_InvalidFootprint(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	b := model.Building{ID: "line", Footprint: orb.MultiPolygon{{{{0, 0}, {1, 1}, {0, 0}}}}}

	_, err := c.Projection(orb.Point{0, 0}, 5, b)
	assert.True(t, errors.Is(err, model.ErrInvalidFootprint))
}

func TestArc(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	region := southFacing(t)
	b := square("tall", region.Center, 10, 20)

	ring, err := c.Arc(region, b)
	require.NoError(t, err)

	// first vertex, 33 arc points, last vertex, closing vertex
	require.Len(t, ring, DefaultArcSteps+4)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	for _, p := range ring[1 : DefaultArcSteps+2] {
		assert.InDelta(t, region.Radius, geo.Distance(region.Center, p), region.Radius*0.01)
		// The hidden sector is on the far side of the circle
		assert.Less(t, p[1], region.Center[1])
	}
}

func TestArc_TooFewIntersections(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	origin := orb.Point{0, 0}
	region := model.ExposureRegion{
		ID:          "gea-small",
		BillboardID: "small",
		Origin:      origin,
		Center:      geo.OffsetPoint(origin, -math.Pi/2, 300),
		Radius:      10,
		Elevation:   5,
	}
	b := square("east", geo.OffsetPoint(origin, 0, 55), 10, 30)

	_, err := c.Arc(region, b)
	assert.True(t, errors.Is(err, ErrTooFewIntersections))

	regions, errs := c.Regions(region, []model.Building{b})
	assert.Empty(t, regions)
	assert.Empty(t, errs)
}

func TestRegion_VariantByHeight(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	region := southFacing(t)

	tests := []struct {
		name   string
		height float64
		want   model.OcclusionKind
	}{
		{"Lower", 2, model.OcclusionProjection},
		{"Equal", 5, model.OcclusionProjection},
		{"Taller", 20, model.OcclusionArc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := square(tt.name, geo.OffsetPoint(region.Origin, -math.Pi/2, 100), 10, tt.height)
			r, err := c.Region(region, b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Kind)
			assert.Equal(t, region.ID, r.ExposureID)
			assert.Equal(t, "bb", r.BillboardID)
			assert.Equal(t, tt.name, r.BuildingID)
		})
	}
}

func TestRegions_PartialFailure(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultArcSteps)
	region := southFacing(t)

	broken := model.Building{ID: "broken", Footprint: orb.MultiPolygon{{{{0, 0}, {0, 0}}}}}
	good := square("good", geo.OffsetPoint(region.Origin, -math.Pi/2, 100), 10, 2)

	regions, errs := c.Regions(region, []model.Building{broken, good})
	require.Len(t, regions, 1)
	assert.Equal(t, "good", regions[0].BuildingID)

	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].BuildingID)
	assert.True(t, errors.Is(errs[0], model.ErrInvalidFootprint))
}
