package exposure

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirection(t *testing.T) {
	tests := []struct {
		name   string
		p1, p2 orb.Point
		want   orb.Point
	}{
		{"Edge east faces south", orb.Point{0, 0}, orb.Point{0.0001, 0}, orb.Point{0, -1}},
		{"Edge west faces north", orb.Point{0.0001, 0}, orb.Point{0, 0}, orb.Point{0, 1}},
		{"Edge north faces east", orb.Point{0, 0}, orb.Point{0, 0.0001}, orb.Point{1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Direction(tt.p1, tt.p2)
			require.NoError(t, err)
			assert.InDelta(t, tt.want[0], got[0], 1e-9)
			assert.InDelta(t, tt.want[1], got[1], 1e-9)
			assert.InDelta(t, 1.0, math.Hypot(got[0], got[1]), 1e-12)
		})
	}
}

func TestDirection_Reversal(t *testing.T) {
	p1, p2 := orb.Point{116.397, 39.908}, orb.Point{116.3975, 39.9083}

	fwd, err := Direction(p1, p2)
	require.NoError(t, err)
	back, err := Direction(p2, p1)
	require.NoError(t, err)

	// Bearings at the two ends differ only by meridian convergence
	assert.InDelta(t, -fwd[0], back[0], 1e-5)
	assert.InDelta(t, -fwd[1], back[1], 1e-5)
}

func TestDirection_Coincident(t *testing.T) {
	_, err := Direction(orb.Point{1, 2}, orb.Point{1, 2})
	assert.True(t, errors.Is(err, geo.ErrCoincidentPoints))
}

func TestRecognitionDistance(t *testing.T) {
	c := NewCalculator(quietLogger(), 0, 0, 0)
	assert.InDelta(t, 343.77, c.RecognitionDistance(), 0.01)

	c = NewCalculator(quietLogger(), 0.02, 3, 64)
	assert.InDelta(t, 687.55, c.RecognitionDistance(), 0.01)
}

func TestRegion(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultFeatureSize, DefaultVisualAngle, 64)
	b := model.Billboard{
		ID:        "bb",
		Footprint: orb.LineString{{0, 0}, {0.0001, 0}},
		Base:      0,
		Height:    10,
	}

	r, err := c.Region(b)
	require.NoError(t, err)

	assert.Equal(t, "bb", r.BillboardID)
	assert.Equal(t, 5.0, r.Elevation)
	assert.InDelta(t, r.Distance*r.Distance, r.Radius*r.Radius+r.Elevation*r.Elevation, 1e-6)
	assert.InDelta(t, 343.738, r.Radius, 0.001)

	// Center lies south of the billboard, one recognition distance away
	assert.InDelta(t, 0.00005, r.Center[0], 1e-12)
	assert.InDelta(t, -r.Distance/geo.MetersPerDegree(), r.Center[1], 1e-12)
	assert.InDelta(t, r.Distance, geo.Distance(r.Origin, r.Center), 0.01)

	poly := c.Polygon(r)
	assert.Len(t, poly[0], 65)
}

func TestRegion_NoExposure(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultFeatureSize, DefaultVisualAngle, 64)
	b := model.Billboard{
		ID:        "tower",
		Footprint: orb.LineString{{0, 0}, {0.0001, 0}},
		Base:      400,
		Height:    10,
	}

	_, err := c.Region(b)
	assert.True(t, errors.Is(err, ErrNoExposure))
}

func TestRegion_InvalidFootprint(t *testing.T) {
	c := NewCalculator(quietLogger(), DefaultFeatureSize, DefaultVisualAngle, 64)

	_, err := c.Region(model.Billboard{ID: "x", Footprint: orb.LineString{{1, 1}}})
	assert.True(t, errors.Is(err, model.ErrInvalidFootprint))
}
