package pipeline

import (
	"context"
	"errors"
	"testing"

	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTraces struct {
	points []model.TracePoint
	err    error
	asked  orb.Bound
}

func (m *memTraces) TracePointsInBound(_ context.Context, b orb.Bound) ([]model.TracePoint, error) {
	m.asked = b
	if m.err != nil {
		return nil, m.err
	}
	var out []model.TracePoint
	for _, p := range m.points {
		if b.Contains(p.Position) {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestTracesInRegion(t *testing.T) {
	// L-shaped region: the bound covers (1.5, 1.5) but the region does not.
	va := &model.VisibleRegion{Geometry: orb.MultiPolygon{{{
		{0, 0}, {2, 0}, {2, 1}, {1, 1}, {1, 2}, {0, 2}, {0, 0},
	}}}}
	src := &memTraces{points: []model.TracePoint{
		{ID: 1, VehicleID: "bus", Position: orb.Point{0.5, 0.5}},
		{ID: 2, VehicleID: "bus", Position: orb.Point{1.5, 0.5}},
		{ID: 3, VehicleID: "cab", Position: orb.Point{0.5, 1.5}},
		{ID: 4, VehicleID: "cab", Position: orb.Point{1.5, 1.5}},
		{ID: 5, VehicleID: "van", Position: orb.Point{9, 9}},
	}}

	rep, err := TracesInRegion(context.Background(), src, va)
	require.NoError(t, err)
	assert.Equal(t, va.Geometry.Bound(), src.asked)

	var ids []int64
	for _, p := range rep.Points {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, []VehicleCount{{"bus", 2}, {"cab", 1}}, rep.Vehicles)
}

func TestTracesInRegion_Empty(t *testing.T) {
	src := &memTraces{err: errors.New("unused")}
	rep, err := TracesInRegion(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Points)
	assert.NotNil(t, rep.Vehicles)
}

func TestTracesInRegion_SourceError(t *testing.T) {
	src := &memTraces{err: errors.New("db closed")}
	va := &model.VisibleRegion{Geometry: orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}}
	_, err := TracesInRegion(context.Background(), src, va)
	assert.ErrorContains(t, err, "db closed")
}
