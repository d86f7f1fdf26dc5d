package spatial

import (
	"fmt"
	"testing"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

// box returns a square building of side meters whose south-west corner sits
// east meters and north meters from origin.
func box(id string, origin orb.Point, east, north, side float64) model.Building {
	sw := geo.OffsetPoint(geo.OffsetPoint(origin, 0, east), 1.5707963267948966, north)
	se := geo.OffsetPoint(sw, 0, side)
	ne := geo.OffsetPoint(se, 1.5707963267948966, side)
	nw := geo.OffsetPoint(sw, 1.5707963267948966, side)
	return model.Building{
		ID:        id,
		Height:    10,
		Footprint: orb.MultiPolygon{{{sw, se, ne, nw, sw}}},
	}
}

func ids(bs []model.Building) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.ID)
	}
	return out
}

func testBuildings(center orb.Point) []model.Building {
	var bs []model.Building
	for i := 0; i < 20; i++ {
		d := float64(i) * 50
		bs = append(bs, box(fmt.Sprintf("b%02d", i), center, d, 0, 10))
	}
	return bs
}

func TestFilter(t *testing.T) {
	center := orb.Point{116.4, 39.9}
	bs := testBuildings(center)

	got := Filter(center, 120, bs)
	assert.Equal(t, []string{"b00", "b01", "b02"}, ids(got))

	assert.Empty(t, Filter(center, 120, nil))
}

func TestFilter_MonotonicInRadius(t *testing.T) {
	center := orb.Point{116.4, 39.9}
	bs := testBuildings(center)

	prev := map[string]bool{}
	for r := 10.0; r <= 1200; r += 70 {
		cur := map[string]bool{}
		for _, b := range Filter(center, r, bs) {
			cur[b.ID] = true
		}
		for id := range prev {
			assert.True(t, cur[id], "building %s lost when radius grew to %v", id, r)
		}
		prev = cur
	}
}

func TestFilter_EdgeCrossingNotSelected(t *testing.T) {
	center := orb.Point{0, 0}
	// A long thin building whose edge passes through the center with both
	// vertices far away.
	west := geo.OffsetPoint(center, 3.141592653589793, 500)
	east := geo.OffsetPoint(center, 0, 500)
	north := 0.00001
	b := model.Building{
		ID: "wall",
		Footprint: orb.MultiPolygon{{{
			west, east, {east[0], east[1] + north}, {west[0], west[1] + north}, west,
		}}},
	}

	assert.Empty(t, Filter(center, 100, []model.Building{b}))
}

func TestIndex_MatchesFilter(t *testing.T) {
	center := orb.Point{116.4, 39.9}
	bs := testBuildings(center)
	idx := NewIndex(bs)
	assert.Equal(t, len(bs), idx.Len())

	for _, r := range []float64{5, 60, 120, 333, 700, 2000} {
		assert.Equal(t, ids(Filter(center, r, bs)), ids(idx.Within(center, r)), "radius %v", r)
	}
}

func TestIndex_SkipsEmpty(t *testing.T) {
	idx := NewIndex([]model.Building{{ID: "empty"}})
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Within(orb.Point{0, 0}, 1000))
}
