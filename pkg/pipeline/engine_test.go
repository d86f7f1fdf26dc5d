package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"

	"billboardvis/pkg/exposure"
	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"
	"billboardvis/pkg/polygon"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
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

// panel is a 10 m tall billboard on the equator facing south.
var panel = model.Billboard{
	ID:        "panel",
	Footprint: orb.LineString{{0, 0}, {0.0001, 0}},
	Base:      0,
	Height:    10,
}

type scenario struct {
	origin orb.Point
	center orb.Point
	radius float64
	blds   StaticBuildings
}

func newScenario() scenario {
	origin := panel.Center()
	distance := exposure.NewCalculator(nil, 0, 0, 0).RecognitionDistance()
	center := orb.Point{origin[0], origin[1] - distance/geo.MetersPerDegree()}
	return scenario{
		origin: origin,
		center: center,
		radius: math.Sqrt(distance*distance - 25),
		blds: StaticBuildings{
			square("tall", center, 10, 20),
			square("low", geo.OffsetPoint(origin, -math.Pi/2, 100), 10, 2),
			square("far", geo.OffsetPoint(origin, math.Pi/2, 2000), 10, 50),
		},
	}
}

func newEngine(src BuildingSource, index bool) *Engine {
	cfg := DefaultConfig()
	cfg.SpatialIndex = index
	return NewEngine(cfg, src, quietLogger())
}

func TestRun_EndToEnd(t *testing.T) {
	for _, index := range []bool{false, true} {
		sc := newScenario()
		e := newEngine(sc.blds, index)
		s := NewSession("s1")
		s.SetBillboards([]model.Billboard{panel})

		reports, err := e.Run(context.Background(), s)
		require.NoError(t, err)
		require.Len(t, reports, 3)

		exps, ok := s.Exposures()
		require.True(t, ok)
		require.Len(t, exps, 1)
		assert.InDelta(t, sc.radius, exps[0].Radius, 1e-9)
		assert.InDelta(t, sc.center[1], exps[0].Center[1], 1e-12)

		occs, ok := s.Occlusions()
		require.True(t, ok)
		require.Len(t, occs, 2, "index=%v", index)

		kinds := map[string]model.OcclusionKind{}
		for _, o := range occs {
			kinds[o.BuildingID] = o.Kind
			for _, p := range o.Ring {
				assert.LessOrEqual(t, geo.Distance(sc.center, p), sc.radius*1.01,
					"%s point %v outside exposure circle", o.BuildingID, p)
			}
		}
		assert.Equal(t, model.OcclusionArc, kinds["tall"])
		assert.Equal(t, model.OcclusionProjection, kinds["low"])
		assert.Equal(t, 2, reports[1].Items)

		va := s.Visible()
		require.NotNil(t, va)
		assert.NoError(t, polygon.Validate(va.Geometry))
		assert.Greater(t, va.Area, 0.0)

		circle := polygon.Area(orb.MultiPolygon{polygon.Circle(sc.center, sc.radius, 64)})
		assert.Less(t, va.Area, circle)

		assert.False(t, planar.MultiPolygonContains(va.Geometry, sc.center), "behind the tall building")
		assert.True(t, planar.MultiPolygonContains(va.Geometry, geo.OffsetPoint(sc.origin, -math.Pi/2, 300)))
		assert.True(t, planar.MultiPolygonContains(va.Geometry, geo.OffsetPoint(sc.center, 0, 150)))
	}
}

// randomScene places n buildings of mixed size and height in front of two
// side by side billboards, so their exposure circles and occlusions overlap.
func randomScene(rng *rand.Rand, n int) ([]model.Billboard, StaticBuildings) {
	second := panel
	second.ID = "second"
	second.Footprint = orb.LineString{{0.0015, 0}, {0.0016, 0}}
	second.Height = 6
	bbs := []model.Billboard{panel, second}

	distance := exposure.NewCalculator(nil, 0, 0, 0).RecognitionDistance()
	mid := orb.Point{0.0008, -distance / geo.MetersPerDegree()}
	var blds StaticBuildings
	for len(blds) < n {
		c := geo.OffsetPoint(mid, rng.Float64()*2*math.Pi, 20+rng.Float64()*300)
		if geo.Distance(c, panel.Center()) < 60 || geo.Distance(c, second.Center()) < 60 {
			continue
		}
		height := 1 + rng.Float64()*4
		if rng.Intn(2) == 0 {
			height = 15 + rng.Float64()*40
		}
		blds = append(blds, square(fmt.Sprintf("b%d", len(blds)), c, 5+rng.Float64()*40, height))
	}
	return bbs, blds
}

func TestRun_RandomScenes(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1234, 98765} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			bbs, blds := randomScene(rand.New(rand.NewSource(seed)), 60)
			e := newEngine(blds, true)
			s := NewSession("random")
			s.SetBillboards(bbs)

			_, err := e.Run(context.Background(), s)
			require.NoError(t, err)

			exps, _ := s.Exposures()
			occs, _ := s.Occlusions()
			va := s.Visible()
			require.Len(t, exps, 2)
			require.NotEmpty(t, occs)
			require.NotNil(t, va)
			require.NoError(t, polygon.Validate(va.Geometry))

			var circles []orb.MultiPolygon
			for _, r := range exps {
				circles = append(circles, orb.MultiPolygon{e.Calculator().Polygon(r)})
			}
			exposed, err := polygon.UnionAll(circles)
			require.NoError(t, err)
			assert.LessOrEqual(t, va.Area, polygon.Area(exposed)*(1+1e-6))

			var blocked []orb.MultiPolygon
			for _, o := range occs {
				mp, err := polygon.RepairRing(o.Ring)
				if err == nil && len(mp) > 0 {
					blocked = append(blocked, mp)
				}
			}
			require.NotEmpty(t, blocked)

			const steps = 60
			b := exposed.Bound()
			visible, hidden := 0, 0
			for ix := 0; ix < steps; ix++ {
				for iy := 0; iy < steps; iy++ {
					p := orb.Point{
						b.Min[0] + (b.Max[0]-b.Min[0])*(float64(ix)+0.318)/steps,
						b.Min[1] + (b.Max[1]-b.Min[1])*(float64(iy)+0.577)/steps,
					}
					if !planar.MultiPolygonContains(va.Geometry, p) {
						if planar.MultiPolygonContains(exposed, p) {
							hidden++
						}
						continue
					}
					visible++
					assert.True(t, planar.MultiPolygonContains(exposed, p), "%v visible outside every exposure circle", p)
					for k, mp := range blocked {
						assert.False(t, planar.MultiPolygonContains(mp, p), "%v visible inside occlusion %d", p, k)
					}
				}
			}
			assert.Positive(t, visible)
			assert.Positive(t, hidden)
		})
	}
}

func TestExposure_NoBillboards(t *testing.T) {
	e := newEngine(StaticBuildings{}, true)
	_, err := e.Exposure(context.Background(), NewSession("empty"))
	assert.True(t, errors.Is(err, ErrNoBillboards))
}

func TestExposure_PartialFailure(t *testing.T) {
	e := newEngine(StaticBuildings{}, true)
	s := NewSession("s")
	tower := panel
	tower.ID = "tower"
	tower.Base = 500
	broken := model.Billboard{ID: "broken", Footprint: orb.LineString{{1, 1}}}
	s.SetBillboards([]model.Billboard{tower, panel, broken})

	rep, err := e.Exposure(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Items)
	assert.Equal(t, 1, rep.Produced)
	require.Len(t, rep.Failures, 2)

	assert.Equal(t, "tower", rep.Failures[0].ItemID)
	assert.True(t, errors.Is(rep.Failures[0], exposure.ErrNoExposure))
	assert.Equal(t, "broken", rep.Failures[1].ItemID)
	assert.True(t, errors.Is(rep.Failures[1], model.ErrInvalidFootprint))

	exps, _ := s.Exposures()
	require.Len(t, exps, 1)
	assert.Equal(t, "panel", exps[0].BillboardID)
}

func TestStageOrder(t *testing.T) {
	e := newEngine(newScenario().blds, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})

	_, err := e.Occlusion(context.Background(), s)
	assert.True(t, errors.Is(err, ErrStageOrder))
	_, err = e.Visible(context.Background(), s)
	assert.True(t, errors.Is(err, ErrStageOrder))

	_, err = e.Exposure(context.Background(), s)
	require.NoError(t, err)
	_, err = e.Visible(context.Background(), s)
	assert.True(t, errors.Is(err, ErrStageOrder))
}

func TestSetBillboards_ResetsStages(t *testing.T) {
	e := newEngine(newScenario().blds, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})

	_, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, s.Visible())
	assert.Len(t, s.Reports(), 3)

	s.SetBillboards([]model.Billboard{panel})
	_, ok := s.Exposures()
	assert.False(t, ok)
	_, ok = s.Occlusions()
	assert.False(t, ok)
	assert.Nil(t, s.Visible())
	assert.Empty(t, s.Reports())
}

func TestRerunExposure_ResetsDownstream(t *testing.T) {
	e := newEngine(newScenario().blds, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})

	_, err := e.Run(context.Background(), s)
	require.NoError(t, err)

	_, err = e.RunStage(context.Background(), s, StageExposure)
	require.NoError(t, err)
	_, ok := s.Occlusions()
	assert.False(t, ok)
	assert.Nil(t, s.Visible())
}

// gatedSource holds every Buildings call until release is closed and signals
// the first call on entered.
type gatedSource struct {
	blds    StaticBuildings
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Buildings(ctx context.Context) ([]model.Building, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return g.blds, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestOcclusion_ExposureRerunDuringRun(t *testing.T) {
	src := &gatedSource{
		blds:    newScenario().blds,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngine(src, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})
	_, err := e.Exposure(context.Background(), s)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := e.Occlusion(context.Background(), s)
		errc <- err
	}()
	<-src.entered

	_, err = e.Exposure(context.Background(), s)
	require.NoError(t, err)
	close(src.release)

	err = <-errc
	assert.ErrorIs(t, err, ErrStaleInput)
	_, ok := s.Occlusions()
	assert.False(t, ok, "stale occlusions are not stored")
	_, ok = s.Exposures()
	assert.True(t, ok)
	_, err = e.Visible(context.Background(), s)
	assert.ErrorIs(t, err, ErrStageOrder)

	// A run started after the rerun stores its result.
	_, err = e.Occlusion(context.Background(), s)
	require.NoError(t, err)
	occs, ok := s.Occlusions()
	assert.True(t, ok)
	assert.Len(t, occs, 2)
}

type failingSource struct{}

func (failingSource) Buildings(context.Context) ([]model.Building, error) {
	return nil, errors.New("disk on fire")
}

func TestOcclusion_BuildingsUnavailable(t *testing.T) {
	e := newEngine(failingSource{}, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})
	_, err := e.Exposure(context.Background(), s)
	require.NoError(t, err)

	_, err = e.Occlusion(context.Background(), s)
	assert.True(t, errors.Is(err, ErrBuildingsUnavailable))
	assert.Contains(t, err.Error(), "disk on fire")

	_, ok := s.Occlusions()
	assert.False(t, ok, "nothing partial is stored")
}

func TestExposure_Cancelled(t *testing.T) {
	e := newEngine(StaticBuildings{}, true)
	s := NewSession("s")
	s.SetBillboards([]model.Billboard{panel})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Exposure(ctx, s)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseStage(t *testing.T) {
	st, err := ParseStage("ia")
	require.NoError(t, err)
	assert.Equal(t, StageOcclusion, st)

	_, err = ParseStage("xx")
	assert.Error(t, err)
}
