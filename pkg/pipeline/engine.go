// Package pipeline runs the three analysis stages (exposure, occlusion,
// visible area) over the billboards of a session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"billboardvis/pkg/exposure"
	"billboardvis/pkg/model"
	"billboardvis/pkg/occlusion"
	"billboardvis/pkg/spatial"
	"billboardvis/pkg/visible"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// BuildingSource loads the building dataset. It is called on every occlusion
// run; buildings are not cached between runs.
type BuildingSource interface {
	Buildings(ctx context.Context) ([]model.Building, error)
}

// StaticBuildings serves a fixed in-memory building set.
type StaticBuildings []model.Building

// Buildings implements BuildingSource.
func (s StaticBuildings) Buildings(context.Context) ([]model.Building, error) {
	return s, nil
}

// Config tunes the analysis.
type Config struct {
	FeatureSize  float64 // Smallest resolvable feature (m)
	VisualAngle  float64 // Visual acuity (arc seconds)
	Segments     int     // Edges of a rendered exposure circle
	ArcSteps     int     // Angular steps of an occlusion arc
	Workers      int     // Billboards processed in parallel
	SpatialIndex bool    // Use an R-tree for the building scan
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		FeatureSize:  exposure.DefaultFeatureSize,
		VisualAngle:  exposure.DefaultVisualAngle,
		Segments:     64,
		ArcSteps:     occlusion.DefaultArcSteps,
		Workers:      4,
		SpatialIndex: true,
	}
}

// Engine runs stages against sessions. It holds no per-session state and is
// safe for concurrent use.
type Engine struct {
	exposure   *exposure.Calculator
	occlusion  *occlusion.Calculator
	compositor *visible.Compositor
	buildings  BuildingSource
	workers    int
	useIndex   bool
	logger     *slog.Logger
}

// NewEngine creates an engine reading buildings from src.
func NewEngine(cfg Config, src BuildingSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		exposure:   exposure.NewCalculator(logger, cfg.FeatureSize, cfg.VisualAngle, cfg.Segments),
		occlusion:  occlusion.NewCalculator(logger, cfg.ArcSteps),
		compositor: visible.NewCompositor(logger, cfg.Segments),
		buildings:  src,
		workers:    workers,
		useIndex:   cfg.SpatialIndex,
		logger:     logger,
	}
}

// Calculator exposes the exposure calculator, for rendering regions.
func (e *Engine) Calculator() *exposure.Calculator {
	return e.exposure
}

// Exposure computes one exposure region per billboard. Billboards that yield
// no region are listed in the report. Fails with ErrNoBillboards on an empty
// session.
func (e *Engine) Exposure(ctx context.Context, s *Session) (StageReport, error) {
	start := time.Now()
	snap := s.snapshot(StageExposure)
	bbs := snap.billboards
	if len(bbs) == 0 {
		return StageReport{}, ErrNoBillboards
	}

	results := make([]model.ExposureRegion, len(bbs))
	errs := make([]error, len(bbs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range bbs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = e.exposure.Region(bbs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageReport{}, fmt.Errorf("exposure stage: %w", err)
	}

	rep := StageReport{Stage: StageExposure, Items: len(bbs)}
	regions := make([]model.ExposureRegion, 0, len(bbs))
	for i, err := range errs {
		if err != nil {
			e.logger.Warn("Billboard skipped", "session", s.ID, "billboard", bbs[i].ID, "error", err)
			rep.Failures = append(rep.Failures, ItemFailure{Stage: StageExposure, ItemID: bbs[i].ID, Err: err})
			continue
		}
		regions = append(regions, results[i])
	}
	rep.Produced = len(regions)
	e.finish(&rep, start)

	if !s.setExposures(regions, rep, snap.gen) {
		return StageReport{}, e.stale(s, StageExposure)
	}
	e.logger.Info("Exposure stage complete", "session", s.ID, "regions", rep.Produced, "failed", len(rep.Failures))
	return rep, nil
}

// Occlusion computes the occlusion regions of every exposure region against
// the buildings near it. Requires a completed exposure stage.
func (e *Engine) Occlusion(ctx context.Context, s *Session) (StageReport, error) {
	start := time.Now()
	snap := s.snapshot(StageOcclusion)
	if !snap.done[StageExposure] {
		return StageReport{}, fmt.Errorf("occlusion before exposure: %w", ErrStageOrder)
	}
	regions := snap.exposures

	buildings, err := e.buildings.Buildings(ctx)
	if err != nil {
		return StageReport{}, fmt.Errorf("%w: %w", ErrBuildingsUnavailable, err)
	}

	candidates := func(center orb.Point, radius float64) []model.Building {
		return spatial.Filter(center, radius, buildings)
	}
	if e.useIndex {
		idx := spatial.NewIndex(buildings)
		candidates = idx.Within
	}

	perRegion := make([][]model.OcclusionRegion, len(regions))
	perErrs := make([][]*occlusion.BuildingError, len(regions))
	considered := make([]int, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range regions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			near := candidates(regions[i].Center, regions[i].Radius)
			considered[i] = len(near)
			perRegion[i], perErrs[i] = e.occlusion.Regions(regions[i], near)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageReport{}, fmt.Errorf("occlusion stage: %w", err)
	}

	rep := StageReport{Stage: StageOcclusion}
	var out []model.OcclusionRegion
	for i := range regions {
		rep.Items += considered[i]
		out = append(out, perRegion[i]...)
		for _, be := range perErrs[i] {
			rep.Failures = append(rep.Failures, ItemFailure{
				Stage:  StageOcclusion,
				ItemID: regions[i].BillboardID + "/" + be.BuildingID,
				Err:    be.Err,
			})
		}
	}
	rep.Produced = len(out)
	e.finish(&rep, start)

	if !s.setOcclusions(out, rep, snap.gen) {
		return StageReport{}, e.stale(s, StageOcclusion)
	}
	e.logger.Info("Occlusion stage complete",
		"session", s.ID,
		"buildings", len(buildings),
		"regions", rep.Produced,
		"failed", len(rep.Failures))
	return rep, nil
}

// Visible composes the visible area. Requires completed exposure and
// occlusion stages.
func (e *Engine) Visible(ctx context.Context, s *Session) (StageReport, error) {
	start := time.Now()
	snap := s.snapshot(StageVisible)
	if !snap.done[StageExposure] {
		return StageReport{}, fmt.Errorf("visible area before exposure: %w", ErrStageOrder)
	}
	if !snap.done[StageOcclusion] {
		return StageReport{}, fmt.Errorf("visible area before occlusion: %w", ErrStageOrder)
	}
	exposures, occlusions := snap.exposures, snap.occlusions
	if err := ctx.Err(); err != nil {
		return StageReport{}, err
	}

	va, err := e.compositor.Compose(exposures, occlusions)
	if err != nil {
		return StageReport{}, err
	}

	rep := StageReport{Stage: StageVisible, Items: len(exposures) + len(occlusions), Produced: len(va.Geometry)}
	e.finish(&rep, start)

	if !s.setVisible(va, rep, snap.gen) {
		return StageReport{}, e.stale(s, StageVisible)
	}
	e.logger.Info("Visible stage complete", "session", s.ID, "parts", len(va.Geometry), "area", va.Area)
	return rep, nil
}

// Run executes all three stages in order and stops at the first stage error.
func (e *Engine) Run(ctx context.Context, s *Session) ([]StageReport, error) {
	stages := []func(context.Context, *Session) (StageReport, error){e.Exposure, e.Occlusion, e.Visible}

	var reports []StageReport
	for _, run := range stages {
		rep, err := run(ctx, s)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// RunStage executes a single stage by name.
func (e *Engine) RunStage(ctx context.Context, s *Session, stage Stage) (StageReport, error) {
	switch stage {
	case StageExposure:
		return e.Exposure(ctx, s)
	case StageOcclusion:
		return e.Occlusion(ctx, s)
	case StageVisible:
		return e.Visible(ctx, s)
	}
	return StageReport{}, fmt.Errorf("unknown stage %q", stage)
}

// stale reports a stage result dropped because the session changed under it.
func (e *Engine) stale(s *Session, stage Stage) error {
	e.logger.Warn("Stage result discarded", "session", s.ID, "stage", stage)
	return fmt.Errorf("%s stage: %w", stage, ErrStaleInput)
}

func (e *Engine) finish(rep *StageReport, start time.Time) {
	rep.FinishedAt = time.Now()
	rep.Duration = rep.FinishedAt.Sub(start)
}
