// Command analyze runs the visibility analysis on GeoJSON files without the
// server and writes one FeatureCollection per stage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"billboardvis/pkg/config"
	"billboardvis/pkg/geo"
	"billboardvis/pkg/logging"
	"billboardvis/pkg/pipeline"
)

type options struct {
	billboards string
	buildings  string
	outDir     string
	analysis   config.AnalysisConfig
}

func main() {
	cfg := config.DefaultConfig().Analysis
	opts := options{analysis: cfg}

	flag.StringVar(&opts.billboards, "billboards", "", "Billboard GeoJSON (FeatureCollection or layer envelope)")
	flag.StringVar(&opts.buildings, "buildings", "", "Building GeoJSON FeatureCollection")
	flag.StringVar(&opts.outDir, "out", ".", "Output directory for gea/ia/va GeoJSON")
	featureSize := flag.Float64("feature-size", cfg.FeatureSize.Meters(), "Smallest resolvable feature in meters")
	flag.Float64Var(&opts.analysis.VisualAngle, "visual-angle", cfg.VisualAngle, "Visual acuity in arc seconds")
	flag.IntVar(&opts.analysis.Workers, "workers", cfg.Workers, "Billboards processed in parallel")
	flag.BoolVar(&opts.analysis.SpatialIndex, "index", cfg.SpatialIndex, "Use an R-tree for the building scan")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	opts.analysis.FeatureSize = config.Distance(*featureSize)

	level := "INFO"
	if *verbose {
		level = "DEBUG"
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(level)})))

	if opts.billboards == "" || opts.buildings == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, slog.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	data, err := os.ReadFile(opts.billboards)
	if err != nil {
		return fmt.Errorf("failed to read billboards: %w", err)
	}
	fc, err := geo.UnwrapLayers(data)
	if err != nil {
		return err
	}
	billboards, errs := geo.DecodeBillboards(fc)
	for i := range errs {
		logger.Warn("Billboard skipped", "index", errs[i].Index, "id", errs[i].ID, "error", errs[i].Err)
	}

	bfc, err := geo.LoadFeatureCollection(opts.buildings)
	if err != nil {
		return err
	}
	buildings, errs := geo.DecodeBuildings(bfc)
	for i := range errs {
		logger.Warn("Building skipped", "index", errs[i].Index, "id", errs[i].ID, "error", errs[i].Err)
	}
	logger.Info("Inputs loaded", "billboards", len(billboards), "buildings", len(buildings))

	a := opts.analysis
	engine := pipeline.NewEngine(pipeline.Config{
		FeatureSize:  a.FeatureSize.Meters(),
		VisualAngle:  a.VisualAngle,
		Segments:     a.CircleSegments,
		ArcSteps:     a.ArcSteps,
		Workers:      a.Workers,
		SpatialIndex: a.SpatialIndex,
	}, pipeline.StaticBuildings(buildings), logger)

	s := pipeline.NewSession("cli")
	s.SetBillboards(billboards)

	reports, runErr := engine.Run(ctx, s)
	for _, rep := range reports {
		for _, f := range rep.Failures {
			logger.Warn("Item failed", "stage", f.Stage, "item", f.ItemID, "error", f.Err)
		}
		if err := writeStage(opts.outDir, engine, s, rep.Stage); err != nil {
			return err
		}
		logger.Info("Stage written", "stage", rep.Stage, "produced", rep.Produced, "duration", rep.Duration)
	}
	return runErr
}

func writeStage(dir string, engine *pipeline.Engine, s *pipeline.Session, stage pipeline.Stage) error {
	data, err := json.MarshalIndent(engine.StageFeatures(s, stage), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", stage, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, string(stage)+".geojson")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
