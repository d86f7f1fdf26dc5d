// Command importdata loads building footprints (GeoJSON or ESRI Shapefile)
// and GPS traces (CSV) into the analysis database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"billboardvis/pkg/config"
	"billboardvis/pkg/db"
	"billboardvis/pkg/db/maintenance"
	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"
	"billboardvis/pkg/store"
)

type options struct {
	dbPath      string
	buildings   string
	traces      string
	heightField string
	idField     string
}

func main() {
	var opts options
	flag.StringVar(&opts.dbPath, "db", config.DefaultConfig().DB.Path, "Path to the SQLite database")
	flag.StringVar(&opts.buildings, "buildings", "", "Building footprints (.geojson or .shp)")
	flag.StringVar(&opts.traces, "traces", "", "GPS trace CSV")
	flag.StringVar(&opts.heightField, "height-field", "height", "Shapefile attribute holding the building height")
	flag.StringVar(&opts.idField, "id-field", "", "Shapefile attribute holding the building id")
	flag.Parse()

	if opts.buildings == "" && opts.traces == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if v := os.Getenv(config.EnvDBPath); v != "" && !isFlagSet("db") {
		opts.dbPath = v
	}

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "importdata: %v\n", err)
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func run(ctx context.Context, opts options) error {
	dbConn, err := db.Init(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	if opts.buildings != "" {
		if err := importBuildings(ctx, st, opts); err != nil {
			return err
		}
	}
	if opts.traces != "" {
		if err := importTraces(ctx, st, opts.traces); err != nil {
			return err
		}
	}
	return nil
}

func importBuildings(ctx context.Context, st store.BuildingStore, opts options) error {
	var (
		buildings []model.Building
		skipped   int
	)
	switch strings.ToLower(filepath.Ext(opts.buildings)) {
	case ".shp":
		var errs []error
		buildings, errs = readShapefile(opts.buildings, opts.heightField, opts.idField)
		for _, err := range errs {
			slog.Warn("Building skipped", "error", err)
		}
		skipped = len(errs)
	default:
		fc, err := geo.LoadFeatureCollection(opts.buildings)
		if err != nil {
			return err
		}
		var errs []geo.ItemError
		buildings, errs = geo.DecodeBuildings(fc)
		for i := range errs {
			slog.Warn("Building skipped", "index", errs[i].Index, "id", errs[i].ID, "error", errs[i].Err)
		}
		skipped = len(errs)
	}

	if err := st.ClearBuildings(ctx); err != nil {
		return fmt.Errorf("failed to clear buildings: %w", err)
	}
	if err := st.SaveBuildings(ctx, buildings); err != nil {
		return err
	}
	slog.Info("Imported buildings", "path", opts.buildings, "count", len(buildings), "skipped", skipped)
	return nil
}

func importTraces(ctx context.Context, st store.TraceStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	points, err := maintenance.ReadTraceCSV(f)
	if err != nil {
		return err
	}
	if err := st.ClearTracePoints(ctx); err != nil {
		return fmt.Errorf("failed to clear trace points: %w", err)
	}
	if err := st.SaveTracePoints(ctx, points); err != nil {
		return err
	}
	slog.Info("Imported GPS traces", "path", path, "points", len(points))
	return nil
}
