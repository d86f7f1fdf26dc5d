package maintenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"
	"billboardvis/pkg/store"

	"github.com/paulmach/orb"
)

const (
	buildingsStateKey = "buildings_geojson_mtime"
	tracesStateKey    = "traces_csv_mtime"
)

// Options names the dataset files to import and how long stage results are
// kept. Empty paths are skipped.
type Options struct {
	BuildingsPath   string
	TracesPath      string
	ResultRetention time.Duration
}

// Run executes all maintenance tasks: dataset imports and result pruning.
// Import failures are logged and do not stop startup. It blocks until
// completion.
func Run(ctx context.Context, s store.Store, opts Options) error {
	slog.Info("Starting database maintenance...")

	if err := ImportBuildings(ctx, s, opts.BuildingsPath); err != nil {
		slog.Error("Building import failed", "path", opts.BuildingsPath, "error", err)
	}
	if err := ImportTraces(ctx, s, opts.TracesPath); err != nil {
		slog.Error("Trace import failed", "path", opts.TracesPath, "error", err)
	}

	if opts.ResultRetention > 0 {
		n, err := s.PruneStageResults(ctx, opts.ResultRetention)
		if err != nil {
			slog.Error("Stage result pruning failed", "error", err)
		} else {
			slog.Info("Stage result pruning completed", "removed", n)
		}
	}
	return nil
}

// changed reports whether path exists and was modified since the import
// recorded under key. It returns the mtime to record after importing.
func changed(ctx context.Context, s store.StateStore, key, path string) (bool, string, error) {
	if path == "" {
		return false, "", nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	mtime := info.ModTime().UTC().Format(time.RFC3339Nano)
	stored, found := s.GetState(ctx, key)
	return !found || stored != mtime, mtime, nil
}

// ImportBuildings replaces the building table with the contents of a GeoJSON
// file, when the file changed since the last import. Features that cannot be
// decoded are logged and skipped.
func ImportBuildings(ctx context.Context, s store.Store, path string) error {
	ok, mtime, err := changed(ctx, s, buildingsStateKey, path)
	if err != nil || !ok {
		return err
	}

	slog.Info("Importing buildings...", "path", path)
	fc, err := geo.LoadFeatureCollection(path)
	if err != nil {
		return err
	}
	buildings, errs := geo.DecodeBuildings(fc)
	for i := range errs {
		slog.Warn("Building skipped", "index", errs[i].Index, "id", errs[i].ID, "error", errs[i].Err)
	}

	if err := s.ClearBuildings(ctx); err != nil {
		return fmt.Errorf("failed to clear buildings: %w", err)
	}
	if err := s.SaveBuildings(ctx, buildings); err != nil {
		return err
	}
	slog.Info("Imported buildings", "count", len(buildings), "skipped", len(errs))

	if err := s.SetState(ctx, buildingsStateKey, mtime); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

// ImportTraces replaces the trace table with the contents of a CSV file, when
// the file changed since the last import.
func ImportTraces(ctx context.Context, s store.Store, path string) error {
	ok, mtime, err := changed(ctx, s, tracesStateKey, path)
	if err != nil || !ok {
		return err
	}

	slog.Info("Importing GPS traces...", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	points, err := ReadTraceCSV(f)
	if err != nil {
		return err
	}

	if err := s.ClearTracePoints(ctx); err != nil {
		return fmt.Errorf("failed to clear trace points: %w", err)
	}
	if err := s.SaveTracePoints(ctx, points); err != nil {
		return err
	}
	slog.Info("Imported GPS traces", "count", len(points))

	if err := s.SetState(ctx, tracesStateKey, mtime); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

// Accepted header names per column.
var traceColumns = map[string][]string{
	"vehicle": {"vehicle_id", "taxi_id", "vehicle"},
	"lon":     {"lon", "longitude", "lng"},
	"lat":     {"lat", "latitude"},
	"time":    {"recorded_at", "timestamp", "time"},
}

// ReadTraceCSV parses GPS fixes from a CSV with a header row. Vehicle id,
// longitude and latitude columns are required; a timestamp column is
// optional. Rows with unparsable coordinates are skipped, as are repeated
// (vehicle, timestamp) pairs.
func ReadTraceCSV(r io.Reader) ([]model.TracePoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	// Handle a UTF-8 BOM at the start of the file
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	idx := make(map[string]int)
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		for col, names := range traceColumns {
			for _, n := range names {
				if h == n {
					if _, dup := idx[col]; !dup {
						idx[col] = i
					}
				}
			}
		}
	}
	for _, col := range []string{"vehicle", "lon", "lat"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing %s column in header %v", col, headers)
		}
	}

	get := func(row []string, col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var (
		out     []model.TracePoint
		seen    = make(map[[2]string]bool)
		skipped int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read error: %w", err)
		}

		lon, errLon := strconv.ParseFloat(get(record, "lon"), 64)
		lat, errLat := strconv.ParseFloat(get(record, "lat"), 64)
		vehicle := get(record, "vehicle")
		if errLon != nil || errLat != nil || vehicle == "" {
			skipped++
			continue
		}

		ts := get(record, "time")
		if ts != "" {
			key := [2]string{vehicle, ts}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, model.TracePoint{VehicleID: vehicle, Position: orb.Point{lon, lat}, RecordedAt: ts})
	}
	if skipped > 0 {
		slog.Warn("Skipped malformed trace rows", "count", skipped)
	}
	return out, nil
}
