package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"billboardvis/pkg/db"
	"billboardvis/pkg/model"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	BuildingStore
	TraceStore
	ResultStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// timeLayout matches SQLite's CURRENT_TIMESTAMP so stored and computed
// timestamps compare as strings.
const timeLayout = "2006-01-02 15:04:05"

// SQLiteStore implements Store.
type SQLiteStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d, now: time.Now}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// --- Buildings ---

// SaveBuildings inserts or replaces buildings in a single transaction.
func (s *SQLiteStore) SaveBuildings(ctx context.Context, buildings []model.Building) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO buildings (id, height, geometry, min_lon, min_lat, max_lon, max_lat, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	created := s.timestamp(s.now())
	for i := range buildings {
		b := &buildings[i]
		if len(b.Footprint) == 0 {
			return fmt.Errorf("building %s: %w: empty footprint", b.ID, model.ErrInvalidFootprint)
		}
		data, err := wkb.Marshal(b.Footprint)
		if err != nil {
			return fmt.Errorf("building %s: %w", b.ID, err)
		}
		bound := b.Footprint.Bound()
		if _, err := stmt.ExecContext(ctx, b.ID, b.Height, data,
			bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], created); err != nil {
			return fmt.Errorf("failed to save building %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// ClearBuildings removes every building.
func (s *SQLiteStore) ClearBuildings(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM buildings")
	return err
}

// ListBuildings returns the whole dataset ordered by id.
func (s *SQLiteStore) ListBuildings(ctx context.Context) ([]model.Building, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, height, geometry FROM buildings ORDER BY id")
	if err != nil {
		return nil, err
	}
	return scanBuildings(rows)
}

// Buildings reloads the dataset on every call, for the occlusion stage.
func (s *SQLiteStore) Buildings(ctx context.Context) ([]model.Building, error) {
	return s.ListBuildings(ctx)
}

// BuildingsInBound returns the buildings whose bounding box overlaps b.
func (s *SQLiteStore) BuildingsInBound(ctx context.Context, b orb.Bound) ([]model.Building, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, height, geometry FROM buildings
		 WHERE max_lon >= ? AND min_lon <= ? AND max_lat >= ? AND min_lat <= ?
		 ORDER BY id`,
		b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	if err != nil {
		return nil, err
	}
	return scanBuildings(rows)
}

func scanBuildings(rows *sql.Rows) ([]model.Building, error) {
	defer rows.Close()

	var out []model.Building
	for rows.Next() {
		var (
			b    model.Building
			data []byte
		)
		if err := rows.Scan(&b.ID, &b.Height, &data); err != nil {
			return nil, err
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", b.ID, err)
		}
		switch g := g.(type) {
		case orb.MultiPolygon:
			b.Footprint = g
		case orb.Polygon:
			b.Footprint = orb.MultiPolygon{g}
		default:
			return nil, fmt.Errorf("building %s: unexpected geometry %s", b.ID, g.GeoJSONType())
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountBuildings returns the size of the dataset.
func (s *SQLiteStore) CountBuildings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM buildings").Scan(&n)
	return n, err
}

// --- Traces ---

// SaveTracePoints appends trace points. Point IDs are assigned by the store.
func (s *SQLiteStore) SaveTracePoints(ctx context.Context, points []model.TracePoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO gps_points (vehicle_id, lon, lat, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.VehicleID, p.Position[0], p.Position[1], p.RecordedAt); err != nil {
			return fmt.Errorf("failed to save trace point of %s: %w", p.VehicleID, err)
		}
	}
	return tx.Commit()
}

// ClearTracePoints removes every trace point.
func (s *SQLiteStore) ClearTracePoints(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM gps_points")
	return err
}

// TracePointsInBound returns the trace points inside b, boundary included.
func (s *SQLiteStore) TracePointsInBound(ctx context.Context, b orb.Bound) ([]model.TracePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vehicle_id, lon, lat, COALESCE(recorded_at, '') FROM gps_points
		 WHERE lon BETWEEN ? AND ? AND lat BETWEEN ? AND ?
		 ORDER BY id`,
		b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TracePoint
	for rows.Next() {
		var p model.TracePoint
		if err := rows.Scan(&p.ID, &p.VehicleID, &p.Position[0], &p.Position[1], &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Stage results ---

// SaveStageResult stores the rendered output of a stage, gzip-compressed.
func (s *SQLiteStore) SaveStageResult(ctx context.Context, sessionID, stage string, data []byte) error {
	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("failed to compress %s result: %w", stage, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO stage_results (session_id, stage, data, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, stage, compressed, s.timestamp(s.now()))
	return err
}

// GetStageResult returns a stored stage output.
func (s *SQLiteStore) GetStageResult(ctx context.Context, sessionID, stage string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM stage_results WHERE session_id = ? AND stage = ?", sessionID, stage).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	// Transparent decompression
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		out, err := decompress(data)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt %s result: %w", stage, err)
		}
		return out, true, nil
	}
	return data, true, nil
}

// PruneStageResults removes stage results older than olderThan and reports
// how many were removed.
func (s *SQLiteStore) PruneStageResults(ctx context.Context, olderThan time.Duration) (int64, error) {
	deadline := s.timestamp(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, "DELETE FROM stage_results WHERE created_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Compression Pooling ---

var (
	// Pool for gzip writers to reuse flate state
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, s.timestamp(s.now()))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
