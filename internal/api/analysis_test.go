package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"billboardvis/pkg/model"
	"billboardvis/pkg/pipeline"
	"billboardvis/pkg/session"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const panelFC = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"id":"panel","base":0,"height":10},
 "geometry":{"type":"LineString","coordinates":[[0,0],[0.0001,0]]}},
{"type":"Feature","properties":{"id":"bad"},
 "geometry":{"type":"Point","coordinates":[0,0]}}
]}`

// tower is a 20 m building straddling the exposure circle center of the panel.
var tower = model.Building{
	ID:        "tower",
	Height:    20,
	Footprint: orb.MultiPolygon{{{{0.00001, -0.0031}, {0.00009, -0.0031}, {0.00009, -0.0030}, {0.00001, -0.0030}, {0.00001, -0.0031}}}},
}

type memResults struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memResults) SaveStageResult(_ context.Context, sessionID, stage string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID+"/"+stage] = data
	return nil
}

func (m *memResults) GetStageResult(_ context.Context, sessionID, stage string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[sessionID+"/"+stage]
	return d, ok, nil
}

func (m *memResults) PruneStageResults(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type memTraces []model.TracePoint

func (m memTraces) TracePointsInBound(_ context.Context, b orb.Bound) ([]model.TracePoint, error) {
	var out []model.TracePoint
	for _, p := range m {
		if b.Contains(p.Position) {
			out = append(out, p)
		}
	}
	return out, nil
}

type brokenSource struct{}

func (brokenSource) Buildings(context.Context) ([]model.Building, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	srv     *httptest.Server
	results *memResults
}

func newTestEnv(t *testing.T, src pipeline.BuildingSource) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := pipeline.NewEngine(pipeline.DefaultConfig(), src, logger)
	results := &memResults{data: make(map[string][]byte)}
	traces := memTraces{
		{ID: 1, VehicleID: "taxi-1", Position: orb.Point{0.00005, -0.001}},
		{ID: 2, VehicleID: "taxi-2", Position: orb.Point{0.00005, 0.002}},
	}
	analysis := NewAnalysisHandler(engine, session.New(time.Hour), results, traces)
	buildings := NewBuildingsHandler(&memBuildings{list: []model.Building{tower}})

	srv := httptest.NewServer(NewServer("", analysis, buildings, nil).Handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, results: results}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func decodeFC(t *testing.T, resp *http.Response) *geojson.FeatureCollection {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err, string(raw))
	return fc
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "error", e.Status)
	return e
}

func TestAnalysisFlow(t *testing.T) {
	env := newTestEnv(t, pipeline.StaticBuildings{tower})
	id := env.createSession(t)
	base := "/api/sessions/" + id

	resp := env.do(t, http.MethodPost, base+"/billboards", []byte(panelFC))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up billboardsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, 1, up.Count)
	require.Len(t, up.Errors, 1)
	assert.Equal(t, 1, up.Errors[0].Index)

	// Out of order
	resp = env.do(t, http.MethodGet, base+"/va", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decodeError(t, resp)

	resp = env.do(t, http.MethodGet, base+"/gea", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gea := decodeFC(t, resp)
	require.Len(t, gea.Features, 1)
	assert.Equal(t, "exposure_area", gea.Features[0].Properties["type"])

	resp = env.do(t, http.MethodGet, base+"/ia", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ia := decodeFC(t, resp)
	require.Len(t, ia.Features, 1)
	assert.Equal(t, "arc", ia.Features[0].Properties["kind"])
	assert.Equal(t, "tower", ia.Features[0].Properties["building_id"])

	resp = env.do(t, http.MethodGet, base+"/va", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	va := decodeFC(t, resp)
	require.Len(t, va.Features, 1)
	assert.Equal(t, "visible_area", va.Features[0].Properties["type"])

	_, stored, _ := env.results.GetStageResult(context.Background(), id, "va")
	assert.True(t, stored, "stage output persisted")

	resp = env.do(t, http.MethodGet, base+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		Billboards int                    `json:"billboards"`
		Stages     []pipeline.StageReport `json:"stages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Billboards)
	require.Len(t, report.Stages, 3)
	assert.Equal(t, pipeline.StageOcclusion, report.Stages[1].Stage)

	resp = env.do(t, http.MethodGet, base+"/traces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var traces pipeline.TraceReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&traces))
	require.Len(t, traces.Points, 1)
	assert.Equal(t, "taxi-1", traces.Points[0].VehicleID)
}

func TestStageErrors(t *testing.T) {
	t.Run("UnknownSession", func(t *testing.T) {
		env := newTestEnv(t, pipeline.StaticBuildings{})
		resp := env.do(t, http.MethodGet, "/api/sessions/nope/gea", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		decodeError(t, resp)
	})

	t.Run("NoBillboards", func(t *testing.T) {
		env := newTestEnv(t, pipeline.StaticBuildings{})
		id := env.createSession(t)
		resp := env.do(t, http.MethodGet, "/api/sessions/"+id+"/gea", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		decodeError(t, resp)
	})

	t.Run("BuildingsUnavailable", func(t *testing.T) {
		env := newTestEnv(t, brokenSource{})
		id := env.createSession(t)
		base := "/api/sessions/" + id
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/billboards", []byte(panelFC)).StatusCode)
		require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, base+"/gea", nil).StatusCode)

		resp := env.do(t, http.MethodGet, base+"/ia", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		e := decodeError(t, resp)
		assert.Contains(t, e.Message, "connection refused")
	})

	t.Run("MalformedUpload", func(t *testing.T) {
		env := newTestEnv(t, pipeline.StaticBuildings{})
		id := env.createSession(t)
		resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/billboards", []byte("{not json"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("TracesBeforeVisible", func(t *testing.T) {
		env := newTestEnv(t, pipeline.StaticBuildings{})
		id := env.createSession(t)
		resp := env.do(t, http.MethodGet, "/api/sessions/"+id+"/traces", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, pipeline.StaticBuildings{})
	id := env.createSession(t)

	resp := env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/report", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, pipeline.StaticBuildings{})

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.NotEmpty(t, v["version"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrStageOrder, http.StatusConflict},
		{pipeline.ErrNoBillboards, http.StatusUnprocessableEntity},
		{errors.Join(pipeline.ErrBuildingsUnavailable, errors.New("x")), http.StatusServiceUnavailable},
		{errSessionNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
