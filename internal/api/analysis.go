package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/pipeline"
	"billboardvis/pkg/session"
	"billboardvis/pkg/store"
)

// maxUploadBytes caps a billboard upload.
const maxUploadBytes = 32 << 20

// AnalysisHandler serves the session and stage endpoints.
type AnalysisHandler struct {
	engine   *pipeline.Engine
	sessions *session.Store
	results  store.ResultStore   // Optional
	traces   pipeline.TraceSource // Optional
}

// NewAnalysisHandler creates a handler. results and traces may be nil.
func NewAnalysisHandler(engine *pipeline.Engine, sessions *session.Store, results store.ResultStore, traces pipeline.TraceSource) *AnalysisHandler {
	return &AnalysisHandler{
		engine:   engine,
		sessions: sessions,
		results:  results,
		traces:   traces,
	}
}

func (h *AnalysisHandler) session(r *http.Request) (*pipeline.Session, error) {
	id := r.PathValue("id")
	s, ok := h.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	return s, nil
}

// HandleCreate starts a new empty session.
func (h *AnalysisHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	slog.Info("Session created", "session", s.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID})
}

// HandleDelete drops a session.
func (h *AnalysisHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type itemErrorResponse struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

type billboardsResponse struct {
	Count  int                 `json:"count"`
	Errors []itemErrorResponse `json:"errors"`
}

// HandleBillboards replaces the billboard set of a session. The body is a
// FeatureCollection or a layer envelope. Features that cannot be decoded are
// reported and left out.
func (h *AnalysisHandler) HandleBillboards(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	fc, err := geo.UnwrapLayers(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	billboards, errs := geo.DecodeBillboards(fc)
	s.SetBillboards(billboards)

	resp := billboardsResponse{Count: len(billboards), Errors: []itemErrorResponse{}}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, itemErrorResponse{Index: e.Index, ID: e.ID, Error: e.Err.Error()})
	}
	slog.Info("Billboards uploaded", "session", s.ID, "count", resp.Count, "rejected", len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

// HandleExposure runs the exposure stage (GEA).
func (h *AnalysisHandler) HandleExposure(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, pipeline.StageExposure)
}

// HandleOcclusion runs the occlusion stage (IA).
func (h *AnalysisHandler) HandleOcclusion(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, pipeline.StageOcclusion)
}

// HandleVisible runs the visible area stage (VA).
func (h *AnalysisHandler) HandleVisible(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, pipeline.StageVisible)
}

func (h *AnalysisHandler) runStage(w http.ResponseWriter, r *http.Request, stage pipeline.Stage) {
	s, err := h.session(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	rep, err := h.engine.RunStage(r.Context(), s, stage)
	if err != nil {
		slog.Warn("Stage failed", "session", s.ID, "stage", stage, "error", err)
		writeErr(w, err)
		return
	}

	data, err := json.Marshal(h.engine.StageFeatures(s, stage))
	if err != nil {
		writeErr(w, err)
		return
	}
	h.persist(r.Context(), s.ID, stage, data)

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Stage-Failures", fmt.Sprint(len(rep.Failures)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write stage response", "error", err)
	}
}

func (h *AnalysisHandler) persist(ctx context.Context, sessionID string, stage pipeline.Stage, data []byte) {
	if h.results == nil {
		return
	}
	if err := h.results.SaveStageResult(ctx, sessionID, string(stage), data); err != nil {
		slog.Warn("Failed to persist stage result", "session", sessionID, "stage", stage, "error", err)
	}
}

// HandleReport lists the reports of the stages run so far, in stage order.
func (h *AnalysisHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	reports := s.Reports()
	out := make([]pipeline.StageReport, 0, len(reports))
	for _, st := range []pipeline.Stage{pipeline.StageExposure, pipeline.StageOcclusion, pipeline.StageVisible} {
		if rep, ok := reports[st]; ok {
			out = append(out, rep)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    s.ID,
		"billboards": len(s.Billboards()),
		"stages":     out,
	})
}

// HandleTraces returns the GPS fixes inside the visible area.
func (h *AnalysisHandler) HandleTraces(w http.ResponseWriter, r *http.Request) {
	if h.traces == nil {
		writeError(w, http.StatusNotImplemented, "trace data not configured")
		return
	}
	s, err := h.session(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	va := s.Visible()
	if va == nil {
		writeErr(w, fmt.Errorf("traces before visible area: %w", pipeline.ErrStageOrder))
		return
	}

	rep, err := pipeline.TracesInRegion(r.Context(), h.traces, va)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
