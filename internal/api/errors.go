package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"billboardvis/pkg/exposure"
	"billboardvis/pkg/pipeline"
)

var errSessionNotFound = errors.New("session not found")

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// statusFor maps a stage error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrStageOrder), errors.Is(err, pipeline.ErrStaleInput):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoBillboards), errors.Is(err, exposure.ErrNoExposure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrBuildingsUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
