package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"billboardvis/pkg/version"
)

// NewServer creates and configures the HTTP server.
// shutdown is called, after the response is flushed, by POST /api/shutdown.
func NewServer(addr string, analysis *AnalysisHandler, buildings *BuildingsHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Sessions
	mux.HandleFunc("POST /api/sessions", analysis.HandleCreate)
	mux.HandleFunc("DELETE /api/sessions/{id}", analysis.HandleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/billboards", analysis.HandleBillboards)

	// 3. Stages
	mux.HandleFunc("GET /api/sessions/{id}/gea", analysis.HandleExposure)
	mux.HandleFunc("GET /api/sessions/{id}/ia", analysis.HandleOcclusion)
	mux.HandleFunc("GET /api/sessions/{id}/va", analysis.HandleVisible)
	mux.HandleFunc("GET /api/sessions/{id}/report", analysis.HandleReport)
	mux.HandleFunc("GET /api/sessions/{id}/traces", analysis.HandleTraces)

	// 4. Datasets
	mux.HandleFunc("GET /api/buildings", buildings.HandleList)

	// 5. Shutdown
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Give the response time to flush
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Occlusion runs on large datasets
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": %q}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
