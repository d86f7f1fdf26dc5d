package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"
	"billboardvis/pkg/store"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BuildingsHandler serves the building dataset.
type BuildingsHandler struct {
	store store.BuildingStore
}

// NewBuildingsHandler creates a new handler.
func NewBuildingsHandler(st store.BuildingStore) *BuildingsHandler {
	return &BuildingsHandler{store: st}
}

// HandleList returns the buildings as a FeatureCollection. An optional
// bbox=minLon,minLat,maxLon,maxLat query limits the result.
func (h *BuildingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		buildings []model.Building
		err       error
	)
	if q := r.URL.Query().Get("bbox"); q != "" {
		b, perr := parseBBox(q)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		buildings, err = h.store.BuildingsInBound(r.Context(), b)
	} else {
		buildings, err = h.store.ListBuildings(r.Context())
	}
	if err != nil {
		slog.Error("Failed to load buildings", "error", err)
		writeError(w, http.StatusServiceUnavailable, "building data unavailable")
		return
	}

	fc := geojson.NewFeatureCollection()
	for i := range buildings {
		fc.Append(geo.BuildingFeature(buildings[i]))
	}
	writeJSON(w, http.StatusOK, fc)
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox value %q", p)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox min exceeds max")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
