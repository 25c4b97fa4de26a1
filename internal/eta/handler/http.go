package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	etasvc "github.com/example/ridedispatch/internal/eta/service"
	"github.com/example/ridedispatch/internal/ride/domain"
)

// HTTP exposes the /v1/eta endpoint.
type HTTP struct {
	svc *etasvc.Service
}

// New creates the handler.
func New(svc *etasvc.Service) *HTTP {
	return &HTTP{svc: svc}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/eta", h.estimate)
	return r
}

func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	pickup, err := parsePoint(r, "pickup")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	drop, err := parsePoint(r, "drop")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := map[string]any{
		"trip_eta_sec": h.svc.EstimateTrip(r.Context(), pickup, drop).Seconds(),
	}
	if eta, driver, ok := h.svc.EstimatePickup(r.Context(), pickup); ok {
		resp["driver"] = driver
		resp["driver_eta_sec"] = eta.Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePoint(r *http.Request, prefix string) (domain.GeoPoint, error) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get(prefix+"_lat"), 64)
	if err != nil {
		return domain.GeoPoint{}, err
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get(prefix+"_lng"), 64)
	if err != nil {
		return domain.GeoPoint{}, err
	}
	return domain.GeoPoint{Lat: lat, Lng: lng}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
