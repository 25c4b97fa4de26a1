package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/ridedispatch/internal/dispatch"
	"github.com/example/ridedispatch/internal/ride/domain"
	"github.com/example/ridedispatch/internal/ride/pricing"
	"github.com/example/ridedispatch/internal/ride/repository"
)

// HTTP exposes driver and ride endpoints.
type HTTP struct {
	dispatch *dispatch.Controller
	idem     *repository.MemoryIdempotencyRepo
}

// NewHTTP constructs a handler.
func NewHTTP(c *dispatch.Controller, idem *repository.MemoryIdempotencyRepo) *HTTP {
	if idem == nil {
		idem = repository.NewMemoryIdempotencyRepo()
	}
	return &HTTP{dispatch: c, idem: idem}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Post("/v1/drivers", h.registerDriver)
	r.Get("/v1/drivers", h.listDrivers)
	r.Put("/v1/drivers/{name}/location", h.moveDriver)
	r.Post("/v1/rides", h.bookRide)
	r.Get("/v1/rides", h.history)
	r.Get("/v1/rides/{id}", h.getRide)
	r.Post("/v1/rides/{id}/complete", h.completeRide)
	return r
}

type registerDriverRequest struct {
	Name     string          `json:"name"`
	Location domain.GeoPoint `json:"location"`
}

func (h *HTTP) registerDriver(w http.ResponseWriter, r *http.Request) {
	var payload registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	driver, err := h.dispatch.RegisterDriver(r.Context(), payload.Name, payload.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, driver)
}

func (h *HTTP) listDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatch.Drivers(r.Context()))
}

func (h *HTTP) moveDriver(w http.ResponseWriter, r *http.Request) {
	var point domain.GeoPoint
	if err := json.NewDecoder(r.Body).Decode(&point); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	driver, err := h.dispatch.MoveDriver(r.Context(), chi.URLParam(r, "name"), point)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

type bookRideRequest struct {
	Rider domain.Rider    `json:"rider"`
	Drop  domain.GeoPoint `json:"drop"`
}

func (h *HTTP) bookRide(w http.ResponseWriter, r *http.Request) {
	var payload bookRideRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Rider.Name == "" {
		http.Error(w, "rider.name is required", http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		release, err := h.idem.Acquire(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer release()
		if rideID, ok := h.idem.RideForKey(r.Context(), key); ok {
			if ride, err := h.dispatch.Ride(r.Context(), rideID); err == nil {
				writeJSON(w, http.StatusOK, ride)
				return
			}
		}
	}

	ride, err := h.dispatch.BookRide(r.Context(), payload.Rider, payload.Drop)
	if err != nil {
		writeError(w, err)
		return
	}
	if key != "" {
		h.idem.Remember(r.Context(), key, ride.ID)
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (h *HTTP) history(w http.ResponseWriter, r *http.Request) {
	rides, err := h.dispatch.History(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (h *HTTP) getRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.dispatch.Ride(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *HTTP) completeRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.dispatch.CompleteRideWith(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("policy"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidDriver), errors.Is(err, pricing.ErrUnknownPolicy):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownDriver), errors.Is(err, domain.ErrRideNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateDriver), errors.Is(err, domain.ErrNoDriverAvailable), errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidFare):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
