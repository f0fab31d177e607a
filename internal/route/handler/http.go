package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	routesvc "github.com/example/spaceryder/internal/route/service"
	"github.com/example/spaceryder/internal/trip/domain"
)

// HTTP exposes the /v1/routes/estimate endpoint.
type HTTP struct {
	svc *routesvc.Service
}

// New creates the handler.
func New(svc *routesvc.Service) *HTTP {
	return &HTTP{svc: svc}
}

// Routes mounts the endpoint on r.
func (h *HTTP) Routes(r chi.Router) {
	r.Get("/v1/routes/estimate", h.estimate)
}

// Router builds a standalone chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	est, err := h.svc.EstimateRoute(r.Context(), q.Get("from"), q.Get("to"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, est)
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownLocation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
