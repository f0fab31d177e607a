package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/queue"
	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/service"
)

// HTTP exposes trip endpoints. Booking and cancellation are accepted as jobs
// and answered with 202; reads and the start/complete transitions run inline.
type HTTP struct {
	svc    *service.Service
	jobs   *queue.Producer
	events http.Handler
	logger *zap.Logger
}

// NewHTTP constructs a handler. events serves GET /v1/trips/events and may
// be nil.
func NewHTTP(svc *service.Service, jobs *queue.Producer, events http.Handler, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, jobs: jobs, events: events, logger: logger}
}

// Router builds the chi router with all endpoints. mws run after the
// standard request middlewares.
func (h *HTTP) Router(mws ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(mws...)
	h.Routes(r)
	return r
}

// Routes mounts the trip and job endpoints on r.
func (h *HTTP) Routes(r chi.Router) {
	r.Post("/v1/trips", h.requestTrip)
	r.Get("/v1/trips", h.listTrips)
	if h.events != nil {
		r.Method(http.MethodGet, "/v1/trips/events", h.events)
	}
	r.Get("/v1/trips/{id}", h.getTrip)
	r.Post("/v1/trips/{id}/cancel", h.cancelTrip)
	r.Post("/v1/trips/{id}/start", h.startTrip)
	r.Post("/v1/trips/{id}/complete", h.completeTrip)
	r.Get("/v1/jobs/{id}", h.getJob)
}

type jobAccepted struct {
	JobID string `json:"job_id"`
}

// requestTrip enqueues a booking. An Idempotency-Key header makes retries
// return the first job; the key is bound to its normalized body and a
// different body under the same key is answered with 422.
func (h *HTTP) requestTrip(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	jobID, err := h.jobs.EnqueueRequestTrip(r.Context(), payload, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func (h *HTTP) cancelTrip(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.jobs.EnqueueCancelTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func (h *HTTP) listTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePositive(q.Get("page"), domain.DefaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := parsePositive(q.Get("limit"), domain.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	status, err := domain.ParseTripStatus(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.ListTrips(r.Context(), domain.PageRequest{Page: page, Limit: limit}, service.ListFilter{
		Status:                status,
		DepartureLocationCode: strings.TrimSpace(q.Get("departure_location_code")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTP) getTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := tripID(w, r)
	if !ok {
		return
	}
	trip, err := h.svc.GetTripStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTP) startTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := tripID(w, r)
	if !ok {
		return
	}
	trip, err := h.svc.StartTrip(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTP) completeTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := tripID(w, r)
	if !ok {
		return
	}
	trip, err := h.svc.CompleteTrip(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTP) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func tripID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return uuid.Nil, false
	}
	return id, true
}

func parsePositive(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, domain.ErrInvalidInput
	}
	return v, nil
}

// StatusFor maps an error from the booking engine or the job queue onto an
// HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownLocation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTripNotFound), errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoVehicleAvailable), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, queue.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrDispatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTP) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
