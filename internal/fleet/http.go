package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
)

// Availability lists the spaceships free to depart from a location.
type Availability interface {
	FindAvailable(ctx context.Context, code string, departure time.Time) ([]domain.Spaceship, error)
}

// HTTP serves read-only views of the fleet: available spaceships per airport
// and the airport directory.
type HTTP struct {
	ships    Availability
	airports domain.AirportDirectory
	lister   domain.AirportLister
	logger   *zap.Logger
}

// NewHTTP builds the handler.
func NewHTTP(ships Availability, airports domain.AirportDirectory, lister domain.AirportLister, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{ships: ships, airports: airports, lister: lister, logger: logger}
}

// Routes mounts the fleet endpoints on r.
func (h *HTTP) Routes(r chi.Router) {
	r.Get("/v1/spaceships", h.spaceships)
	r.Get("/v1/airports", h.listAirports)
	r.Get("/v1/airports/{code}", h.airport)
}

// SpaceshipsView is the body of GET /v1/spaceships.
type SpaceshipsView struct {
	Location   string             `json:"location"`
	Spaceships []domain.Spaceship `json:"spaceships"`
}

func (h *HTTP) spaceships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := strings.ToUpper(strings.TrimSpace(q.Get("location")))
	if code == "" {
		h.fail(w, fmt.Errorf("%w: location is required", domain.ErrInvalidInput))
		return
	}
	at := time.Now().UTC()
	if raw := strings.TrimSpace(q.Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.fail(w, fmt.Errorf("%w: at must be an RFC 3339 timestamp", domain.ErrInvalidInput))
			return
		}
		at = parsed.UTC()
	}
	if _, err := h.resolve(r.Context(), code); err != nil {
		h.fail(w, err)
		return
	}
	ships, err := h.ships.FindAvailable(r.Context(), code, at)
	if err != nil {
		h.fail(w, err)
		return
	}
	if ships == nil {
		ships = []domain.Spaceship{}
	}
	writeJSON(w, http.StatusOK, SpaceshipsView{Location: code, Spaceships: ships})
}

func (h *HTTP) listAirports(w http.ResponseWriter, r *http.Request) {
	airports, err := h.lister.ListAirports(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Airport{"airports": airports})
}

func (h *HTTP) airport(w http.ResponseWriter, r *http.Request) {
	airport, err := h.resolve(r.Context(), strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code"))))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownLocation) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, airport)
}

func (h *HTTP) resolve(ctx context.Context, code string) (domain.Airport, error) {
	airport, ok, err := h.airports.ResolveAirport(ctx, code)
	if err != nil {
		return domain.Airport{}, fmt.Errorf("resolve airport %s: %w", code, err)
	}
	if !ok {
		return domain.Airport{}, fmt.Errorf("%w: %s", domain.ErrUnknownLocation, code)
	}
	return airport, nil
}

func (h *HTTP) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownLocation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("fleet request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
