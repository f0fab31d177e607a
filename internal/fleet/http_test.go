package fleet_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/fleet"
	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/matching"
	"github.com/example/spaceryder/internal/trip/repository"
)

type brokenAvailability struct{}

func (brokenAvailability) FindAvailable(context.Context, string, time.Time) ([]domain.Spaceship, error) {
	return nil, errors.New("connection reset")
}

func fleetRouter(ships fleet.Availability) (http.Handler, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository(repository.DefaultFleet())
	if ships == nil {
		ships = matching.NewResolver(repo, matching.NewMemoryLocationLock(), nil, matching.ResolverConfig{})
	}
	r := chi.NewRouter()
	fleet.NewHTTP(ships, repo, repo, nil).Routes(r)
	return r, repo
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSpaceshipsAtLocation(t *testing.T) {
	h, _ := fleetRouter(nil)

	rec := get(t, h, "/v1/spaceships?location=jfk")
	require.Equal(t, http.StatusOK, rec.Code)
	var view fleet.SpaceshipsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "JFK", view.Location)
	require.Len(t, view.Spaceships, 2)
	require.Equal(t, "SS-001", view.Spaceships[0].Code)

	rec = get(t, h, "/v1/spaceships?location=LAX&at=2025-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"location":"LAX","spaceships":[]}`, rec.Body.String())
}

func TestSpaceshipsRejectsBadQueries(t *testing.T) {
	h, _ := fleetRouter(nil)
	for _, path := range []string{
		"/v1/spaceships",
		"/v1/spaceships?location=XXX",
		"/v1/spaceships?location=JFK&at=soon",
	} {
		require.Equal(t, http.StatusBadRequest, get(t, h, path).Code, path)
	}

	h, _ = fleetRouter(brokenAvailability{})
	rec := get(t, h, "/v1/spaceships?location=JFK")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
}

func TestAirportLookup(t *testing.T) {
	h, _ := fleetRouter(nil)

	rec := get(t, h, "/v1/airports/sfo")
	require.Equal(t, http.StatusOK, rec.Code)
	var airport domain.Airport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &airport))
	require.Equal(t, "SFO", airport.Code)
	require.InDelta(t, 37.6213, airport.Location.Lat, 1e-9)

	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/airports/ZZZ").Code)

	rec = get(t, h, "/v1/airports")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Airports []domain.Airport `json:"airports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Airports, 3)
	require.Equal(t, "JFK", list.Airports[0].Code)
}
