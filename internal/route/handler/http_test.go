package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/geo"
	"github.com/example/spaceryder/internal/route/handler"
	routesvc "github.com/example/spaceryder/internal/route/service"
	"github.com/example/spaceryder/internal/trip/repository"
)

func TestEstimateEndpoint(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.DefaultFleet())
	h := handler.New(routesvc.New(repo, repo, geo.NewCalculator(0))).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/estimate?from=SFO&to=JFK", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		From         string  `json:"from"`
		To           string  `json:"to"`
		DistanceKM   float64 `json:"distance_km"`
		TravelTimeMS int64   `json:"travel_time_ms"`
		Spaceship    *struct {
			Code string `json:"code"`
		} `json:"spaceship"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "SFO", body.From)
	require.Positive(t, body.TravelTimeMS)
	require.NotNil(t, body.Spaceship)
	require.Equal(t, "SS-003", body.Spaceship.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/estimate?from=SFO&to=XXX", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
