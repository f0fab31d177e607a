package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/repository"
)

func newTrip(dep string, at time.Time, status domain.TripStatus) domain.Trip {
	return domain.Trip{
		ID:                      uuid.New(),
		DepartureLocationCode:   dep,
		DestinationLocationCode: "LAX",
		DepartureAt:             at,
		ArrivalAt:               at.Add(time.Hour),
		SpaceshipID:             uuid.New(),
		Status:                  status,
	}
}

func TestMemoryRepositorySeedsFleet(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.DefaultFleet())
	ctx := context.Background()

	ships, err := repo.FindByLocation(ctx, "JFK")
	require.NoError(t, err)
	require.Len(t, ships, 2)
	require.Equal(t, "SS-001", ships[0].Code)
	require.Equal(t, "SS-002", ships[1].Code)

	airport, ok, err := repo.ResolveAirport(ctx, "SFO")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 37.6213, airport.Location.Lat, 1e-9)

	_, ok, err = repo.ResolveAirport(ctx, "ZZZ")
	require.NoError(t, err)
	require.False(t, ok)

	airports, err := repo.ListAirports(ctx)
	require.NoError(t, err)
	var codes []string
	for _, a := range airports {
		codes = append(codes, a.Code)
	}
	require.IsIncreasing(t, codes)
	require.Contains(t, codes, "JFK")
}

func TestMemoryRepositoryTripLifecycle(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.Fleet{})
	ctx := context.Background()

	_, err := repo.GetTripByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrTripNotFound)

	trip := newTrip("JFK", time.Now().UTC(), domain.StatusScheduled)
	_, err = repo.CreateTrip(ctx, trip)
	require.NoError(t, err)
	_, err = repo.CreateTrip(ctx, trip)
	require.Error(t, err)

	_, err = repo.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusCancelled)
	require.NoError(t, err)

	got, err := repo.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)

	_, err = repo.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusInProgress)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.TransitionTrip(ctx, uuid.New(), domain.StatusScheduled, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrTripNotFound)
}

func TestMemoryRepositoryPageTrips(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.Fleet{})
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		dep := "JFK"
		if i%2 == 1 {
			dep = "SFO"
		}
		trip := newTrip(dep, base.Add(time.Duration(i)*time.Hour), domain.StatusScheduled)
		_, err := repo.CreateTrip(ctx, trip)
		require.NoError(t, err)
		ids = append(ids, trip.ID)
	}

	page, total, err := repo.PageTrips(ctx, domain.TripQuery{Offset: 0, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, ids[4], page[0].ID)
	require.Equal(t, ids[3], page[1].ID)

	page, _, err = repo.PageTrips(ctx, domain.TripQuery{Offset: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[0], page[0].ID)

	page, total, err = repo.PageTrips(ctx, domain.TripQuery{Offset: 10, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, page)

	page, total, err = repo.PageTrips(ctx, domain.TripQuery{Limit: 10, DepartureLocationCode: "SFO"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, page, 2)

	page, total, err = repo.PageTrips(ctx, domain.TripQuery{Limit: 10, Status: domain.StatusCancelled})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, page)
}

func TestMemoryRepositoryRelocate(t *testing.T) {
	fleet := repository.DefaultFleet()
	repo := repository.NewMemoryRepository(fleet)
	ctx := context.Background()
	ship := fleet.Spaceships[0]

	require.NoError(t, repo.Relocate(ctx, ship.ID, "JFK", "LAX"))
	err := repo.Relocate(ctx, ship.ID, "JFK", "SFO")
	require.ErrorIs(t, err, domain.ErrVehicleMoved)

	lax, err := repo.FindByLocation(ctx, "LAX")
	require.NoError(t, err)
	require.Len(t, lax, 1)
	require.Equal(t, ship.ID, lax[0].ID)

	require.NoError(t, repo.UpdateLocation(ctx, ship.ID, "JFK"))
	require.Error(t, repo.UpdateLocation(ctx, uuid.New(), "JFK"))
}

func TestMemoryRepositoryInTxCommits(t *testing.T) {
	fleet := repository.DefaultFleet()
	repo := repository.NewMemoryRepository(fleet)
	ctx := context.Background()
	ship := fleet.Spaceships[0]
	trip := newTrip("JFK", time.Now().UTC(), domain.StatusScheduled)

	err := repo.InTx(ctx, func(tx domain.Repository) error {
		if _, err := tx.CreateTrip(ctx, trip); err != nil {
			return err
		}
		if err := tx.Relocate(ctx, ship.ID, "JFK", "LAX"); err != nil {
			return err
		}
		staged, err := tx.FindByLocation(ctx, "LAX")
		require.NoError(t, err)
		require.Len(t, staged, 1)

		_, total, err := tx.PageTrips(ctx, domain.TripQuery{Limit: 10})
		require.NoError(t, err)
		require.Equal(t, 1, total)

		return tx.CreateTripEvent(ctx, domain.TripEvent{TripID: trip.ID, Type: domain.EventTripScheduled, Trip: trip})
	})
	require.NoError(t, err)

	_, err = repo.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	lax, err := repo.FindByLocation(ctx, "LAX")
	require.NoError(t, err)
	require.Len(t, lax, 1)
	events := repo.Events()
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].ID)
}

func TestMemoryRepositoryInTxRollsBack(t *testing.T) {
	fleet := repository.DefaultFleet()
	repo := repository.NewMemoryRepository(fleet)
	ctx := context.Background()
	ship := fleet.Spaceships[0]
	trip := newTrip("JFK", time.Now().UTC(), domain.StatusScheduled)
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(tx domain.Repository) error {
		_, err := tx.CreateTrip(ctx, trip)
		require.NoError(t, err)
		require.NoError(t, tx.Relocate(ctx, ship.ID, "JFK", "LAX"))
		require.NoError(t, tx.CreateTripEvent(ctx, domain.TripEvent{TripID: trip.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetTripByID(ctx, trip.ID)
	require.ErrorIs(t, err, domain.ErrTripNotFound)
	jfk, err := repo.FindByLocation(ctx, "JFK")
	require.NoError(t, err)
	require.Len(t, jfk, 2)
	require.Empty(t, repo.Events())
}

func TestMemoryRepositoryInTxDetectsConcurrentMove(t *testing.T) {
	fleet := repository.DefaultFleet()
	repo := repository.NewMemoryRepository(fleet)
	ctx := context.Background()
	ship := fleet.Spaceships[0]

	err := repo.InTx(ctx, func(tx domain.Repository) error {
		require.NoError(t, tx.Relocate(ctx, ship.ID, "JFK", "LAX"))
		require.NoError(t, repo.Relocate(ctx, ship.ID, "JFK", "SFO"))
		return nil
	})
	require.ErrorIs(t, err, domain.ErrVehicleMoved)

	sfo, err := repo.FindByLocation(ctx, "SFO")
	require.NoError(t, err)
	require.Len(t, sfo, 2)
}

func TestMemoryRepositoryInTxDetectsConcurrentTransition(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.Fleet{})
	ctx := context.Background()
	trip := newTrip("JFK", time.Now().UTC(), domain.StatusScheduled)
	_, err := repo.CreateTrip(ctx, trip)
	require.NoError(t, err)

	err = repo.InTx(ctx, func(tx domain.Repository) error {
		_, err := tx.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusInProgress)
		require.NoError(t, err)
		_, err = repo.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusCancelled)
		require.NoError(t, err)
		return tx.CreateTripEvent(ctx, domain.TripEvent{TripID: trip.ID, Type: domain.EventTripStarted})
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := repo.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)
	require.Empty(t, repo.Events())
}
