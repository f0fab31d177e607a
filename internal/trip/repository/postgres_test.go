package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/testutil"
	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/repository"
)

func newPostgres(t *testing.T) *repository.PostgresRepository {
	t.Helper()
	db := testutil.NewSQLDB(t)
	require.NoError(t, testutil.Migrate(context.Background(), db))
	testutil.Reset(t, db)
	return repository.NewPostgresRepository(db)
}

func TestPostgresRepositoryBookingTx(t *testing.T) {
	repo := newPostgres(t)
	ctx := context.Background()
	require.NoError(t, repo.SeedFleet(ctx, repository.DefaultFleet()))

	ships, err := repo.FindByLocation(ctx, "JFK")
	require.NoError(t, err)
	require.Len(t, ships, 2)
	require.Equal(t, "SS-001", ships[0].Code)

	at := time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC)
	trip := domain.Trip{
		ID:                      uuid.New(),
		DepartureLocationCode:   "JFK",
		DestinationLocationCode: "LAX",
		DepartureAt:             at,
		ArrivalAt:               at.Add(4 * time.Hour),
		SpaceshipID:             ships[0].ID,
		Status:                  domain.StatusScheduled,
	}
	err = repo.InTx(ctx, func(tx domain.Repository) error {
		if _, err := tx.CreateTrip(ctx, trip); err != nil {
			return err
		}
		if err := tx.Relocate(ctx, trip.SpaceshipID, "JFK", "LAX"); err != nil {
			return err
		}
		return tx.CreateTripEvent(ctx, domain.TripEvent{TripID: trip.ID, Type: domain.EventTripScheduled, Trip: trip})
	})
	require.NoError(t, err)

	got, err := repo.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, trip, got)

	err = repo.Relocate(ctx, trip.SpaceshipID, "JFK", "SFO")
	require.ErrorIs(t, err, domain.ErrVehicleMoved)

	page, total, err := repo.PageTrips(ctx, domain.TripQuery{Limit: 10, DepartureLocationCode: "JFK"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, page, 1)

	_, err = repo.GetTripByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrTripNotFound)

	started, err := repo.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, started.Status)

	_, err = repo.TransitionTrip(ctx, trip.ID, domain.StatusScheduled, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = repo.TransitionTrip(ctx, uuid.New(), domain.StatusScheduled, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrTripNotFound)
}

func TestPostgresRepositoryRollback(t *testing.T) {
	repo := newPostgres(t)
	ctx := context.Background()
	ships, err := repo.FindByLocation(ctx, "SFO")
	require.NoError(t, err)
	require.Len(t, ships, 1)

	err = repo.InTx(ctx, func(tx domain.Repository) error {
		require.NoError(t, tx.Relocate(ctx, ships[0].ID, "SFO", "LAX"))
		return tx.Relocate(ctx, ships[0].ID, "SFO", "JFK")
	})
	require.ErrorIs(t, err, domain.ErrVehicleMoved)

	after, err := repo.FindByLocation(ctx, "SFO")
	require.NoError(t, err)
	require.Len(t, after, 1)

	airport, ok, err := repo.ResolveAirport(ctx, "LAX")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 33.9416, airport.Location.Lat, 1e-9)

	airports, err := repo.ListAirports(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, airports)
	for i := 1; i < len(airports); i++ {
		require.Less(t, airports[i-1].Code, airports[i].Code)
	}
}
