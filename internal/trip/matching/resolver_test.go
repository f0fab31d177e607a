package matching_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/matching"
)

type stubDirectory struct {
	ships []domain.Spaceship
	err   error
}

func (s *stubDirectory) FindByLocation(_ context.Context, code string) ([]domain.Spaceship, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Spaceship
	for _, ship := range s.ships {
		if ship.Location == code {
			out = append(out, ship)
		}
	}
	return out, nil
}

func (s *stubDirectory) UpdateLocation(context.Context, uuid.UUID, string) error { return nil }

func (s *stubDirectory) Relocate(context.Context, uuid.UUID, string, string) error { return nil }

func fleet() *stubDirectory {
	return &stubDirectory{ships: []domain.Spaceship{
		{ID: uuid.New(), Code: "SS-001", Name: "Galactic Voyager", Location: "JFK"},
		{ID: uuid.New(), Code: "SS-002", Name: "Star Hopper", Location: "JFK"},
		{ID: uuid.New(), Code: "SS-003", Name: "Cosmic Cruiser", Location: "SFO"},
	}}
}

func TestFindAvailableFiltersByLocationInOrder(t *testing.T) {
	dir := fleet()
	r := matching.NewResolver(dir, nil, zap.NewNop(), matching.ResolverConfig{})

	ships, err := r.FindAvailable(context.Background(), "JFK", time.Now())
	require.NoError(t, err)
	require.Len(t, ships, 2)
	require.Equal(t, "SS-001", ships[0].Code)
	require.Equal(t, "SS-002", ships[1].Code)

	none, err := r.FindAvailable(context.Background(), "LAX", time.Now())
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFindAvailablePropagatesDirectoryError(t *testing.T) {
	r := matching.NewResolver(&stubDirectory{err: errors.New("db down")}, nil, nil, matching.ResolverConfig{})
	_, err := r.FindAvailable(context.Background(), "JFK", time.Now())
	require.Error(t, err)
}

func TestHoldReturnsBusyWhenLocked(t *testing.T) {
	locks := matching.NewMemoryLocationLock()
	ok, err := locks.TryLock(context.Background(), "JFK", "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r := matching.NewResolver(fleet(), locks, zap.NewNop(), matching.ResolverConfig{MaxAttempts: 2, Backoff: time.Millisecond})
	_, err = r.Hold(context.Background(), "JFK", time.Now())
	require.ErrorIs(t, err, domain.ErrLocationBusy)
	require.False(t, domain.IsPermanent(err))
}

func TestHoldSerialisesSameLocation(t *testing.T) {
	locks := matching.NewMemoryLocationLock()
	r := matching.NewResolver(fleet(), locks, zap.NewNop(), matching.ResolverConfig{MaxAttempts: 50, Backoff: time.Millisecond})

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hold, err := r.Hold(context.Background(), "JFK", time.Now())
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			require.NoError(t, hold.Release(context.Background()))
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestHoldListsVehicles(t *testing.T) {
	r := matching.NewResolver(fleet(), matching.NewMemoryLocationLock(), nil, matching.ResolverConfig{})
	hold, err := r.Hold(context.Background(), "SFO", time.Now())
	require.NoError(t, err)
	require.Len(t, hold.Vehicles, 1)
	require.Equal(t, "SS-003", hold.Vehicles[0].Code)
	require.NoError(t, hold.Release(context.Background()))

	var nilHold *matching.Hold
	require.NoError(t, nilHold.Release(context.Background()))
}
