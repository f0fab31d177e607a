package repository_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/repository"
)

func TestRedisAirportCacheReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	fallback := repository.NewMemoryRepository(repository.DefaultFleet())
	cache := repository.NewRedisAirportCache(client, "", fallback, zap.NewNop())

	airport, ok, err := cache.ResolveAirport(ctx, "JFK")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 40.6413, airport.Location.Lat, 1e-4)

	positions, err := client.GeoPos(ctx, "airports:geo", "JFK").Result()
	require.NoError(t, err)
	require.NotNil(t, positions[0], "miss fills the cache")

	_, ok, err = cache.ResolveAirport(ctx, "ZZZ")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisAirportCacheServesWarmEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	cache := repository.NewRedisAirportCache(client, "geo:test", nil, nil)
	require.NoError(t, cache.Warm(ctx, repository.DefaultFleet().Airports))

	airport, ok, err := cache.ResolveAirport(ctx, "LAX")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, -118.4085, airport.Location.Lng, 1e-4)
}
