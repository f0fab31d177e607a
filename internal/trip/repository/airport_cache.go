package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
)

const defaultAirportKey = "airports:geo"

// RedisAirportCache answers airport lookups from a Redis GEO set and falls
// back to the authoritative directory on a miss.
type RedisAirportCache struct {
	client   redis.Cmdable
	key      string
	fallback domain.AirportDirectory
	logger   *zap.Logger
}

// NewRedisAirportCache constructs a read-through airport cache.
func NewRedisAirportCache(client redis.Cmdable, key string, fallback domain.AirportDirectory, logger *zap.Logger) *RedisAirportCache {
	if key == "" {
		key = defaultAirportKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisAirportCache{client: client, key: key, fallback: fallback, logger: logger}
}

// Warm loads airports into the GEO set.
func (c *RedisAirportCache) Warm(ctx context.Context, airports []domain.Airport) error {
	if len(airports) == 0 {
		return nil
	}
	locs := make([]*redis.GeoLocation, 0, len(airports))
	for _, a := range airports {
		locs = append(locs, &redis.GeoLocation{Name: a.Code, Longitude: a.Location.Lng, Latitude: a.Location.Lat})
	}
	if err := c.client.GeoAdd(ctx, c.key, locs...).Err(); err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// ResolveAirport implements domain.AirportDirectory. A Redis failure is
// logged and served from the fallback directory.
func (c *RedisAirportCache) ResolveAirport(ctx context.Context, code string) (domain.Airport, bool, error) {
	positions, err := c.client.GeoPos(ctx, c.key, code).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("airport cache lookup failed", zap.String("code", code), zap.Error(err))
	}
	if err == nil && len(positions) == 1 && positions[0] != nil {
		return domain.Airport{Code: code, Location: domain.GeoPoint{Lat: positions[0].Latitude, Lng: positions[0].Longitude}}, true, nil
	}
	if c.fallback == nil {
		return domain.Airport{}, false, nil
	}
	airport, ok, err := c.fallback.ResolveAirport(ctx, code)
	if err != nil || !ok {
		return airport, ok, err
	}
	if werr := c.Warm(ctx, []domain.Airport{airport}); werr != nil {
		c.logger.Warn("airport cache fill failed", zap.String("code", code), zap.Error(werr))
	}
	return airport, true, nil
}
