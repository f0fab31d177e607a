package geo_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/geo"
)

var (
	jfk = [2]float64{40.6413, -73.7781}
	lax = [2]float64{33.9416, -118.4085}
	sfo = [2]float64{37.6213, -122.3790}
)

func TestDistanceReflexive(t *testing.T) {
	for _, p := range [][2]float64{jfk, lax, sfo, {0, 0}, {-89.9, 179.9}} {
		require.Zero(t, geo.Distance(p[0], p[1], p[0], p[1]))
	}
}

func TestDistanceSymmetric(t *testing.T) {
	ab := geo.Distance(jfk[0], jfk[1], lax[0], lax[1])
	ba := geo.Distance(lax[0], lax[1], jfk[0], jfk[1])
	require.InDelta(t, ab, ba, 1e-9)
}

func TestDistanceJFKToLAX(t *testing.T) {
	d := geo.Distance(jfk[0], jfk[1], lax[0], lax[1])
	require.InDelta(t, 3983, d, 15)
}

func TestDistanceNaNPropagates(t *testing.T) {
	require.True(t, math.IsNaN(geo.Distance(math.NaN(), 0, 1, 1)))
}

func TestTravelTime(t *testing.T) {
	require.Equal(t, time.Hour, geo.TravelTime(1000))
	require.Equal(t, 2466*time.Millisecond*3600, geo.TravelTime(2466))
	require.Equal(t, geo.TravelTime(3983.2), geo.TravelTime(3983.2))
	require.Less(t, geo.TravelTime(100), geo.TravelTime(101))
	require.Zero(t, geo.TravelTime(0))
	require.Zero(t, geo.TravelTime(-5))
	require.Zero(t, geo.TravelTime(math.NaN()))
}

func TestCalculatorSpeed(t *testing.T) {
	c := geo.NewCalculator(500)
	require.Equal(t, 2*time.Hour, c.TravelTime(1000))

	fallback := geo.NewCalculator(0)
	require.Equal(t, geo.DefaultCruiseSpeedKMH, fallback.CruiseSpeedKMH)
}
