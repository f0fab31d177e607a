// Package geo computes great-circle distances and the travel times derived from them.
package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusKM is the mean radius of the Earth.
	EarthRadiusKM = 6371.0
	// DefaultCruiseSpeedKMH is the average speed used when none is configured.
	DefaultCruiseSpeedKMH = 1000.0
)

// Distance returns the haversine distance in kilometers between two
// coordinates given in degrees. Invalid input yields NaN; callers must check.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dphi := toRadians(lat2 - lat1)
	dlambda := toRadians(lon2 - lon1)

	sinDphi := math.Sin(dphi / 2)
	sinDlambda := math.Sin(dlambda / 2)
	a := sinDphi*sinDphi + math.Cos(phi1)*math.Cos(phi2)*sinDlambda*sinDlambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// TravelTime converts a distance into a duration at DefaultCruiseSpeedKMH.
func TravelTime(distanceKM float64) time.Duration {
	return TravelTimeAt(distanceKM, DefaultCruiseSpeedKMH)
}

// TravelTimeAt converts a distance into a duration, rounded to the millisecond,
// at the given cruise speed. Negative, NaN or infinite inputs give zero.
func TravelTimeAt(distanceKM, speedKMH float64) time.Duration {
	if !finitePositive(distanceKM) || !finitePositive(speedKMH) {
		return 0
	}
	ms := math.Round(distanceKM / speedKMH * float64(time.Hour/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Calculator binds a cruise speed so callers can inject a tuned value.
type Calculator struct {
	CruiseSpeedKMH float64
}

// NewCalculator falls back to DefaultCruiseSpeedKMH for non-positive speeds.
func NewCalculator(speedKMH float64) Calculator {
	if !finitePositive(speedKMH) {
		speedKMH = DefaultCruiseSpeedKMH
	}
	return Calculator{CruiseSpeedKMH: speedKMH}
}

func (c Calculator) Distance(lat1, lon1, lat2, lon2 float64) float64 {
	return Distance(lat1, lon1, lat2, lon2)
}

func (c Calculator) TravelTime(distanceKM float64) time.Duration {
	return TravelTimeAt(distanceKM, c.CruiseSpeedKMH)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
