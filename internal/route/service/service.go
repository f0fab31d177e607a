package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/example/spaceryder/internal/geo"
	"github.com/example/spaceryder/internal/trip/domain"
)

// Estimate describes a route between two airports without booking it.
type Estimate struct {
	From         string            `json:"from"`
	To           string            `json:"to"`
	DistanceKM   float64           `json:"distance_km"`
	TravelTime   time.Duration     `json:"-"`
	TravelTimeMS int64             `json:"travel_time_ms"`
	Spaceship    *domain.Spaceship `json:"spaceship,omitempty"`
}

// Service calculates route distance and travel time from airport coordinates.
type Service struct {
	airports domain.AirportDirectory
	vehicles domain.VehicleDirectory
	calc     geo.Calculator
}

// New creates a route service. vehicles may be nil, in which case estimates
// never name a spaceship.
func New(airports domain.AirportDirectory, vehicles domain.VehicleDirectory, calc geo.Calculator) *Service {
	return &Service{airports: airports, vehicles: vehicles, calc: calc}
}

// EstimateRoute returns the great-circle distance and cruise time between
// two airports, plus the spaceship that would be booked right now.
func (s *Service) EstimateRoute(ctx context.Context, from, to string) (Estimate, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return Estimate{}, fmt.Errorf("%w: from and to are required", domain.ErrInvalidInput)
	}
	if from == to {
		return Estimate{}, fmt.Errorf("%w: from and to must differ", domain.ErrInvalidInput)
	}
	a, err := s.resolve(ctx, from)
	if err != nil {
		return Estimate{}, err
	}
	b, err := s.resolve(ctx, to)
	if err != nil {
		return Estimate{}, err
	}

	km := s.calc.Distance(a.Location.Lat, a.Location.Lng, b.Location.Lat, b.Location.Lng)
	if math.IsNaN(km) {
		return Estimate{}, fmt.Errorf("%w: invalid coordinates for %s or %s", domain.ErrInvalidInput, from, to)
	}
	d := s.calc.TravelTime(km)
	est := Estimate{From: a.Code, To: b.Code, DistanceKM: km, TravelTime: d, TravelTimeMS: d.Milliseconds()}

	if s.vehicles != nil {
		ships, err := s.vehicles.FindByLocation(ctx, a.Code)
		if err != nil {
			return Estimate{}, fmt.Errorf("find spaceships at %s: %w", a.Code, err)
		}
		if len(ships) > 0 {
			next := ships[0]
			est.Spaceship = &next
		}
	}
	return est, nil
}

func (s *Service) resolve(ctx context.Context, code string) (domain.Airport, error) {
	airport, ok, err := s.airports.ResolveAirport(ctx, code)
	if err != nil {
		return domain.Airport{}, fmt.Errorf("resolve airport %s: %w", code, err)
	}
	if !ok {
		return domain.Airport{}, fmt.Errorf("%w: %s", domain.ErrUnknownLocation, code)
	}
	return airport, nil
}
