package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Airport is reference data owned by the airport directory.
type Airport struct {
	Code     string   `json:"code" yaml:"code"`
	Location GeoPoint `json:"location" yaml:"location"`
}

// Spaceship is a vehicle docked at exactly one location code.
type Spaceship struct {
	ID       uuid.UUID `json:"id" yaml:"id"`
	Code     string    `json:"code" yaml:"code"`
	Name     string    `json:"name" yaml:"name"`
	Location string    `json:"location" yaml:"location"`
}

// Trip is a booked journey. ArrivalAt is always derived from the route, never supplied.
type Trip struct {
	ID                      uuid.UUID  `json:"id"`
	DepartureLocationCode   string     `json:"departure_location_code"`
	DestinationLocationCode string     `json:"destination_location_code"`
	DepartureAt             time.Time  `json:"departure_at"`
	ArrivalAt               time.Time  `json:"arrival_at"`
	SpaceshipID             uuid.UUID  `json:"spaceship_id"`
	Status                  TripStatus `json:"status"`
}

type TripEventType string

const (
	EventTripScheduled TripEventType = "TripScheduled"
	EventTripStarted   TripEventType = "TripStarted"
	EventTripCompleted TripEventType = "TripCompleted"
	EventTripCancelled TripEventType = "TripCancelled"
)

// EventTypeFor names the event recorded when a trip enters status.
func EventTypeFor(status TripStatus) TripEventType {
	switch status {
	case StatusInProgress:
		return EventTripStarted
	case StatusCompleted:
		return EventTripCompleted
	case StatusCancelled:
		return EventTripCancelled
	default:
		return EventTripScheduled
	}
}

type TripEvent struct {
	ID        int64         `json:"id"`
	TripID    uuid.UUID     `json:"trip_id"`
	Type      TripEventType `json:"type"`
	Trip      Trip          `json:"trip"`
	CreatedAt time.Time     `json:"created_at"`
}

// TripQuery selects one page of trips ordered by departure time, newest first.
type TripQuery struct {
	Offset                int
	Limit                 int
	Status                TripStatus
	DepartureLocationCode string
}

type TripStore interface {
	CreateTrip(ctx context.Context, trip Trip) (Trip, error)
	// TransitionTrip sets the status of trip id to to, provided it is still
	// from when the write lands. A stale from fails with ErrInvalidTransition.
	TransitionTrip(ctx context.Context, id uuid.UUID, from, to TripStatus) (Trip, error)
	GetTripByID(ctx context.Context, id uuid.UUID) (Trip, error)
	PageTrips(ctx context.Context, q TripQuery) ([]Trip, int, error)
	CreateTripEvent(ctx context.Context, event TripEvent) error
}

type VehicleDirectory interface {
	// FindByLocation returns the spaceships docked at code in insertion order.
	FindByLocation(ctx context.Context, code string) ([]Spaceship, error)
	// UpdateLocation moves a spaceship unconditionally.
	UpdateLocation(ctx context.Context, id uuid.UUID, code string) error
	// Relocate moves a spaceship only if it is still docked at from.
	// It returns ErrVehicleMoved when the spaceship has left from.
	Relocate(ctx context.Context, id uuid.UUID, from, to string) error
}

type AirportDirectory interface {
	// ResolveAirport reports false when no airport carries code.
	ResolveAirport(ctx context.Context, code string) (Airport, bool, error)
}

// Repository groups the stores the booking engine writes to. InTx runs fn
// against a repository bound to a single transaction; an error from fn
// discards every write made through it.
type Repository interface {
	TripStore
	VehicleDirectory
	InTx(ctx context.Context, fn func(Repository) error) error
}

// AirportLister enumerates the airport directory ordered by code.
type AirportLister interface {
	ListAirports(ctx context.Context) ([]Airport, error)
}

type Notifier interface {
	NotifyTripStatus(ctx context.Context, trip Trip)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
