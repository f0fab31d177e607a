package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/geo"
	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/matching"
)

// Service is the booking engine. It coordinates airport lookup, spaceship
// selection, route timing, persistence and notification for every trip
// use case.
type Service struct {
	repo     domain.Repository
	airports domain.AirportDirectory
	resolver *matching.Resolver
	geo      geo.Calculator
	notifier domain.Notifier
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock used for event timestamps.
func WithClock(c domain.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCalculator sets the route calculator.
func WithCalculator(c geo.Calculator) Option {
	return func(s *Service) { s.geo = c }
}

// New constructs a Service with the required collaborators. A nil notifier
// drops notifications.
func New(repo domain.Repository, airports domain.AirportDirectory, resolver *matching.Resolver, notifier domain.Notifier, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		airports: airports,
		resolver: resolver,
		geo:      geo.NewCalculator(geo.DefaultCruiseSpeedKMH),
		notifier: notifier,
		clock:    domain.SystemClock{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("trip.booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTripRequest contains the request payload for creating a trip.
type CreateTripRequest struct {
	DepartureLocationCode   string `json:"departure_location_code"`
	DestinationLocationCode string `json:"destination_location_code"`
	DepartureAt             string `json:"departure_at"`
}

// Normalized trims every field and upper-cases the location codes.
func (r CreateTripRequest) Normalized() CreateTripRequest {
	return CreateTripRequest{
		DepartureLocationCode:   strings.ToUpper(strings.TrimSpace(r.DepartureLocationCode)),
		DestinationLocationCode: strings.ToUpper(strings.TrimSpace(r.DestinationLocationCode)),
		DepartureAt:             strings.TrimSpace(r.DepartureAt),
	}
}

// Validate checks required fields of the normalized request and parses the
// RFC 3339 departure time.
func (r CreateTripRequest) Validate() (time.Time, error) {
	r = r.Normalized()
	var missing []string
	if r.DepartureLocationCode == "" {
		missing = append(missing, "departure_location_code")
	}
	if r.DestinationLocationCode == "" {
		missing = append(missing, "destination_location_code")
	}
	if r.DepartureAt == "" {
		missing = append(missing, "departure_at")
	}
	if len(missing) > 0 {
		return time.Time{}, fmt.Errorf("%w: missing %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	at, err := time.Parse(time.RFC3339Nano, r.DepartureAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: departure_at must be an RFC 3339 timestamp", domain.ErrInvalidInput)
	}
	return at.UTC(), nil
}

// CreateTrip books the first spaceship docked at the departure airport and
// moves it to the destination. The trip, the relocation and the trip event
// are written in one transaction while the departure location is held.
func (s *Service) CreateTrip(ctx context.Context, req CreateTripRequest) (domain.Trip, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create_trip", trace.WithAttributes(
		attribute.String("trip.departure", req.DepartureLocationCode),
		attribute.String("trip.destination", req.DestinationLocationCode),
	))
	defer span.End()

	trip, err := s.createTrip(ctx, req)
	recordBooking(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Trip{}, err
	}
	span.SetAttributes(attribute.String("trip.id", trip.ID.String()))
	return trip, nil
}

func (s *Service) createTrip(ctx context.Context, req CreateTripRequest) (domain.Trip, error) {
	req = req.Normalized()
	departureAt, err := req.Validate()
	if err != nil {
		return domain.Trip{}, err
	}

	from, err := s.resolveAirport(ctx, req.DepartureLocationCode)
	if err != nil {
		return domain.Trip{}, err
	}
	to, err := s.resolveAirport(ctx, req.DestinationLocationCode)
	if err != nil {
		return domain.Trip{}, err
	}

	hold, err := s.resolver.Hold(ctx, from.Code, departureAt)
	if err != nil {
		return domain.Trip{}, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if rerr := hold.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release departure location", zap.String("location", from.Code), zap.Error(rerr))
		}
	}
	defer release()
	if len(hold.Vehicles) == 0 {
		return domain.Trip{}, fmt.Errorf("%w at %s", domain.ErrNoVehicleAvailable, from.Code)
	}
	ship := hold.Vehicles[0]

	km := s.geo.Distance(from.Location.Lat, from.Location.Lng, to.Location.Lat, to.Location.Lng)
	if math.IsNaN(km) {
		return domain.Trip{}, fmt.Errorf("%w: invalid coordinates for %s or %s", domain.ErrInvalidInput, from.Code, to.Code)
	}
	arrivalAt := departureAt.Add(s.geo.TravelTime(km))
	if !arrivalAt.After(departureAt) {
		return domain.Trip{}, fmt.Errorf("%w: departure and destination must be distinct locations", domain.ErrInvalidInput)
	}

	trip := domain.Trip{
		ID:                      uuid.New(),
		DepartureLocationCode:   from.Code,
		DestinationLocationCode: to.Code,
		DepartureAt:             departureAt,
		ArrivalAt:               arrivalAt,
		SpaceshipID:             ship.ID,
		Status:                  domain.StatusScheduled,
	}

	var created domain.Trip
	err = s.repo.InTx(ctx, func(tx domain.Repository) error {
		var err error
		if created, err = tx.CreateTrip(ctx, trip); err != nil {
			return fmt.Errorf("create trip: %w", err)
		}
		if err := tx.Relocate(ctx, ship.ID, from.Code, to.Code); err != nil {
			return fmt.Errorf("relocate spaceship %s: %w", ship.Code, err)
		}
		return s.recordEvent(ctx, tx, created)
	})
	if err != nil {
		return domain.Trip{}, err
	}
	// Observers run after the location is free again.
	release()

	s.logger.Info("trip scheduled",
		zap.String("trip_id", created.ID.String()),
		zap.String("spaceship", ship.Code),
		zap.String("from", from.Code),
		zap.String("to", to.Code),
		zap.Float64("distance_km", km),
	)
	s.notify(ctx, created)
	return created, nil
}

func (s *Service) resolveAirport(ctx context.Context, code string) (domain.Airport, error) {
	airport, ok, err := s.airports.ResolveAirport(ctx, code)
	if err != nil {
		return domain.Airport{}, fmt.Errorf("resolve airport %s: %w", code, err)
	}
	if !ok {
		return domain.Airport{}, fmt.Errorf("%w: %s", domain.ErrUnknownLocation, code)
	}
	return airport, nil
}

// CancelTrip cancels a scheduled trip. The spaceship stays at the
// destination it was moved to when the trip was booked.
func (s *Service) CancelTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return s.transition(ctx, id, domain.TriggerCancel)
}

// StartTrip marks a scheduled trip as departed.
func (s *Service) StartTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return s.transition(ctx, id, domain.TriggerDepart)
}

// CompleteTrip marks an in-progress trip as arrived.
func (s *Service) CompleteTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return s.transition(ctx, id, domain.TriggerArrive)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, trigger domain.Trigger) (domain.Trip, error) {
	ctx, span := s.tracer.Start(ctx, "booking.transition", trace.WithAttributes(
		attribute.String("trip.id", id.String()),
		attribute.String("trip.trigger", string(trigger)),
	))
	defer span.End()

	var updated domain.Trip
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		trip, err := tx.GetTripByID(ctx, id)
		if err != nil {
			return err
		}
		next, err := trip.Status.Apply(trigger)
		if err != nil {
			return err
		}
		if updated, err = tx.TransitionTrip(ctx, id, trip.Status, next); err != nil {
			return fmt.Errorf("save trip: %w", err)
		}
		return s.recordEvent(ctx, tx, updated)
	})
	recordTransition(trigger, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Trip{}, err
	}

	s.logger.Info("trip status changed",
		zap.String("trip_id", updated.ID.String()),
		zap.String("trigger", string(trigger)),
		zap.String("status", string(updated.Status)),
	)
	s.notify(ctx, updated)
	return updated, nil
}

func (s *Service) recordEvent(ctx context.Context, tx domain.Repository, trip domain.Trip) error {
	event := domain.TripEvent{
		TripID:    trip.ID,
		Type:      domain.EventTypeFor(trip.Status),
		Trip:      trip,
		CreatedAt: s.clock.Now(),
	}
	if err := tx.CreateTripEvent(ctx, event); err != nil {
		return fmt.Errorf("record trip event: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, trip domain.Trip) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyTripStatus(ctx, trip)
}

// GetTripStatus retrieves a trip by identifier.
func (s *Service) GetTripStatus(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	trip, err := s.repo.GetTripByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTripNotFound) {
			return domain.Trip{}, fmt.Errorf("%w: %s", domain.ErrTripNotFound, id)
		}
		return domain.Trip{}, fmt.Errorf("get trip: %w", err)
	}
	return trip, nil
}

// ListFilter narrows ListTrips. Zero values match every trip.
type ListFilter struct {
	Status                domain.TripStatus
	DepartureLocationCode string
}

// ListTrips returns one page of trips ordered by departure time, newest
// first, with the total number of trips matching filter.
func (s *Service) ListTrips(ctx context.Context, page domain.PageRequest, filter ListFilter) (domain.TripPage, error) {
	page, err := page.Validate()
	if err != nil {
		return domain.TripPage{}, err
	}
	trips, total, err := s.repo.PageTrips(ctx, domain.TripQuery{
		Offset:                page.Offset(),
		Limit:                 page.Limit,
		Status:                filter.Status,
		DepartureLocationCode: filter.DepartureLocationCode,
	})
	if err != nil {
		return domain.TripPage{}, fmt.Errorf("page trips: %w", err)
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	return domain.TripPage{Trips: trips, Total: total, Page: page.Page, Limit: page.Limit}, nil
}
