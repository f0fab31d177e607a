package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/spaceryder/internal/trip/domain"
)

// MemoryRepository provides an in-memory implementation suitable for tests and local demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	trips    map[uuid.UUID]domain.Trip
	ships    []domain.Spaceship
	airports map[string]domain.Airport
	events   []domain.TripEvent
	nextID   int64
}

// NewMemoryRepository constructs a repository seeded with fleet.
func NewMemoryRepository(fleet Fleet) *MemoryRepository {
	m := &MemoryRepository{
		trips:    make(map[uuid.UUID]domain.Trip),
		airports: make(map[string]domain.Airport, len(fleet.Airports)),
	}
	for _, a := range fleet.Airports {
		m.airports[a.Code] = a
	}
	m.ships = append(m.ships, fleet.Spaceships...)
	return m
}

// CreateTrip stores the trip and returns it.
func (m *MemoryRepository) CreateTrip(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.trips[trip.ID]; exists {
		return domain.Trip{}, fmt.Errorf("trip %s already exists", trip.ID)
	}
	m.trips[trip.ID] = trip
	return trip, nil
}

// TransitionTrip implements domain.TripStore.
func (m *MemoryRepository) TransitionTrip(_ context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[id]
	if !ok {
		return domain.Trip{}, domain.ErrTripNotFound
	}
	if trip.Status != from {
		return domain.Trip{}, staleStatus(id, from, trip.Status)
	}
	trip.Status = to
	m.trips[id] = trip
	return trip, nil
}

func staleStatus(id uuid.UUID, from, current domain.TripStatus) error {
	return fmt.Errorf("%w: trip %s is %s, not %s", domain.ErrInvalidTransition, id, current, from)
}

// GetTripByID retrieves a trip.
func (m *MemoryRepository) GetTripByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return domain.Trip{}, domain.ErrTripNotFound
	}
	return trip, nil
}

// PageTrips filters and orders trips by departure time, newest first.
func (m *MemoryRepository) PageTrips(_ context.Context, q domain.TripQuery) ([]domain.Trip, int, error) {
	m.mu.RLock()
	all := make([]domain.Trip, 0, len(m.trips))
	for _, trip := range m.trips {
		all = append(all, trip)
	}
	m.mu.RUnlock()
	return pageTrips(all, q), countTrips(all, q), nil
}

func matchesQuery(trip domain.Trip, q domain.TripQuery) bool {
	if q.Status != "" && trip.Status != q.Status {
		return false
	}
	if q.DepartureLocationCode != "" && trip.DepartureLocationCode != q.DepartureLocationCode {
		return false
	}
	return true
}

func countTrips(all []domain.Trip, q domain.TripQuery) int {
	n := 0
	for _, trip := range all {
		if matchesQuery(trip, q) {
			n++
		}
	}
	return n
}

func pageTrips(all []domain.Trip, q domain.TripQuery) []domain.Trip {
	filtered := make([]domain.Trip, 0, len(all))
	for _, trip := range all {
		if matchesQuery(trip, q) {
			filtered = append(filtered, trip)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if !a.DepartureAt.Equal(b.DepartureAt) {
			return a.DepartureAt.After(b.DepartureAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if q.Offset >= len(filtered) {
		return []domain.Trip{}
	}
	end := len(filtered)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return filtered[q.Offset:end]
}

// CreateTripEvent appends events to an in-memory buffer.
func (m *MemoryRepository) CreateTripEvent(_ context.Context, event domain.TripEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventLocked(event)
	return nil
}

func (m *MemoryRepository) appendEventLocked(event domain.TripEvent) {
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, event)
}

// Events returns stored events (for tests).
func (m *MemoryRepository) Events() []domain.TripEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TripEvent(nil), m.events...)
}

// FindByLocation returns docked spaceships in insertion order.
func (m *MemoryRepository) FindByLocation(_ context.Context, code string) ([]domain.Spaceship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Spaceship
	for _, ship := range m.ships {
		if ship.Location == code {
			out = append(out, ship)
		}
	}
	return out, nil
}

// Spaceships returns the whole fleet.
func (m *MemoryRepository) Spaceships() []domain.Spaceship {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Spaceship(nil), m.ships...)
}

// UpdateLocation moves a spaceship unconditionally.
func (m *MemoryRepository) UpdateLocation(_ context.Context, id uuid.UUID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.shipIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
	}
	m.ships[i].Location = code
	return nil
}

// Relocate moves a spaceship only if it is still docked at from.
func (m *MemoryRepository) Relocate(_ context.Context, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relocateLocked(id, from, to)
}

func (m *MemoryRepository) relocateLocked(id uuid.UUID, from, to string) error {
	i := m.shipIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
	}
	if m.ships[i].Location != from {
		return fmt.Errorf("%w: %s is at %s", domain.ErrVehicleMoved, m.ships[i].Code, m.ships[i].Location)
	}
	m.ships[i].Location = to
	return nil
}

func (m *MemoryRepository) shipIndexLocked(id uuid.UUID) int {
	for i := range m.ships {
		if m.ships[i].ID == id {
			return i
		}
	}
	return -1
}

// ResolveAirport implements domain.AirportDirectory.
func (m *MemoryRepository) ResolveAirport(_ context.Context, code string) (domain.Airport, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.airports[code]
	return a, ok, nil
}

// ListAirports implements domain.AirportLister.
func (m *MemoryRepository) ListAirports(context.Context) ([]domain.Airport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Airport, 0, len(m.airports))
	for _, a := range m.airports {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// InTx stages writes made through the repository passed to fn and applies
// them atomically when fn succeeds. Relocations and status transitions are
// re-checked on commit, so a spaceship moved or a trip transitioned by a
// concurrent writer fails the whole transaction.
func (m *MemoryRepository) InTx(ctx context.Context, fn func(domain.Repository) error) error {
	tx := &memoryTx{
		parent:  m,
		trips:   make(map[uuid.UUID]domain.Trip),
		created: make(map[uuid.UUID]bool),
		expect:  make(map[uuid.UUID]domain.TripStatus),
		moves:   make(map[uuid.UUID]move),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type move struct {
	from, to string
}

type memoryTx struct {
	parent  *MemoryRepository
	trips   map[uuid.UUID]domain.Trip
	created map[uuid.UUID]bool
	expect  map[uuid.UUID]domain.TripStatus
	moves   map[uuid.UUID]move
	events  []domain.TripEvent
}

func (t *memoryTx) CreateTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	if _, err := t.GetTripByID(ctx, trip.ID); err == nil {
		return domain.Trip{}, fmt.Errorf("trip %s already exists", trip.ID)
	}
	t.trips[trip.ID] = trip
	t.created[trip.ID] = true
	return trip, nil
}

func (t *memoryTx) TransitionTrip(ctx context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error) {
	trip, err := t.GetTripByID(ctx, id)
	if err != nil {
		return domain.Trip{}, err
	}
	if trip.Status != from {
		return domain.Trip{}, staleStatus(id, from, trip.Status)
	}
	if _, staged := t.expect[id]; !staged && !t.created[id] {
		t.expect[id] = from
	}
	trip.Status = to
	t.trips[id] = trip
	return trip, nil
}

func (t *memoryTx) GetTripByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	if trip, ok := t.trips[id]; ok {
		return trip, nil
	}
	return t.parent.GetTripByID(ctx, id)
}

func (t *memoryTx) PageTrips(_ context.Context, q domain.TripQuery) ([]domain.Trip, int, error) {
	t.parent.mu.RLock()
	merged := make(map[uuid.UUID]domain.Trip, len(t.parent.trips)+len(t.trips))
	for id, trip := range t.parent.trips {
		merged[id] = trip
	}
	t.parent.mu.RUnlock()
	for id, trip := range t.trips {
		merged[id] = trip
	}
	all := make([]domain.Trip, 0, len(merged))
	for _, trip := range merged {
		all = append(all, trip)
	}
	return pageTrips(all, q), countTrips(all, q), nil
}

func (t *memoryTx) CreateTripEvent(_ context.Context, event domain.TripEvent) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memoryTx) FindByLocation(ctx context.Context, code string) ([]domain.Spaceship, error) {
	ships := t.parent.Spaceships()
	var out []domain.Spaceship
	for _, ship := range ships {
		if mv, ok := t.moves[ship.ID]; ok {
			ship.Location = mv.to
		}
		if ship.Location == code {
			out = append(out, ship)
		}
	}
	return out, nil
}

func (t *memoryTx) currentLocation(id uuid.UUID) (string, bool) {
	if mv, ok := t.moves[id]; ok {
		return mv.to, true
	}
	t.parent.mu.RLock()
	defer t.parent.mu.RUnlock()
	i := t.parent.shipIndexLocked(id)
	if i < 0 {
		return "", false
	}
	return t.parent.ships[i].Location, true
}

func (t *memoryTx) UpdateLocation(_ context.Context, id uuid.UUID, code string) error {
	current, ok := t.currentLocation(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
	}
	return t.stageMove(id, current, code)
}

func (t *memoryTx) Relocate(_ context.Context, id uuid.UUID, from, to string) error {
	current, ok := t.currentLocation(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
	}
	if current != from {
		return fmt.Errorf("%w: %s is at %s", domain.ErrVehicleMoved, id, current)
	}
	return t.stageMove(id, from, to)
}

func (t *memoryTx) stageMove(id uuid.UUID, from, to string) error {
	if prev, ok := t.moves[id]; ok {
		from = prev.from
	}
	t.moves[id] = move{from: from, to: to}
	return nil
}

func (t *memoryTx) InTx(_ context.Context, fn func(domain.Repository) error) error {
	return fn(t)
}

func (t *memoryTx) commit() error {
	m := t.parent
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mv := range t.moves {
		i := m.shipIndexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
		}
		if m.ships[i].Location != mv.from {
			return fmt.Errorf("%w: %s is at %s", domain.ErrVehicleMoved, m.ships[i].Code, m.ships[i].Location)
		}
	}
	for id := range t.trips {
		_, exists := m.trips[id]
		if t.created[id] && exists {
			return fmt.Errorf("trip %s already exists", id)
		}
		if !t.created[id] && !exists {
			return domain.ErrTripNotFound
		}
		if from, ok := t.expect[id]; ok && m.trips[id].Status != from {
			return staleStatus(id, from, m.trips[id].Status)
		}
	}
	for id, mv := range t.moves {
		m.ships[m.shipIndexLocked(id)].Location = mv.to
	}
	for id, trip := range t.trips {
		m.trips[id] = trip
	}
	for _, event := range t.events {
		m.appendEventLocked(event)
	}
	return nil
}
